// Package checkin drives the two-factor check-in: a passkey ceremony proves
// the registered device is present, then the guest-held secret code unlocks
// the door PIN.
package checkin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakhost/selfcheckin/internal/ceremony"
	"github.com/oakhost/selfcheckin/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrReservationNotFound reports an unknown reservation id.
	ErrReservationNotFound = errors.New("checkin: reservation not found")
	// ErrSecretCodeMismatch reports a secret code that does not match the
	// reservation. Terminal for the attempt; the guest may retry.
	ErrSecretCodeMismatch = errors.New("checkin: secret code mismatch")
	// ErrOrder reports a flow step invoked out of order.
	ErrOrder = errors.New("checkin: step out of order")
)

// State is the position of one check-in attempt.
type State int

const (
	// StateAwaitingBiometric waits for a successful passkey ceremony.
	StateAwaitingBiometric State = iota
	// StateAwaitingSecretCode waits for the guest-held secret code.
	StateAwaitingSecretCode
	// StateComplete means the door PIN has been disclosed.
	StateComplete
)

// Service completes check-ins against reservation records.
type Service struct {
	db       *gorm.DB
	verifier *ceremony.Verifier
}

// NewService constructs a Service.
func NewService(conn *gorm.DB, verifier *ceremony.Verifier) *Service {
	return &Service{db: conn, verifier: verifier}
}

// Verifier exposes the ceremony verifier backing the biometric step.
func (s *Service) Verifier() *ceremony.Verifier {
	return s.verifier
}

// NormalizeSecretCode strips delimiters and upcases, so "ab3-xy9 ab3" and
// "AB3XY9AB3" compare equal.
func NormalizeSecretCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CompleteCheckIn verifies the secret code for a reservation and returns the
// door PIN. Completion is idempotent: a reservation that is already checked
// in re-discloses its PIN on a correct code, while an incorrect code is
// always rejected. Only server-held state decides idempotence.
func (s *Service) CompleteCheckIn(ctx context.Context, reservationID, code string) (string, error) {
	var reservation models.Reservation
	errFind := s.db.WithContext(ctx).First(&reservation, "id = ?", reservationID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return "", ErrReservationNotFound
	}
	if errFind != nil {
		return "", fmt.Errorf("checkin: load reservation: %w", errFind)
	}

	presented := NormalizeSecretCode(code)
	stored := NormalizeSecretCode(reservation.SecretCode)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) != 1 {
		return "", ErrSecretCodeMismatch
	}

	if !reservation.CheckedIn {
		now := time.Now().UTC()
		res := s.db.WithContext(ctx).
			Model(&models.Reservation{}).
			Where("id = ?", reservationID).
			Updates(map[string]any{"checked_in": true, "checked_in_at": now})
		if res.Error != nil {
			return "", fmt.Errorf("checkin: mark checked in: %w", res.Error)
		}
		log.WithField("reservation", reservationID).Info("check-in completed")
	}

	// The PIN is read from the reservation and returned once per successful
	// request; nothing new is minted here.
	return reservation.DoorPIN, nil
}

// Flow is one check-in attempt. Each attempt starts at AwaitingBiometric;
// only the final checked-in flag outlives it.
type Flow struct {
	svc           *Service
	state         State
	reservationID string
}

// NewFlow starts a fresh check-in attempt.
func (s *Service) NewFlow() *Flow {
	return &Flow{svc: s, state: StateAwaitingBiometric}
}

// State returns the attempt's current position.
func (f *Flow) State() State {
	return f.state
}

// ReservationID returns the reservation resolved by the biometric step, empty
// until then.
func (f *Flow) ReservationID() string {
	return f.reservationID
}

// Authenticate runs the passkey ceremony step. On success the attempt
// advances and carries the resolved reservation id; on failure it stays at
// AwaitingBiometric and the caller may retry with a fresh challenge.
func (f *Flow) Authenticate(ctx context.Context, handle string, response []byte) (string, error) {
	if f.state != StateAwaitingBiometric {
		return "", ErrOrder
	}
	reservationID, err := f.svc.verifier.FinishAuthentication(ctx, handle, response)
	if err != nil {
		return "", err
	}
	f.reservationID = reservationID
	f.state = StateAwaitingSecretCode
	return reservationID, nil
}

// SubmitSecretCode runs the second factor and, on success, completes the
// attempt and returns the door PIN.
func (f *Flow) SubmitSecretCode(ctx context.Context, code string) (string, error) {
	if f.state != StateAwaitingSecretCode {
		return "", ErrOrder
	}
	pin, err := f.svc.CompleteCheckIn(ctx, f.reservationID, code)
	if err != nil {
		return "", err
	}
	f.state = StateComplete
	return pin, nil
}
