// Package registry persists passkey credentials and enforces the binding
// rules between reservations and credentials.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oakhost/selfcheckin/internal/db"
	"github.com/oakhost/selfcheckin/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyBound reports a reservation that already owns a credential.
	ErrAlreadyBound = errors.New("registry: reservation already has a credential")
	// ErrDuplicateCredential reports a credential id registered elsewhere.
	ErrDuplicateCredential = errors.New("registry: credential id already registered")
	// ErrNotFound reports an unknown credential id.
	ErrNotFound = errors.New("registry: credential not found")
	// ErrCounterRegression reports a signature counter that failed to advance.
	// Security-significant: a regressing counter suggests a cloned credential.
	ErrCounterRegression = errors.New("registry: signature counter regression")
)

// Registry stores passkey credentials with a 1:1 reservation binding.
type Registry struct {
	db *gorm.DB
}

// New constructs a Registry.
func New(conn *gorm.DB) *Registry {
	return &Registry{db: conn}
}

// Register binds a freshly verified credential to a reservation. The unique
// indexes on reservation id and credential id are the authority under
// concurrent double-submits; the pre-checks only pick the right error for the
// common sequential case.
func (r *Registry) Register(ctx context.Context, reservationID, credentialID string, publicKey []byte, initialCounter uint32, transports []string, backupEligible, backupState bool) error {
	tx := r.db.WithContext(ctx)

	var count int64
	if errCount := tx.Model(&models.PasskeyCredential{}).Where("reservation_id = ?", reservationID).Count(&count).Error; errCount != nil {
		return fmt.Errorf("registry: check reservation binding: %w", errCount)
	}
	if count > 0 {
		return ErrAlreadyBound
	}
	if errCount := tx.Model(&models.PasskeyCredential{}).Where("credential_id = ?", credentialID).Count(&count).Error; errCount != nil {
		return fmt.Errorf("registry: check credential id: %w", errCount)
	}
	if count > 0 {
		return ErrDuplicateCredential
	}

	var transportsJSON datatypes.JSON
	if len(transports) > 0 {
		encoded, errEncode := json.Marshal(transports)
		if errEncode != nil {
			return fmt.Errorf("registry: encode transports: %w", errEncode)
		}
		transportsJSON = datatypes.JSON(encoded)
	}

	row := models.PasskeyCredential{
		ReservationID:  reservationID,
		CredentialID:   credentialID,
		PublicKey:      publicKey,
		SignCount:      initialCounter,
		Transports:     transportsJSON,
		BackupEligible: backupEligible,
		BackupState:    backupState,
	}
	if errCreate := tx.Create(&row).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return r.classifyUniqueViolation(ctx, reservationID)
		}
		return fmt.Errorf("registry: create credential: %w", errCreate)
	}
	return nil
}

// classifyUniqueViolation decides which uniqueness rule a racing insert hit.
func (r *Registry) classifyUniqueViolation(ctx context.Context, reservationID string) error {
	var count int64
	if errCount := r.db.WithContext(ctx).Model(&models.PasskeyCredential{}).Where("reservation_id = ?", reservationID).Count(&count).Error; errCount == nil && count > 0 {
		return ErrAlreadyBound
	}
	return ErrDuplicateCredential
}

// FindByCredentialID resolves a credential by its authenticator-chosen id.
// Discoverable logins present no reservation id, so this lookup is the only
// path from an assertion back to the owning reservation.
func (r *Registry) FindByCredentialID(ctx context.Context, credentialID string) (*models.PasskeyCredential, error) {
	var row models.PasskeyCredential
	errFind := r.db.WithContext(ctx).First(&row, "credential_id = ?", credentialID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("registry: find credential: %w", errFind)
	}
	return &row, nil
}

// FindByReservation returns the credential bound to a reservation, if any.
func (r *Registry) FindByReservation(ctx context.Context, reservationID string) (*models.PasskeyCredential, error) {
	var row models.PasskeyCredential
	errFind := r.db.WithContext(ctx).First(&row, "reservation_id = ?", reservationID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if errFind != nil {
		return nil, fmt.Errorf("registry: find credential by reservation: %w", errFind)
	}
	return &row, nil
}

// UpdateCounter records the counter reported by a successful assertion. A
// stored nonzero counter must strictly advance; authenticators that always
// report 0 are exempt. That exemption is a deliberate relaxation for platform
// authenticators without counters and weakens clone detection for them.
// The conditional update keeps the check-and-set atomic under concurrency.
func (r *Registry) UpdateCounter(ctx context.Context, credentialID string, newCounter uint32) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.PasskeyCredential{}).
		Where("credential_id = ? AND (sign_count = 0 OR sign_count < ?)", credentialID, newCounter).
		Updates(map[string]any{"sign_count": newCounter, "last_used_at": now})
	if res.Error != nil {
		return fmt.Errorf("registry: update counter: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var row models.PasskeyCredential
	errFind := r.db.WithContext(ctx).First(&row, "credential_id = ?", credentialID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errFind != nil {
		return fmt.Errorf("registry: load credential after counter miss: %w", errFind)
	}
	return ErrCounterRegression
}
