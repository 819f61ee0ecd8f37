// Package challenge persists outstanding WebAuthn ceremony sessions and
// enforces exactly-once redemption of each one.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/oakhost/selfcheckin/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound reports a handle that does not exist or was already redeemed.
	ErrNotFound = errors.New("challenge: not found or already consumed")
	// ErrExpired reports a handle past its validity window.
	ErrExpired = errors.New("challenge: expired")
)

// Store issues and redeems one-time ceremony sessions.
type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore constructs a Store with the given validity window.
func NewStore(db *gorm.DB, ttl time.Duration) *Store {
	return &Store{db: db, ttl: ttl, now: time.Now}
}

// Issue persists a fresh ceremony session and returns its opaque handle. The
// challenge bytes travel inside the session data, already embedded in the
// ceremony options handed to the client.
func (s *Store) Issue(ctx context.Context, kind, reservationID string, session *webauthn.SessionData) (string, error) {
	if session == nil {
		return "", fmt.Errorf("challenge: nil session data")
	}
	payload, errMarshal := json.Marshal(session)
	if errMarshal != nil {
		return "", fmt.Errorf("challenge: encode session: %w", errMarshal)
	}

	handle, errHandle := newHandle()
	if errHandle != nil {
		return "", errHandle
	}

	now := s.now().UTC()
	row := models.CeremonySession{
		ID:            handle,
		Kind:          kind,
		ReservationID: reservationID,
		SessionJSON:   payload,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if errCreate := s.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return "", fmt.Errorf("challenge: persist session: %w", errCreate)
	}
	return handle, nil
}

// Redeem atomically consumes the session for handle and returns its data. The
// conditional update guarantees a single winner when concurrent callers race
// on the same handle; every loser observes ErrNotFound. Redemption happens
// before any response verification, so a failed ceremony still burns its
// challenge. The row is loaded before the consume so a purge deleting the
// just-consumed row cannot fail the winning redemption.
func (s *Store) Redeem(ctx context.Context, handle, kind string) (*webauthn.SessionData, string, error) {
	now := s.now().UTC()

	var row models.CeremonySession
	errFind := s.db.WithContext(ctx).First(&row, "id = ? AND kind = ?", handle, kind).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, "", ErrNotFound
	}
	if errFind != nil {
		return nil, "", fmt.Errorf("challenge: load session: %w", errFind)
	}

	res := s.db.WithContext(ctx).
		Model(&models.CeremonySession{}).
		Where("id = ? AND kind = ? AND consumed_at IS NULL AND expires_at > ?", handle, kind, now).
		Update("consumed_at", now)
	if res.Error != nil {
		return nil, "", fmt.Errorf("challenge: redeem: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if row.ConsumedAt == nil && !row.ExpiresAt.After(now) {
			return nil, "", ErrExpired
		}
		return nil, "", ErrNotFound
	}

	var session webauthn.SessionData
	if errDecode := json.Unmarshal(row.SessionJSON, &session); errDecode != nil {
		return nil, "", fmt.Errorf("challenge: decode session: %w", errDecode)
	}
	return &session, row.ReservationID, nil
}

// PurgeStale deletes consumed and expired sessions. Correctness does not
// depend on it; redemption rejects stale entries synchronously.
func (s *Store) PurgeStale(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("consumed_at IS NOT NULL OR expires_at <= ?", s.now().UTC()).
		Delete(&models.CeremonySession{})
	if res.Error != nil {
		return 0, fmt.Errorf("challenge: purge stale: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// handleBytes sizes the random ceremony handle.
const handleBytes = 16

func newHandle() (string, error) {
	buf := make([]byte, handleBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("challenge: generate handle: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
