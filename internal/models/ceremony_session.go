package models

import "time"

// Ceremony kinds stored with a session.
const (
	// CeremonyRegistration marks a passkey registration ceremony.
	CeremonyRegistration = "registration"
	// CeremonyAuthentication marks a passkey authentication ceremony.
	CeremonyAuthentication = "authentication"
)

// CeremonySession is an outstanding WebAuthn ceremony: the server-held
// challenge plus the session data needed to verify the client response.
// Each session is redeemable exactly once.
type CeremonySession struct {
	ID string `gorm:"type:text;primaryKey"` // Random handle returned to the client.

	Kind          string `gorm:"type:text;not null"` // CeremonyRegistration or CeremonyAuthentication.
	ReservationID string `gorm:"type:text"`          // Owning reservation, empty for discoverable logins.

	SessionJSON []byte `gorm:"type:bytea;not null"` // Serialized webauthn.SessionData, carries the challenge.

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Issue timestamp.
	ExpiresAt  time.Time  `gorm:"not null;index"`          // Validity deadline.
	ConsumedAt *time.Time // Set when redeemed; null means still live.
}

// TableName sets the ceremony sessions table name.
func (CeremonySession) TableName() string { return "ceremony_sessions" }
