package models

import (
	"time"

	"gorm.io/datatypes"
)

// PasskeyCredential represents one registered passkey. A reservation owns at
// most one credential and a credential id is unique across all reservations,
// because discoverable logins look credentials up by id alone.
type PasskeyCredential struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ReservationID string `gorm:"type:text;not null;uniqueIndex"` // Owning reservation, 1:1.
	CredentialID  string `gorm:"type:text;not null;uniqueIndex"` // Authenticator-chosen id, base64url.

	PublicKey []byte `gorm:"type:bytea;not null"` // COSE public key bytes.
	SignCount uint32 `gorm:"not null;default:0"`  // Signature counter, may stay 0.

	Transports     datatypes.JSON `gorm:"type:text"`              // Authenticator transports reported at registration.
	BackupEligible bool           `gorm:"not null;default:false"` // WebAuthn backup eligibility flag.
	BackupState    bool           `gorm:"not null;default:false"` // WebAuthn backup state flag.

	CreatedAt  time.Time  `gorm:"not null;autoCreateTime"` // Registration timestamp.
	LastUsedAt *time.Time // Last successful authentication.
}

// TableName sets the passkey credentials table name.
func (PasskeyCredential) TableName() string { return "passkey_credentials" }
