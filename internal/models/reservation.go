package models

import "time"

// Reservation represents a stay that a guest checks into. Its ID doubles as the
// WebAuthn user handle, so discoverable credentials resolve back to the stay.
type Reservation struct {
	ID string `gorm:"type:text;primaryKey"` // Opaque unique id, also the WebAuthn user handle.

	GuestName    string `gorm:"type:text"` // Guest display name, empty until submitted.
	GuestAddress string `gorm:"type:text"` // Guest postal address, empty until submitted.
	GuestContact string `gorm:"type:text"` // Guest phone or email, empty until submitted.

	GuestInfoSubmitted bool `gorm:"not null;default:false"` // Whether the guest submitted their details.

	SecretCode string `gorm:"type:text;not null"` // Second-factor code, generated once at creation.
	DoorPIN    string `gorm:"column:door_pin;type:text;not null"` // Unlock code disclosed only after check-in.

	CheckedIn   bool       `gorm:"not null;default:false"` // Whether check-in completed.
	CheckedInAt *time.Time // When check-in completed.

	Credential *PasskeyCredential `gorm:"foreignKey:ReservationID"` // Bound passkey, at most one.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName sets the reservations table name.
func (Reservation) TableName() string { return "reservations" }
