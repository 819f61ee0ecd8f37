package models

import "time"

// Admin represents an operator account for the management API.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Password string `gorm:"type:text;not null"`             // Bcrypt password hash.

	TOTPSecret string `gorm:"type:text"`             // TOTP secret, empty when MFA is off.
	Active     bool   `gorm:"not null;default:true"` // Whether the admin can sign in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// TableName sets the admins table name.
func (Admin) TableName() string { return "admins" }
