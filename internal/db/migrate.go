package db

import (
	"fmt"

	"github.com/oakhost/selfcheckin/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Reservation{},
		&models.PasskeyCredential{},
		&models.CeremonySession{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: auto-migrate: %w", errAutoMigrate)
	}
	return nil
}
