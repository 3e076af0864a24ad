package db

import (
	"fmt"

	"github.com/zulandar/relayhub/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the hub persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.ManagedBot{},
		&models.AdminGrant{},
		&models.Subscriber{},
		&models.DeliveryMapping{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
