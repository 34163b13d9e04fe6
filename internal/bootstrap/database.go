package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mersvpn/mersyar/internal/models"
)

// MigrateAndSeed ensures required tables exist and inserts baseline rows for singleton tables.
func MigrateAndSeed(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := seedDefaults(db); err != nil {
		return fmt.Errorf("seed defaults failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Panel{},
		&models.ManagedUser{},
		&models.SubscriptionNote{},
		&models.Customer{},
		&models.Invoice{},
		&models.Settings{},
	}
}

func seedDefaults(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Settings{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		row := models.Settings{
			ReminderTime:   "09:00",
			ReminderDays:   3,
			ReminderDataGB: 1,
		}
		return tx.Create(&row).Error
	})
}
