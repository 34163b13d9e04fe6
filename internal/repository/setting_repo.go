package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/mersvpn/mersyar/internal/models"
)

// SettingRepository handles the single operational settings row.
type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// GetSettings returns the settings row, creating it with defaults on
// first access.
func (r *SettingRepository) GetSettings() (*models.Settings, error) {
	var settings models.Settings
	err := r.db.First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = models.Settings{}
		if cErr := r.db.Create(&settings).Error; cErr != nil {
			return nil, cErr
		}
		return r.GetSettings()
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings saves the settings row.
func (r *SettingRepository) UpdateSettings(settings *models.Settings) error {
	return r.db.Save(settings).Error
}
