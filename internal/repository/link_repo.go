package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mersvpn/mersyar/internal/models"
)

// LinkRepository handles the username-to-panel ownership records.
type LinkRepository struct {
	db *gorm.DB
}

func NewLinkRepository(db *gorm.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

// Upsert inserts or replaces the ownership record for a username.
func (r *LinkRepository) Upsert(link *models.ManagedUser) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		UpdateAll: true,
	}).Create(link).Error
}

// FindByUsername returns the ownership record for a username.
func (r *LinkRepository) FindByUsername(username string) (*models.ManagedUser, error) {
	var link models.ManagedUser
	if err := r.db.Where("username = ?", username).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// FindByPanel returns all usernames owned by a panel.
func (r *LinkRepository) FindByPanel(panelID uint) ([]models.ManagedUser, error) {
	var links []models.ManagedUser
	err := r.db.Where("panel_id = ?", panelID).Find(&links).Error
	return links, err
}

// FindByTelegramID returns all usernames linked to a customer.
func (r *LinkRepository) FindByTelegramID(telegramID int64) ([]models.ManagedUser, error) {
	var links []models.ManagedUser
	err := r.db.Where("telegram_id = ?", telegramID).Find(&links).Error
	return links, err
}

// FindAutoRenew returns all usernames flagged for automatic renewal.
func (r *LinkRepository) FindAutoRenew() ([]models.ManagedUser, error) {
	var links []models.ManagedUser
	err := r.db.Where("auto_renew = ?", true).Find(&links).Error
	return links, err
}

// SetPanel repoints a username at another panel.
func (r *LinkRepository) SetPanel(username string, panelID uint) error {
	return r.db.Model(&models.ManagedUser{}).Where("username = ?", username).Update("panel_id", panelID).Error
}

// MigratePanel repoints every username on one panel to another,
// returning how many rows moved.
func (r *LinkRepository) MigratePanel(fromPanelID, toPanelID uint) (int64, error) {
	res := r.db.Model(&models.ManagedUser{}).
		Where("panel_id = ?", fromPanelID).
		Update("panel_id", toPanelID)
	return res.RowsAffected, res.Error
}

// SetAutoRenew flips the auto-renew flag for a username.
func (r *LinkRepository) SetAutoRenew(username string, enabled bool) error {
	return r.db.Model(&models.ManagedUser{}).Where("username = ?", username).Update("auto_renew", enabled).Error
}

// Delete removes the ownership record for a username.
func (r *LinkRepository) Delete(username string) error {
	return r.db.Where("username = ?", username).Delete(&models.ManagedUser{}).Error
}
