package repository

import (
	"gorm.io/gorm"

	"github.com/mersvpn/mersyar/internal/models"
)

// PanelRepository handles panel credential database operations.
type PanelRepository struct {
	db *gorm.DB
}

func NewPanelRepository(db *gorm.DB) *PanelRepository {
	return &PanelRepository{db: db}
}

// FindAll returns all stored panels ordered by name.
func (r *PanelRepository) FindAll() ([]models.Panel, error) {
	var panels []models.Panel
	err := r.db.Order("name ASC").Find(&panels).Error
	return panels, err
}

// FindByID returns a panel by ID.
func (r *PanelRepository) FindByID(id uint) (*models.Panel, error) {
	var panel models.Panel
	if err := r.db.Where("id = ?", id).First(&panel).Error; err != nil {
		return nil, err
	}
	return &panel, nil
}

// FindByName returns a panel by its unique name.
func (r *PanelRepository) FindByName(name string) (*models.Panel, error) {
	var panel models.Panel
	if err := r.db.Where("name = ?", name).First(&panel).Error; err != nil {
		return nil, err
	}
	return &panel, nil
}

// Create inserts a new panel credential.
func (r *PanelRepository) Create(panel *models.Panel) error {
	return r.db.Create(panel).Error
}

// Update saves changed panel fields.
func (r *PanelRepository) Update(panel *models.Panel) error {
	return r.db.Save(panel).Error
}

// Delete removes a panel credential row.
func (r *PanelRepository) Delete(id uint) error {
	return r.db.Delete(&models.Panel{}, id).Error
}

// SetTestFlag marks or unmarks a panel as the test-account panel.
func (r *PanelRepository) SetTestFlag(id uint, isTest bool) error {
	return r.db.Model(&models.Panel{}).Where("id = ?", id).Update("is_test_panel", isTest).Error
}
