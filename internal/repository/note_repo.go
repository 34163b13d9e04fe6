package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mersvpn/mersyar/internal/models"
)

// NoteRepository handles subscription plan notes.
type NoteRepository struct {
	db *gorm.DB
}

func NewNoteRepository(db *gorm.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Upsert inserts or replaces the plan note for a username.
func (r *NoteRepository) Upsert(note *models.SubscriptionNote) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		UpdateAll: true,
	}).Create(note).Error
}

// FindByUsername returns the plan note for a username.
func (r *NoteRepository) FindByUsername(username string) (*models.SubscriptionNote, error) {
	var note models.SubscriptionNote
	if err := r.db.Where("username = ?", username).First(&note).Error; err != nil {
		return nil, err
	}
	return &note, nil
}

// FindTestAccounts returns all notes flagged as test accounts.
func (r *NoteRepository) FindTestAccounts() ([]models.SubscriptionNote, error) {
	var notes []models.SubscriptionNote
	err := r.db.Where("is_test_account = ?", true).Find(&notes).Error
	return notes, err
}

// Delete removes the plan note for a username.
func (r *NoteRepository) Delete(username string) error {
	return r.db.Where("username = ?", username).Delete(&models.SubscriptionNote{}).Error
}
