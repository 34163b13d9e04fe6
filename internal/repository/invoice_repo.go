package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mersvpn/mersyar/internal/models"
)

// InvoiceRepository handles invoice database operations.
type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Create inserts a new invoice. The ID is filled in by the database.
func (r *InvoiceRepository) Create(invoice *models.Invoice) error {
	return r.db.Create(invoice).Error
}

// FindByID returns an invoice by ID.
func (r *InvoiceRepository) FindByID(id uint) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.Where("id = ?", id).First(&invoice).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindAll returns invoices with pagination, newest first, optionally
// filtered by status.
func (r *InvoiceRepository) FindAll(limit, page int, status string) ([]models.Invoice, int64, error) {
	var invoices []models.Invoice
	var total int64

	db := r.db.Model(&models.Invoice{})
	if status != "" {
		db = db.Where("status = ?", status)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	if err := db.Limit(limit).Offset(offset).Order("created_at DESC").Find(&invoices).Error; err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

// FindByTelegramID returns all invoices for a customer, newest first.
func (r *InvoiceRepository) FindByTelegramID(telegramID int64) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("telegram_id = ?", telegramID).Order("created_at DESC").Find(&invoices).Error
	return invoices, err
}

// FindPendingOlderThan returns pending invoices created before the cutoff.
func (r *InvoiceRepository) FindPendingOlderThan(cutoff time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("status = ? AND created_at < ?", models.InvoiceStatusPending, cutoff).Find(&invoices).Error
	return invoices, err
}

// Transition moves an invoice out of pending into the given terminal
// status. The guard on the current status makes the transition win at
// most once: a second caller sees zero affected rows and false.
func (r *InvoiceRepository) Transition(id uint, to string) (bool, error) {
	res := r.db.Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, models.InvoiceStatusPending).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetStatus writes a status unconditionally. Only the caller that won
// the Transition claim may use it, to unwind a claim whose fulfillment
// failed.
func (r *InvoiceRepository) SetStatus(id uint, to string) error {
	return r.db.Model(&models.Invoice{}).Where("id = ?", id).Update("status", to).Error
}

// SetPaymentRef records the external payment reference on an invoice.
func (r *InvoiceRepository) SetPaymentRef(id uint, ref string) error {
	return r.db.Model(&models.Invoice{}).Where("id = ?", id).Update("payment_ref", ref).Error
}
