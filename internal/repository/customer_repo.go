package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mersvpn/mersyar/internal/models"
)

// CustomerRepository handles customer and wallet database operations.
type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// FindByTelegramID returns a customer by Telegram ID.
func (r *CustomerRepository) FindByTelegramID(telegramID int64) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.Where("telegram_id = ?", telegramID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindOrCreate returns the customer, creating the row on first contact.
func (r *CustomerRepository) FindOrCreate(telegramID int64, firstName string) (*models.Customer, error) {
	customer := models.Customer{TelegramID: telegramID, FirstName: firstName}
	err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&customer).Error
	if err != nil {
		return nil, err
	}
	return r.FindByTelegramID(telegramID)
}

// FindAll returns all customers.
func (r *CustomerRepository) FindAll() ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.Find(&customers).Error
	return customers, err
}

// IncreaseBalance adds amount to the customer's wallet.
func (r *CustomerRepository) IncreaseBalance(telegramID int64, amount int64) error {
	return r.db.Model(&models.Customer{}).
		Where("telegram_id = ?", telegramID).
		Update("wallet_balance", gorm.Expr("wallet_balance + ?", amount)).Error
}

// DecreaseBalance subtracts amount from the wallet if funds cover it.
// The balance guard runs inside the UPDATE, so concurrent debits cannot
// take the wallet below zero; false means insufficient funds.
func (r *CustomerRepository) DecreaseBalance(telegramID int64, amount int64) (bool, error) {
	res := r.db.Model(&models.Customer{}).
		Where("telegram_id = ? AND wallet_balance >= ?", telegramID, amount).
		Update("wallet_balance", gorm.Expr("wallet_balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
