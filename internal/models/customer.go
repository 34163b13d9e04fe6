package models

// Customer maps to the `customers` table. The wallet balance is in whole
// tomans and is only ever mutated through the repository's atomic
// increase/decrease operations; a decrease that would push it negative is
// rejected with no partial effect.
type Customer struct {
	TelegramID    int64  `gorm:"column:telegram_id;primaryKey" json:"telegram_id"`
	FirstName     string `gorm:"column:first_name;size:300" json:"first_name"`
	WalletBalance int64  `gorm:"column:wallet_balance;default:0" json:"wallet_balance"`
}

func (Customer) TableName() string {
	return "customers"
}
