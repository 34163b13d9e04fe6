package models

// ManagedUser maps to the `managed_users` table. It links a username on a
// remote panel to the Telegram customer who pays for it. At most one owning
// panel is recorded per username; the link can go stale when the account is
// edited panel-side, so lookups must tolerate a wrong PanelID.
type ManagedUser struct {
	Username   string `gorm:"column:username;primaryKey;size:200" json:"username"`
	PanelID    uint   `gorm:"column:panel_id;index" json:"panel_id"`
	TelegramID int64  `gorm:"column:telegram_id;index" json:"telegram_id"`
	AutoRenew  bool   `gorm:"column:auto_renew;default:false" json:"auto_renew"`
}

func (ManagedUser) TableName() string {
	return "managed_users"
}

// SubscriptionNote maps to the `subscription_notes` table. It records the
// commercial terms of a subscription (the contract used to recompute
// renewals), never live usage counters.
type SubscriptionNote struct {
	Username      string `gorm:"column:username;primaryKey;size:200" json:"username"`
	DurationDays  int    `gorm:"column:duration_days;default:30" json:"duration_days"`
	DataLimitGB   int    `gorm:"column:data_limit_gb;default:0" json:"data_limit_gb"` // 0 = unlimited
	Price         int64  `gorm:"column:price;default:0" json:"price"`
	IsTestAccount bool   `gorm:"column:is_test_account;default:false" json:"is_test_account"`
}

func (SubscriptionNote) TableName() string {
	return "subscription_notes"
}
