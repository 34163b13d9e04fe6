package models

// Settings maps to the `bot_settings` table (single-row config table).
type Settings struct {
	ID                  uint   `gorm:"column:id;primaryKey" json:"id"`
	ReminderTime        string `gorm:"column:reminder_time;size:10;default:'09:00'" json:"reminder_time"`
	ReminderDays        int    `gorm:"column:reminder_days;default:3" json:"reminder_days"`
	ReminderDataGB      int    `gorm:"column:reminder_data_gb;default:1" json:"reminder_data_gb"`
	AutoConfirmInvoices bool   `gorm:"column:auto_confirm_invoices;default:false" json:"auto_confirm_invoices"`
	AutoDeleteGraceDays int    `gorm:"column:auto_delete_grace_days;default:0" json:"auto_delete_grace_days"` // 0 disables the delete sweep
}

func (Settings) TableName() string {
	return "bot_settings"
}
