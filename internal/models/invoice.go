package models

import (
	"encoding/json"
	"time"
)

// InvoiceType describes what a paid invoice buys.
type InvoiceType string

const (
	InvoiceTypeNewUser      InvoiceType = "NEW_USER"
	InvoiceTypeRenewal      InvoiceType = "RENEWAL"
	InvoiceTypeDataTopUp    InvoiceType = "DATA_TOP_UP"
	InvoiceTypeWalletCharge InvoiceType = "WALLET_CHARGE"
	InvoiceTypeManual       InvoiceType = "MANUAL"
)

// Invoice status values. An invoice is born pending and moves to exactly
// one terminal state; it never re-enters pending.
const (
	InvoiceStatusPending  = "pending"
	InvoiceStatusApproved = "approved"
	InvoiceStatusRejected = "rejected"
	InvoiceStatusExpired  = "expired"
)

// PlanDetails is the opaque payload of an invoice: the exact terms that
// will be applied when it is approved.
type PlanDetails struct {
	Username     string `json:"username,omitempty"`
	PanelID      uint   `json:"panel_id,omitempty"`
	VolumeGB     int    `json:"volume,omitempty"`
	DurationDays int    `json:"duration,omitempty"`
	MaxIPs       int    `json:"max_ips,omitempty"`
	Unlimited    bool   `json:"unlimited,omitempty"`
}

// Invoice maps to the `invoices` table.
type Invoice struct {
	ID            uint        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TelegramID    int64       `gorm:"column:telegram_id;index" json:"telegram_id"`
	Type          InvoiceType `gorm:"column:invoice_type;size:50" json:"invoice_type"`
	Price         int64       `gorm:"column:price" json:"price"`
	WalletPortion int64       `gorm:"column:wallet_portion;default:0" json:"wallet_portion"`
	PlanPayload   string      `gorm:"column:plan_payload;type:text" json:"plan_payload"`
	Status        string      `gorm:"column:status;size:50;index;default:pending" json:"status"`
	PaymentRef    string      `gorm:"column:payment_ref;size:100" json:"payment_ref"`
	CreatedAt     time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// Plan decodes the stored plan payload. A broken payload decodes to the
// zero value rather than failing the caller.
func (i *Invoice) Plan() PlanDetails {
	var p PlanDetails
	if i.PlanPayload != "" {
		_ = json.Unmarshal([]byte(i.PlanPayload), &p)
	}
	return p
}

// SetPlan encodes and stores the plan payload.
func (i *Invoice) SetPlan(p PlanDetails) {
	raw, _ := json.Marshal(p)
	i.PlanPayload = string(raw)
}
