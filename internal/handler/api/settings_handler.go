package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/pkg/utils"
)

// SettingsHandler reads and writes the single operational settings row,
// plus customer wallet adjustments.
type SettingsHandler struct {
	repos  *Repos
	logger *zap.Logger
}

func NewSettingsHandler(repos *Repos, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{repos: repos, logger: logger}
}

// Get returns the current settings.
func (h *SettingsHandler) Get(c echo.Context) error {
	settings, err := h.repos.Setting.GetSettings()
	if err != nil {
		h.logger.Error("settings read failed", zap.Error(err))
		return errorResponse(c, "failed to read settings")
	}
	return successResponse(c, "ok", settings)
}

type settingsRequest struct {
	ReminderTime        *string `json:"reminder_time"`
	ReminderDays        *int    `json:"reminder_days"`
	ReminderDataGB      *int    `json:"reminder_data_gb"`
	AutoConfirmInvoices *bool   `json:"auto_confirm_invoices"`
	AutoDeleteGraceDays *int    `json:"auto_delete_grace_days"`
}

// Update changes only the fields present in the body.
func (h *SettingsHandler) Update(c echo.Context) error {
	settings, err := h.repos.Setting.GetSettings()
	if err != nil {
		return errorResponse(c, "failed to read settings")
	}

	var req settingsRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if req.ReminderTime != nil {
		settings.ReminderTime = *req.ReminderTime
	}
	if req.ReminderDays != nil {
		settings.ReminderDays = *req.ReminderDays
	}
	if req.ReminderDataGB != nil {
		settings.ReminderDataGB = *req.ReminderDataGB
	}
	if req.AutoConfirmInvoices != nil {
		settings.AutoConfirmInvoices = *req.AutoConfirmInvoices
	}
	if req.AutoDeleteGraceDays != nil {
		settings.AutoDeleteGraceDays = *req.AutoDeleteGraceDays
	}

	if err := h.repos.Setting.UpdateSettings(settings); err != nil {
		h.logger.Error("settings update failed", zap.Error(err))
		return errorResponse(c, "failed to update settings")
	}
	return successResponse(c, "settings updated", settings)
}

// GetCustomer returns a customer row with wallet balance.
func (h *SettingsHandler) GetCustomer(c echo.Context) error {
	telegramID := utils.ParseInt64(c.Param("telegram_id"), 0)
	if telegramID == 0 {
		return errorResponse(c, "invalid telegram id")
	}
	customer, err := h.repos.Customer.FindByTelegramID(telegramID)
	if err != nil {
		return errorResponse(c, "customer not found")
	}
	return successResponse(c, "ok", customer)
}

// AdjustWallet credits or debits a customer wallet by a signed amount.
// Debits that would take the balance negative are refused.
func (h *SettingsHandler) AdjustWallet(c echo.Context) error {
	telegramID := utils.ParseInt64(c.Param("telegram_id"), 0)
	if telegramID == 0 {
		return errorResponse(c, "invalid telegram id")
	}
	var req struct {
		Amount    int64  `json:"amount"`
		FirstName string `json:"first_name"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if req.Amount == 0 {
		return errorResponse(c, "amount must be non-zero")
	}

	if _, err := h.repos.Customer.FindOrCreate(telegramID, req.FirstName); err != nil {
		return errorResponse(c, "failed to load customer")
	}

	if req.Amount > 0 {
		if err := h.repos.Customer.IncreaseBalance(telegramID, req.Amount); err != nil {
			return errorResponse(c, "failed to credit wallet")
		}
	} else {
		ok, err := h.repos.Customer.DecreaseBalance(telegramID, -req.Amount)
		if err != nil {
			return errorResponse(c, "failed to debit wallet")
		}
		if !ok {
			return errorResponse(c, "insufficient wallet balance")
		}
	}

	customer, err := h.repos.Customer.FindByTelegramID(telegramID)
	if err != nil {
		return errorResponse(c, "failed to reload customer")
	}
	return successResponse(c, "wallet adjusted", customer)
}
