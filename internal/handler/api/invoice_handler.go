package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/billing"
	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/pkg/utils"
)

// InvoiceHandler exposes the invoice lifecycle to the admin panel.
type InvoiceHandler struct {
	ledger *billing.Ledger
	repos  *Repos
	logger *zap.Logger
}

func NewInvoiceHandler(ledger *billing.Ledger, repos *Repos, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{ledger: ledger, repos: repos, logger: logger}
}

// List returns invoices, newest first. ?status= filters, ?page= and
// ?limit= paginate.
func (h *InvoiceHandler) List(c echo.Context) error {
	limit := utils.ParseInt(c.QueryParam("limit"), 50)
	page := utils.ParseInt(c.QueryParam("page"), 1)
	status := c.QueryParam("status")

	invoices, total, err := h.repos.Invoice.FindAll(limit, page, status)
	if err != nil {
		h.logger.Error("invoice list failed", zap.Error(err))
		return errorResponse(c, "failed to list invoices")
	}
	return successResponse(c, "ok", map[string]interface{}{
		"invoices": invoices,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

type createInvoiceRequest struct {
	TelegramID   int64  `json:"telegram_id"`
	Type         string `json:"invoice_type"`
	Price        int64  `json:"price"`
	Username     string `json:"username"`
	PanelID      uint   `json:"panel_id"`
	VolumeGB     int    `json:"volume"`
	DurationDays int    `json:"duration"`
	Unlimited    bool   `json:"unlimited"`
}

// Create records a pending invoice. With auto-confirm enabled in
// settings it settles itself after the grace window.
func (h *InvoiceHandler) Create(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if req.TelegramID == 0 || req.Price <= 0 {
		return errorResponse(c, "telegram_id and a positive price are required")
	}

	invoice := &models.Invoice{
		TelegramID: req.TelegramID,
		Type:       models.InvoiceType(req.Type),
		Price:      req.Price,
		PaymentRef: utils.GenerateOrderID(),
	}
	invoice.SetPlan(models.PlanDetails{
		Username:     utils.SanitizeUsername(req.Username),
		PanelID:      req.PanelID,
		VolumeGB:     req.VolumeGB,
		DurationDays: req.DurationDays,
		Unlimited:    req.Unlimited,
	})

	if err := h.ledger.CreatePending(invoice); err != nil {
		h.logger.Error("invoice create failed", zap.Error(err))
		return errorResponse(c, "failed to create invoice")
	}
	return successResponse(c, "invoice created", invoice)
}

// Approve settles a pending invoice and fulfills it.
func (h *InvoiceHandler) Approve(c echo.Context) error {
	id := uint(utils.ParseInt(c.Param("id"), 0))
	if id == 0 {
		return errorResponse(c, "invalid invoice id")
	}

	err := h.ledger.Approve(c.Request().Context(), billing.ApprovalRequest{
		InvoiceID: id,
		Actor:     billing.ActorAdmin,
	})
	if err != nil {
		if errors.Is(err, billing.ErrAlreadyProcessed) {
			return errorResponse(c, "invoice already processed")
		}
		h.logger.Error("invoice approval failed", zap.Uint("invoice_id", id), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	return successResponse(c, "invoice approved", nil)
}

// Reject settles a pending invoice as rejected, refunding any wallet
// portion.
func (h *InvoiceHandler) Reject(c echo.Context) error {
	id := uint(utils.ParseInt(c.Param("id"), 0))
	if id == 0 {
		return errorResponse(c, "invalid invoice id")
	}

	err := h.ledger.Reject(c.Request().Context(), billing.ApprovalRequest{
		InvoiceID: id,
		Actor:     billing.ActorAdmin,
	})
	if err != nil {
		if errors.Is(err, billing.ErrAlreadyProcessed) {
			return errorResponse(c, "invoice already processed")
		}
		h.logger.Error("invoice rejection failed", zap.Uint("invoice_id", id), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	return successResponse(c, "invoice rejected", nil)
}

// ExpireStale sweeps pending invoices older than 24 hours on demand.
func (h *InvoiceHandler) ExpireStale(c echo.Context) error {
	expired, err := h.ledger.ExpireStale(c.Request().Context(), 24*time.Hour)
	if err != nil {
		h.logger.Error("stale invoice sweep failed", zap.Error(err))
		return errorResponse(c, "failed to expire invoices")
	}
	return successResponse(c, "ok", map[string]int{"expired": expired})
}
