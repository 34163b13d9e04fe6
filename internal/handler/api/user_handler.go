package api

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/billing"
	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/pkg/utils"
	"github.com/mersvpn/mersyar/internal/registry"
)

// UserHandler serves the aggregated subscriber view and the direct
// provisioning operations.
type UserHandler struct {
	registry    *registry.Registry
	aggregator  *registry.Aggregator
	provisioner *billing.Provisioner
	saga        *billing.RenewalSaga
	repos       *Repos
	logger      *zap.Logger
}

func NewUserHandler(
	reg *registry.Registry,
	aggregator *registry.Aggregator,
	provisioner *billing.Provisioner,
	saga *billing.RenewalSaga,
	repos *Repos,
	logger *zap.Logger,
) *UserHandler {
	return &UserHandler{
		registry:    reg,
		aggregator:  aggregator,
		provisioner: provisioner,
		saga:        saga,
		repos:       repos,
		logger:      logger,
	}
}

// List returns users across every panel. Unreachable panels are reported
// alongside the merged list instead of failing it. ?include_test=1 folds
// the test panel in.
func (h *UserHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	var result *registry.AggregateResult
	var err error
	if c.QueryParam("include_test") == "1" {
		result, err = h.aggregator.ListAllUsers(ctx)
	} else {
		result, err = h.aggregator.ListUsersExcludingTest(ctx)
	}
	if err != nil {
		h.logger.Error("user aggregation failed", zap.Error(err))
		return errorResponse(c, "failed to list users")
	}
	return successResponse(c, "ok", result)
}

// Get resolves which panel owns a username and returns the live account.
func (h *UserHandler) Get(c echo.Context) error {
	username := utils.SanitizeUsername(c.Param("username"))
	if username == "" {
		return errorResponse(c, "invalid username")
	}

	owner, user, err := h.registry.ResolveOwner(c.Request().Context(), username)
	if err != nil {
		if errors.Is(err, registry.ErrOwnerNotFound) {
			return errorResponse(c, "user not found on any panel")
		}
		h.logger.Error("owner resolution failed", zap.String("username", username), zap.Error(err))
		return errorResponse(c, "failed to resolve user")
	}

	note, _ := h.repos.Note.FindByUsername(username)
	return successResponse(c, "ok", map[string]interface{}{
		"panel": owner.Name,
		"user":  user,
		"note":  note,
	})
}

type createUserRequest struct {
	TelegramID   int64  `json:"telegram_id"`
	Username     string `json:"username"`
	PanelID      uint   `json:"panel_id"`
	VolumeGB     int    `json:"volume"`
	DurationDays int    `json:"duration"`
	Unlimited    bool   `json:"unlimited"`
	Price        int64  `json:"price"`
}

// Create provisions an account directly, bypassing the invoice flow.
// Meant for the admin panel; customer purchases go through invoices.
func (h *UserHandler) Create(c echo.Context) error {
	var req createUserRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}

	username := utils.SanitizeUsername(req.Username)
	if username == "" {
		username = utils.GenerateUsername("")
	}
	if req.DurationDays <= 0 {
		req.DurationDays = 30
	}

	user, err := h.provisioner.CreateUser(c.Request().Context(), req.TelegramID, models.PlanDetails{
		Username:     username,
		PanelID:      req.PanelID,
		VolumeGB:     req.VolumeGB,
		DurationDays: req.DurationDays,
		Unlimited:    req.Unlimited,
	}, req.Price)
	if err != nil {
		h.logger.Warn("direct provisioning failed", zap.String("username", username), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	return successResponse(c, "user created", user)
}

// Renew runs the wallet renewal for a username.
func (h *UserHandler) Renew(c echo.Context) error {
	username := utils.SanitizeUsername(c.Param("username"))
	if username == "" {
		return errorResponse(c, "invalid username")
	}

	link, err := h.repos.Link.FindByUsername(username)
	if err != nil {
		return errorResponse(c, "no owner recorded for user")
	}

	state, err := h.saga.RenewFromWallet(c.Request().Context(), link.TelegramID, username)
	if err != nil {
		if errors.Is(err, billing.ErrInsufficientFunds) {
			return errorResponse(c, "insufficient wallet balance")
		}
		h.logger.Warn("renewal failed",
			zap.String("username", username), zap.String("state", string(state)), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	return successResponse(c, "subscription renewed", map[string]string{"state": string(state)})
}

// Delete removes the account from its panel and the local records.
func (h *UserHandler) Delete(c echo.Context) error {
	username := utils.SanitizeUsername(c.Param("username"))
	if username == "" {
		return errorResponse(c, "invalid username")
	}
	if err := h.provisioner.Delete(c.Request().Context(), username); err != nil {
		h.logger.Warn("user delete failed", zap.String("username", username), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	return successResponse(c, "user deleted", nil)
}

// SetAutoRenew flips the auto-renew flag for a username.
func (h *UserHandler) SetAutoRenew(c echo.Context) error {
	username := utils.SanitizeUsername(c.Param("username"))
	if username == "" {
		return errorResponse(c, "invalid username")
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if err := h.repos.Link.SetAutoRenew(username, req.Enabled); err != nil {
		return errorResponse(c, "failed to update auto-renew")
	}
	return successResponse(c, "auto-renew updated", nil)
}
