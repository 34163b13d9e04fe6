package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/pkg/utils"
	"github.com/mersvpn/mersyar/internal/registry"
)

// PanelHandler manages panel credentials through the registry.
type PanelHandler struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func NewPanelHandler(reg *registry.Registry, logger *zap.Logger) *PanelHandler {
	return &PanelHandler{registry: reg, logger: logger}
}

// List returns all registered panels with credentials blanked.
func (h *PanelHandler) List(c echo.Context) error {
	panels, err := h.registry.ListPanels()
	if err != nil {
		h.logger.Error("panel list failed", zap.Error(err))
		return errorResponse(c, "failed to list panels")
	}
	for i := range panels {
		panels[i].Password = ""
	}
	return successResponse(c, "ok", panels)
}

type panelRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	APIURL   string `json:"api_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	IsTest   bool   `json:"is_test_panel"`
}

// Create verifies the credential against the live panel and stores it.
func (h *PanelHandler) Create(c echo.Context) error {
	var req panelRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if req.Name == "" || req.APIURL == "" || req.Username == "" || req.Password == "" {
		return errorResponse(c, "name, type, api_url, username and password are required")
	}

	p := &models.Panel{
		Name:        req.Name,
		Type:        models.PanelType(req.Type),
		APIURL:      req.APIURL,
		Username:    req.Username,
		Password:    req.Password,
		IsTestPanel: req.IsTest,
	}
	if err := h.registry.AddPanel(c.Request().Context(), p); err != nil {
		h.logger.Warn("panel create failed", zap.String("name", req.Name), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	p.Password = ""
	return successResponse(c, "panel registered", p)
}

// Update changes a stored credential.
func (h *PanelHandler) Update(c echo.Context) error {
	id := uint(utils.ParseInt(c.Param("id"), 0))
	if id == 0 {
		return errorResponse(c, "invalid panel id")
	}
	existing, err := h.registry.PanelByID(id)
	if err != nil {
		return errorResponse(c, "panel not found")
	}

	var req panelRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Type != "" {
		existing.Type = models.PanelType(req.Type)
	}
	if req.APIURL != "" {
		existing.APIURL = req.APIURL
	}
	if req.Username != "" {
		existing.Username = req.Username
	}
	if req.Password != "" {
		existing.Password = req.Password
	}

	if err := h.registry.UpdatePanel(existing); err != nil {
		h.logger.Error("panel update failed", zap.Uint("id", id), zap.Error(err))
		return errorResponse(c, "failed to update panel")
	}
	existing.Password = ""
	return successResponse(c, "panel updated", existing)
}

// Delete removes a panel; ?migrate_to=<id> repoints its users first.
func (h *PanelHandler) Delete(c echo.Context) error {
	id := uint(utils.ParseInt(c.Param("id"), 0))
	if id == 0 {
		return errorResponse(c, "invalid panel id")
	}
	migrateTo := uint(utils.ParseInt(c.QueryParam("migrate_to"), 0))

	if err := h.registry.DeletePanel(id, migrateTo); err != nil {
		h.logger.Warn("panel delete failed", zap.Uint("id", id), zap.Error(err))
		return errorResponse(c, err.Error())
	}
	return successResponse(c, "panel deleted", nil)
}

// SetTestFlag marks a panel as the one used for trial accounts.
func (h *PanelHandler) SetTestFlag(c echo.Context) error {
	id := uint(utils.ParseInt(c.Param("id"), 0))
	if id == 0 {
		return errorResponse(c, "invalid panel id")
	}
	var req struct {
		IsTest bool `json:"is_test_panel"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, "invalid request body")
	}
	if err := h.registry.SetTestFlag(id, req.IsTest); err != nil {
		return errorResponse(c, "failed to set test flag")
	}
	return successResponse(c, "test flag updated", nil)
}
