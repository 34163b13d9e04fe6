package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/billing"
	"github.com/mersvpn/mersyar/internal/handler/api"
	"github.com/mersvpn/mersyar/internal/middleware"
	"github.com/mersvpn/mersyar/internal/registry"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	repos *api.Repos,
	reg *registry.Registry,
	aggregator *registry.Aggregator,
	ledger *billing.Ledger,
	saga *billing.RenewalSaga,
	provisioner *billing.Provisioner,
	jobs api.JobRunner,
	logger *zap.Logger,
	apiKey string,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	// Handlers
	panelHandler := api.NewPanelHandler(reg, logger)
	userHandler := api.NewUserHandler(reg, aggregator, provisioner, saga, repos, logger)
	invoiceHandler := api.NewInvoiceHandler(ledger, repos, logger)
	settingsHandler := api.NewSettingsHandler(repos, logger)
	jobHandler := api.NewJobHandler(jobs, logger)

	// API group with auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	apiGroup.GET("/panels", panelHandler.List)
	apiGroup.POST("/panels", panelHandler.Create)
	apiGroup.PUT("/panels/:id", panelHandler.Update)
	apiGroup.DELETE("/panels/:id", panelHandler.Delete)
	apiGroup.POST("/panels/:id/test-flag", panelHandler.SetTestFlag)

	apiGroup.GET("/users", userHandler.List)
	apiGroup.POST("/users", userHandler.Create)
	apiGroup.GET("/users/:username", userHandler.Get)
	apiGroup.POST("/users/:username/renew", userHandler.Renew)
	apiGroup.POST("/users/:username/auto-renew", userHandler.SetAutoRenew)
	apiGroup.DELETE("/users/:username", userHandler.Delete)

	apiGroup.GET("/invoices", invoiceHandler.List)
	apiGroup.POST("/invoices", invoiceHandler.Create)
	apiGroup.POST("/invoices/:id/approve", invoiceHandler.Approve)
	apiGroup.POST("/invoices/:id/reject", invoiceHandler.Reject)
	apiGroup.POST("/invoices/expire-stale", invoiceHandler.ExpireStale)

	apiGroup.POST("/jobs/daily-sweep", jobHandler.DailySweep)
	apiGroup.POST("/jobs/test-cleanup", jobHandler.TestCleanup)

	apiGroup.GET("/settings", settingsHandler.Get)
	apiGroup.PUT("/settings", settingsHandler.Update)
	apiGroup.GET("/customers/:telegram_id", settingsHandler.GetCustomer)
	apiGroup.POST("/customers/:telegram_id/wallet", settingsHandler.AdjustWallet)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})
}
