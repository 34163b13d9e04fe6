package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/billing"
	"github.com/mersvpn/mersyar/internal/bootstrap"
	"github.com/mersvpn/mersyar/internal/config"
	cronpkg "github.com/mersvpn/mersyar/internal/cron"
	"github.com/mersvpn/mersyar/internal/handler/api"
	"github.com/mersvpn/mersyar/internal/notify"
	"github.com/mersvpn/mersyar/internal/registry"
	"github.com/mersvpn/mersyar/internal/repository"
	"github.com/mersvpn/mersyar/internal/router"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.MigrateAndSeed(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	if hasArg("--bootstrap-db") {
		logger.Info("Schema migration and default seed completed")
		return
	}

	// --- Repositories ---
	panelRepo := repository.NewPanelRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	linkRepo := repository.NewLinkRepository(db)
	noteRepo := repository.NewNoteRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	// --- Notifications ---
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Bot.Token != "" {
		notifier = notify.NewTelegramNotifier(cfg.Bot.Token, cfg.Bot.AdminID, logger)
	}
	deduper, dedupeErr := notify.NewDeduper(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, 20*time.Hour)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for reminder dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Core services ---
	reg := registry.New(panelRepo, linkRepo, logger)
	aggregator := registry.NewAggregator(reg, logger)
	provisioner := billing.NewProvisioner(reg, linkRepo, noteRepo, logger)
	ledger := billing.NewLedger(invoiceRepo, customerRepo, settingRepo, provisioner, notifier, logger)
	saga := billing.NewRenewalSaga(customerRepo, noteRepo, ledger, notifier, logger)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(
		cfg.Cron.Location(),
		&cronpkg.Repos{Link: linkRepo, Note: noteRepo, Setting: settingRepo},
		reg,
		aggregator,
		ledger,
		saga,
		provisioner,
		notifier,
		deduper,
		logger,
	)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	repos := &api.Repos{
		Panel:    panelRepo,
		Invoice:  invoiceRepo,
		Customer: customerRepo,
		Link:     linkRepo,
		Note:     noteRepo,
		Setting:  settingRepo,
	}
	router.Setup(e, repos, reg, aggregator, ledger, saga, provisioner, scheduler, logger, cfg.API.Key)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting Mersyar server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	ctx := scheduler.Stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}
