package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/billing"
	"github.com/mersvpn/mersyar/internal/notify"
	"github.com/mersvpn/mersyar/internal/pkg/utils"
	"github.com/mersvpn/mersyar/internal/registry"
	"github.com/mersvpn/mersyar/internal/repository"
)

// staleInvoiceAge is how long a pending invoice may wait for a receipt
// before the sweep expires it.
const staleInvoiceAge = 24 * time.Hour

// Repos bundles the repositories the scheduled jobs read and write.
type Repos struct {
	Link    *repository.LinkRepository
	Note    *repository.NoteRepository
	Setting *repository.SettingRepository
}

// Scheduler runs the recurring maintenance jobs: the daily subscription
// sweep, the hourly test-account cleanup and the stale invoice expiry.
type Scheduler struct {
	cron        *cron.Cron
	loc         *time.Location
	logger      *zap.Logger
	repos       *Repos
	registry    *registry.Registry
	aggregator  *registry.Aggregator
	ledger      *billing.Ledger
	saga        *billing.RenewalSaga
	provisioner *billing.Provisioner
	notifier    notify.Notifier
	deduper     notify.Deduper
}

// New creates the scheduler. All job times are interpreted in loc.
func New(
	loc *time.Location,
	repos *Repos,
	reg *registry.Registry,
	aggregator *registry.Aggregator,
	ledger *billing.Ledger,
	saga *billing.RenewalSaga,
	provisioner *billing.Provisioner,
	notifier notify.Notifier,
	deduper notify.Deduper,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		loc:         loc,
		logger:      logger,
		repos:       repos,
		registry:    reg,
		aggregator:  aggregator,
		ledger:      ledger,
		saga:        saga,
		provisioner: provisioner,
		notifier:    notifier,
		deduper:     deduper,
	}
}

// Start registers and starts all cron jobs. The daily sweep time comes
// from the settings row at startup.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	settings, err := s.repos.Setting.GetSettings()
	if err != nil {
		return fmt.Errorf("load settings for scheduler: %w", err)
	}

	hour, minute := parseClock(settings.ReminderTime)
	dailySpec := fmt.Sprintf("0 %d %d * * *", minute, hour)
	if _, err := s.cron.AddFunc(dailySpec, func() {
		s.logger.Debug("Running: daily subscription sweep")
		s.dailySweep()
	}); err != nil {
		return fmt.Errorf("register daily sweep: %w", err)
	}

	// Test account cleanup - every hour
	s.cron.AddFunc("0 0 * * * *", func() {
		s.logger.Debug("Running: test account cleanup")
		s.testAccountCleanup()
	})

	// Stale invoice expiry - every hour at half past
	s.cron.AddFunc("0 30 * * * *", func() {
		s.logger.Debug("Running: stale invoice expiry")
		s.expireStaleInvoices()
	})

	s.cron.Start()
	s.logger.Info("Cron scheduler started",
		zap.String("daily_sweep", dailySpec), zap.String("timezone", s.loc.String()))
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunDailySweep runs the daily sweep outside its schedule. Reminders
// stay deduplicated, so an extra run cannot double-send.
func (s *Scheduler) RunDailySweep() {
	s.dailySweep()
}

// RunTestCleanup runs the test-account cleanup outside its schedule.
func (s *Scheduler) RunTestCleanup() {
	s.testAccountCleanup()
}

// ── Daily subscription sweep ──────────────────────────────────────────

func (s *Scheduler) dailySweep() {
	defer s.recoverFromPanic("dailySweep")

	settings, err := s.repos.Setting.GetSettings()
	if err != nil {
		s.logger.Error("daily sweep aborted, settings unavailable", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := s.aggregator.ListUsersExcludingTest(ctx)
	if err != nil {
		s.logger.Error("daily sweep aborted, aggregation failed", zap.Error(err))
		return
	}
	for _, f := range result.Failures {
		s.logger.Warn("panel skipped in daily sweep", zap.String("panel", f.PanelName), zap.String("error", f.Err))
	}

	now := time.Now().In(s.loc)
	day := now.Format("2006-01-02")

	var reminded, renewed, deleted int
	for _, user := range result.Users {
		link, lErr := s.repos.Link.FindByUsername(user.Username)

		// Auto-renew takes precedence over a reminder.
		if lErr == nil && link.AutoRenew && renewalDue(user, settings.ReminderDays, now) {
			state, rErr := s.saga.RenewFromWallet(ctx, link.TelegramID, user.Username)
			if rErr != nil {
				s.logger.Warn("auto-renew failed",
					zap.String("username", user.Username),
					zap.String("state", string(state)),
					zap.Error(rErr))
				if errors.Is(rErr, billing.ErrInsufficientFunds) {
					s.remind(ctx, link.TelegramID, "renew_funds", user.Username, day, fmt.Sprintf(
						"⚠️ Auto-renew for %s failed: wallet balance too low.", user.Username))
				}
			} else {
				renewed++
				s.notifier.SendToCustomer(ctx, link.TelegramID, fmt.Sprintf(
					"🔁 Subscription %s renewed automatically from your wallet.", user.Username))
			}
			continue
		}

		if lErr == nil && expiringWithin(user, settings.ReminderDays, now) {
			days := int(time.Until(time.Unix(user.Expire, 0)).Hours() / 24)
			if s.remind(ctx, link.TelegramID, "expire", user.Username, day, fmt.Sprintf(
				"⏳ Subscription %s expires in %d day(s).", user.Username, days+1)) {
				reminded++
			}
		}
		if lErr == nil && lowOnData(user, settings.ReminderDataGB) {
			if s.remind(ctx, link.TelegramID, "volume", user.Username, day, fmt.Sprintf(
				"📉 Subscription %s has %s left.", user.Username,
				utils.FormatBytes(user.DataLimit-user.UsedTraffic))) {
				reminded++
			}
		}

		// Only accounts the bot sold are swept. Strangers sharing the
		// panel are left alone, and an account the panel still reports
		// active is kept whatever its expiry timestamp says.
		if lErr == nil && !user.Active() && settings.AutoDeleteGraceDays > 0 {
			grace := time.Duration(settings.AutoDeleteGraceDays) * 24 * time.Hour
			if expiredFor(user, now) >= grace {
				if dErr := s.provisioner.Delete(ctx, user.Username); dErr != nil {
					s.logger.Error("auto-delete failed", zap.String("username", user.Username), zap.Error(dErr))
					continue
				}
				deleted++
				s.notifier.SendToCustomer(ctx, link.TelegramID, fmt.Sprintf(
					"🗑 Subscription %s was removed after expiring.", user.Username))
			}
		}
	}

	s.logger.Info("daily sweep finished",
		zap.Int("users", len(result.Users)),
		zap.Int("panels_failed", len(result.Failures)),
		zap.Int("reminded", reminded),
		zap.Int("renewed", renewed),
		zap.Int("deleted", deleted))

	s.notifier.SendToAdmin(ctx, fmt.Sprintf(
		"📊 Daily sweep: %d users across panels, %d reminders, %d auto-renewals, %d removed, %d panels unreachable.",
		len(result.Users), reminded, renewed, deleted, len(result.Failures)))
}

// remind sends one reminder per kind per username per day.
func (s *Scheduler) remind(ctx context.Context, telegramID int64, kind, username, day, text string) bool {
	key := fmt.Sprintf("%s:%s:%s", kind, username, day)
	seen, err := s.deduper.Seen(ctx, key)
	if err != nil {
		s.logger.Warn("reminder dedup unavailable", zap.Error(err))
	}
	if seen {
		return false
	}
	return s.notifier.SendToCustomer(ctx, telegramID, text) == nil
}

// ── Hourly test account cleanup ───────────────────────────────────────

func (s *Scheduler) testAccountCleanup() {
	defer s.recoverFromPanic("testAccountCleanup")

	notes, err := s.repos.Note.FindTestAccounts()
	if err != nil {
		s.logger.Error("test cleanup aborted", zap.Error(err))
		return
	}
	if len(notes) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed := 0
	for _, note := range notes {
		_, user, err := s.registry.ResolveOwner(ctx, note.Username)
		if errors.Is(err, registry.ErrOwnerNotFound) {
			// The remote account is already gone; heal the dangling rows.
			if dErr := s.dropLocalRecords(note.Username); dErr == nil {
				removed++
			}
			continue
		}
		if err != nil {
			s.logger.Warn("test account unreachable", zap.String("username", note.Username), zap.Error(err))
			continue
		}

		if user.Active() {
			continue
		}
		if dErr := s.provisioner.Delete(ctx, note.Username); dErr != nil {
			s.logger.Error("test account delete failed", zap.String("username", note.Username), zap.Error(dErr))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("test accounts cleaned up", zap.Int("removed", removed))
	}
}

func (s *Scheduler) dropLocalRecords(username string) error {
	if err := s.repos.Link.Delete(username); err != nil {
		s.logger.Error("failed to drop ownership record", zap.String("username", username), zap.Error(err))
		return err
	}
	if err := s.repos.Note.Delete(username); err != nil {
		s.logger.Error("failed to drop plan note", zap.String("username", username), zap.Error(err))
		return err
	}
	s.logger.Info("dropped dangling records", zap.String("username", username))
	return nil
}

// ── Stale invoice expiry ──────────────────────────────────────────────

func (s *Scheduler) expireStaleInvoices() {
	defer s.recoverFromPanic("expireStaleInvoices")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.ledger.ExpireStale(ctx, staleInvoiceAge); err != nil {
		s.logger.Error("stale invoice sweep failed", zap.Error(err))
	}
}

// ── Helpers ───────────────────────────────────────────────────────────

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}

// parseClock reads "HH:MM", falling back to 09:00 on anything malformed.
func parseClock(v string) (hour, minute int) {
	n, err := fmt.Sscanf(strings.TrimSpace(v), "%d:%d", &hour, &minute)
	if err != nil || n != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 9, 0
	}
	return hour, minute
}
