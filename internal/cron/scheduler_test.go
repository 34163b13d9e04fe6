package cron

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mersvpn/mersyar/internal/billing"
	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/notify"
	"github.com/mersvpn/mersyar/internal/panel"
	"github.com/mersvpn/mersyar/internal/registry"
	"github.com/mersvpn/mersyar/internal/repository"
)

type fakeGateway struct {
	mu    sync.Mutex
	users map[string]panel.RemoteUser
}

func newFakeGateway(users ...panel.RemoteUser) *fakeGateway {
	g := &fakeGateway{users: make(map[string]panel.RemoteUser)}
	for _, u := range users {
		g.users[u.Username] = u
	}
	return g
}

func (g *fakeGateway) Authenticate(ctx context.Context) error { return nil }

func (g *fakeGateway) ListUsers(ctx context.Context) ([]panel.RemoteUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	users := make([]panel.RemoteUser, 0, len(g.users))
	for _, u := range g.users {
		users = append(users, u)
	}
	return users, nil
}

func (g *fakeGateway) GetUser(ctx context.Context, username string) (*panel.RemoteUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[username]
	if !ok {
		return nil, panel.ErrNotFound
	}
	return &u, nil
}

func (g *fakeGateway) CreateUser(ctx context.Context, req panel.CreateUserRequest) (*panel.RemoteUser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.users[req.Username]; ok {
		return nil, panel.ErrConflict
	}
	u := panel.RemoteUser{Username: req.Username, Status: "active", DataLimit: req.DataLimit}
	g.users[req.Username] = u
	return &u, nil
}

func (g *fakeGateway) ModifyUser(ctx context.Context, username string, req panel.ModifyUserRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[username]
	if !ok {
		return panel.ErrNotFound
	}
	if req.Status != "" {
		u.Status = req.Status
	}
	if req.DataLimit != 0 {
		u.DataLimit = req.DataLimit
	}
	if req.Expire != 0 {
		u.Expire = req.Expire
	}
	g.users[username] = u
	return nil
}

func (g *fakeGateway) DeleteUser(ctx context.Context, username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.users[username]; !ok {
		return panel.ErrNotFound
	}
	delete(g.users, username)
	return nil
}

func (g *fakeGateway) ResetTraffic(ctx context.Context, username string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[username]
	if !ok {
		return panel.ErrNotFound
	}
	u.UsedTraffic = 0
	g.users[username] = u
	return nil
}

func (g *fakeGateway) RevokeSubscription(ctx context.Context, username string) (string, error) {
	return "https://example.com/sub/" + username, nil
}

func (g *fakeGateway) Type() string { return "fake" }

type recordingNotifier struct {
	mu       sync.Mutex
	customer []string
	admin    []string
}

func (n *recordingNotifier) SendToCustomer(ctx context.Context, telegramID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.customer = append(n.customer, text)
	return nil
}

func (n *recordingNotifier) SendToAdmin(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, text)
	return nil
}

// sweepFixture wires a scheduler over sqlite and fake gateways, the
// same shape the billing tests use.
type sweepFixture struct {
	db        *gorm.DB
	customers *repository.CustomerRepository
	invoices  *repository.InvoiceRepository
	links     *repository.LinkRepository
	notes     *repository.NoteRepository
	settings  *repository.SettingRepository
	registry  *registry.Registry
	scheduler *Scheduler
	notifier  *recordingNotifier
	gateways  map[uint]*fakeGateway
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Panel{}, &models.ManagedUser{}, &models.SubscriptionNote{},
		&models.Customer{}, &models.Invoice{}, &models.Settings{},
	))

	f := &sweepFixture{
		db:        db,
		customers: repository.NewCustomerRepository(db),
		invoices:  repository.NewInvoiceRepository(db),
		links:     repository.NewLinkRepository(db),
		notes:     repository.NewNoteRepository(db),
		settings:  repository.NewSettingRepository(db),
		notifier:  &recordingNotifier{},
		gateways:  make(map[uint]*fakeGateway),
	}

	log := zap.NewNop()
	panels := repository.NewPanelRepository(db)
	f.registry = registry.New(panels, f.links, log)
	f.registry.SetGatewayFactory(func(p *models.Panel) (panel.Gateway, error) {
		gw, ok := f.gateways[p.ID]
		if !ok {
			gw = newFakeGateway()
			f.gateways[p.ID] = gw
		}
		return gw, nil
	})

	aggregator := registry.NewAggregator(f.registry, log)
	provisioner := billing.NewProvisioner(f.registry, f.links, f.notes, log)
	ledger := billing.NewLedger(f.invoices, f.customers, f.settings, provisioner, f.notifier, log)
	saga := billing.NewRenewalSaga(f.customers, f.notes, ledger, f.notifier, log)
	deduper, err := notify.NewDeduper("", "", 0, time.Minute)
	require.NoError(t, err)

	f.scheduler = New(time.UTC,
		&Repos{Link: f.links, Note: f.notes, Setting: f.settings},
		f.registry, aggregator, ledger, saga, provisioner, f.notifier, deduper, log)

	_, err = f.settings.GetSettings()
	require.NoError(t, err)
	return f
}

func (f *sweepFixture) addPanel(t *testing.T, name string, users ...panel.RemoteUser) *models.Panel {
	t.Helper()
	p := &models.Panel{Name: name, Type: models.PanelTypeMarzban, APIURL: "https://" + name + ".local"}
	require.NoError(t, f.db.Create(p).Error)
	f.gateways[p.ID] = newFakeGateway(users...)
	f.registry.Invalidate()
	return p
}

func (f *sweepFixture) updateSettings(t *testing.T, mutate func(*models.Settings)) {
	t.Helper()
	s, err := f.settings.GetSettings()
	require.NoError(t, err)
	mutate(s)
	require.NoError(t, f.settings.UpdateSettings(s))
}

func (f *sweepFixture) remoteHas(t *testing.T, panelID uint, username string) bool {
	t.Helper()
	_, err := f.gateways[panelID].GetUser(context.Background(), username)
	return err == nil
}

func TestDailySweepLeavesUnmanagedAccountsAlone(t *testing.T) {
	f := newSweepFixture(t)
	longGone := time.Now().Add(-10 * 24 * time.Hour).Unix()

	p := f.addPanel(t, "de-1",
		panel.RemoteUser{Username: "stranger", Status: "expired", Expire: longGone},
		panel.RemoteUser{Username: "sold", Status: "expired", Expire: longGone},
	)
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "sold", PanelID: p.ID, TelegramID: 42}))
	f.updateSettings(t, func(s *models.Settings) { s.AutoDeleteGraceDays = 2 })

	f.scheduler.RunDailySweep()

	// The account the bot sold is gone, the one it never managed stays.
	assert.False(t, f.remoteHas(t, p.ID, "sold"))
	assert.True(t, f.remoteHas(t, p.ID, "stranger"))

	_, err := f.links.FindByUsername("sold")
	assert.Error(t, err)
}

func TestDailySweepKeepsActiveAccountsDespiteExpiry(t *testing.T) {
	f := newSweepFixture(t)

	// Panel clocks drift; an account the panel still reports active is
	// not deleted on its timestamp alone.
	p := f.addPanel(t, "de-1",
		panel.RemoteUser{Username: "alice", Status: "active", Expire: time.Now().Add(-10 * 24 * time.Hour).Unix()},
	)
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "alice", PanelID: p.ID, TelegramID: 42}))
	f.updateSettings(t, func(s *models.Settings) { s.AutoDeleteGraceDays = 2 })

	f.scheduler.RunDailySweep()

	assert.True(t, f.remoteHas(t, p.ID, "alice"))
}

func TestDailySweepAutoRenewsInsideReminderWindow(t *testing.T) {
	f := newSweepFixture(t)
	now := time.Now()

	p := f.addPanel(t, "de-1",
		panel.RemoteUser{Username: "soon", Status: "active", Expire: now.Add(2 * 24 * time.Hour).Unix()},
		panel.RemoteUser{Username: "later", Status: "active", Expire: now.Add(10 * 24 * time.Hour).Unix()},
	)
	for i, username := range []string{"soon", "later"} {
		telegramID := int64(42 + i)
		require.NoError(t, f.links.Upsert(&models.ManagedUser{
			Username: username, PanelID: p.ID, TelegramID: telegramID, AutoRenew: true,
		}))
		require.NoError(t, f.notes.Upsert(&models.SubscriptionNote{
			Username: username, DurationDays: 30, Price: 500,
		}))
		require.NoError(t, f.db.Create(&models.Customer{TelegramID: telegramID, WalletBalance: 1000}).Error)
	}

	// Default reminder window is 3 days: "soon" renews, "later" waits.
	f.scheduler.RunDailySweep()

	soonCustomer, err := f.customers.FindByTelegramID(42)
	require.NoError(t, err)
	assert.Equal(t, int64(500), soonCustomer.WalletBalance)

	renewed, err := f.gateways[p.ID].GetUser(context.Background(), "soon")
	require.NoError(t, err)
	assert.Greater(t, renewed.Expire, now.Add(31*24*time.Hour).Unix())

	laterCustomer, err := f.customers.FindByTelegramID(43)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), laterCustomer.WalletBalance)
}

func TestDailySweepNeverRenewsExpiredAccounts(t *testing.T) {
	f := newSweepFixture(t)

	p := f.addPanel(t, "de-1",
		panel.RemoteUser{Username: "lapsed", Status: "expired", Expire: time.Now().Add(-time.Hour).Unix()},
	)
	require.NoError(t, f.links.Upsert(&models.ManagedUser{
		Username: "lapsed", PanelID: p.ID, TelegramID: 42, AutoRenew: true,
	}))
	require.NoError(t, f.notes.Upsert(&models.SubscriptionNote{Username: "lapsed", DurationDays: 30, Price: 500}))
	require.NoError(t, f.db.Create(&models.Customer{TelegramID: 42, WalletBalance: 1000}).Error)

	f.scheduler.RunDailySweep()

	// The wallet was not touched behind the customer's back.
	c, err := f.customers.FindByTelegramID(42)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), c.WalletBalance)

	invoices, err := f.invoices.FindByTelegramID(42)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}
