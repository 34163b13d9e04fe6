package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/panel"
	"github.com/mersvpn/mersyar/internal/registry"
	"github.com/mersvpn/mersyar/internal/repository"
)

// fakeGateway keeps panel users in memory so the billing flows can run
// without a live panel.
type fakeGateway struct {
	mu        sync.Mutex
	users     map[string]panel.RemoteUser
	createErr error
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
	if g.createErr != nil {
		return nil, g.createErr
	}
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

// recordingNotifier captures everything sent, for asserting on alerts.
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

func (n *recordingNotifier) adminCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.admin)
}

// fixture wires the whole billing stack over sqlite and fake gateways.
type fixture struct {
	db          *gorm.DB
	customers   *repository.CustomerRepository
	invoices    *repository.InvoiceRepository
	links       *repository.LinkRepository
	notes       *repository.NoteRepository
	settings    *repository.SettingRepository
	registry    *registry.Registry
	provisioner *Provisioner
	ledger      *Ledger
	saga        *RenewalSaga
	notifier    *recordingNotifier
	gateways    map[uint]*fakeGateway
}

func newFixture(t *testing.T) *fixture {
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

	f := &fixture{
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

	f.provisioner = NewProvisioner(f.registry, f.links, f.notes, log)
	f.ledger = NewLedger(f.invoices, f.customers, f.settings, f.provisioner, f.notifier, log)
	f.saga = NewRenewalSaga(f.customers, f.notes, f.ledger, f.notifier, log)

	// Materialize the default settings row up front.
	_, err = f.settings.GetSettings()
	require.NoError(t, err)
	return f
}

func (f *fixture) addPanel(t *testing.T, name string, isTest bool, users ...panel.RemoteUser) *models.Panel {
	t.Helper()

	p := &models.Panel{Name: name, Type: models.PanelTypeMarzban, APIURL: "https://" + name + ".local", IsTestPanel: isTest}
	require.NoError(t, f.db.Create(p).Error)
	f.gateways[p.ID] = newFakeGateway(users...)
	f.registry.Invalidate()
	return p
}

func (f *fixture) addCustomer(t *testing.T, telegramID int64, balance int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Customer{TelegramID: telegramID, WalletBalance: balance}).Error)
}

func (f *fixture) balance(t *testing.T, telegramID int64) int64 {
	t.Helper()
	c, err := f.customers.FindByTelegramID(telegramID)
	require.NoError(t, err)
	return c.WalletBalance
}

func (f *fixture) invoiceStatus(t *testing.T, id uint) string {
	t.Helper()
	inv, err := f.invoices.FindByID(id)
	require.NoError(t, err)
	return inv.Status
}
