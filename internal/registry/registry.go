package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/panel"
	"github.com/mersvpn/mersyar/internal/repository"
)

// ErrOwnerNotFound means a username exists in no registered panel.
var ErrOwnerNotFound = errors.New("owner panel not found")

const cacheTTL = 60 * time.Second

// GatewayFactory builds a vendor client for a panel credential. It is a
// field so tests can substitute fake gateways.
type GatewayFactory func(p *models.Panel) (panel.Gateway, error)

// Registry is the authority on which panels exist and which panel owns
// which username. Panel rows are cached for a short TTL; every mutation
// drops the cache so admin changes show up immediately.
type Registry struct {
	panels  *repository.PanelRepository
	links   *repository.LinkRepository
	factory GatewayFactory
	log     *zap.Logger

	mu       sync.Mutex
	cached   []models.Panel
	cachedAt time.Time
	gateways map[uint]panel.Gateway
}

func New(panels *repository.PanelRepository, links *repository.LinkRepository, log *zap.Logger) *Registry {
	return &Registry{
		panels:   panels,
		links:    links,
		factory:  panel.NewGateway,
		log:      log,
		gateways: make(map[uint]panel.Gateway),
	}
}

// ListPanels returns all registered panels, served from cache while the
// TTL holds.
func (r *Registry) ListPanels() ([]models.Panel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.cachedAt) < cacheTTL {
		return append([]models.Panel(nil), r.cached...), nil
	}

	panels, err := r.panels.FindAll()
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}
	r.cached = panels
	r.cachedAt = time.Now()
	return append([]models.Panel(nil), panels...), nil
}

// ListPanelsExcluding returns the registered panels minus the given IDs.
// Exclusion reads skip the cache so a panel changed moments ago is never
// served from a stale list.
func (r *Registry) ListPanelsExcluding(ids ...uint) ([]models.Panel, error) {
	panels, err := r.panels.FindAll()
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}
	excluded := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		excluded[id] = struct{}{}
	}
	out := panels[:0]
	for _, p := range panels {
		if _, skip := excluded[p.ID]; !skip {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListPanelsExcludingTest returns the registered panels minus the ones
// flagged for test accounts, skipping the cache like any exclusion read.
func (r *Registry) ListPanelsExcludingTest() ([]models.Panel, error) {
	panels, err := r.panels.FindAll()
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}
	out := panels[:0]
	for _, p := range panels {
		if !p.IsTestPanel {
			out = append(out, p)
		}
	}
	return out, nil
}

// TestPanel returns the panel flagged for test accounts, or nil when
// none is configured.
func (r *Registry) TestPanel() (*models.Panel, error) {
	panels, err := r.ListPanels()
	if err != nil {
		return nil, err
	}
	for i := range panels {
		if panels[i].IsTestPanel {
			return &panels[i], nil
		}
	}
	return nil, nil
}

// PanelByID returns a registered panel by ID, via the cache.
func (r *Registry) PanelByID(id uint) (*models.Panel, error) {
	panels, err := r.ListPanels()
	if err != nil {
		return nil, err
	}
	for i := range panels {
		if panels[i].ID == id {
			return &panels[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// AddPanel verifies the credential against the panel and stores it.
func (r *Registry) AddPanel(ctx context.Context, p *models.Panel) error {
	gw, err := r.factory(p)
	if err != nil {
		return err
	}
	if err := gw.Authenticate(ctx); err != nil {
		return fmt.Errorf("verify panel %q: %w", p.Name, err)
	}
	if err := r.panels.Create(p); err != nil {
		return fmt.Errorf("store panel %q: %w", p.Name, err)
	}
	r.Invalidate()
	r.log.Info("panel registered", zap.String("name", p.Name), zap.String("type", string(p.Type)))
	return nil
}

// UpdatePanel saves changed credentials and drops any cached session.
func (r *Registry) UpdatePanel(p *models.Panel) error {
	if err := r.panels.Update(p); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// DeletePanel removes a panel. Usernames owned by it are first repointed
// at migrateTo; deletion is refused when links exist and no target is
// given.
func (r *Registry) DeletePanel(id uint, migrateTo uint) error {
	links, err := r.links.FindByPanel(id)
	if err != nil {
		return err
	}
	if len(links) > 0 {
		if migrateTo == 0 || migrateTo == id {
			return fmt.Errorf("panel %d still owns %d users and no migration target was given", id, len(links))
		}
		if _, err := r.PanelByID(migrateTo); err != nil {
			return fmt.Errorf("migration target %d: %w", migrateTo, err)
		}
		moved, err := r.links.MigratePanel(id, migrateTo)
		if err != nil {
			return fmt.Errorf("migrate users off panel %d: %w", id, err)
		}
		r.log.Info("migrated users before panel delete",
			zap.Uint("from", id), zap.Uint("to", migrateTo), zap.Int64("moved", moved))
	}

	if err := r.panels.Delete(id); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// SetTestFlag marks a panel as the test panel and clears the flag on the
// rest.
func (r *Registry) SetTestFlag(id uint, isTest bool) error {
	if isTest {
		panels, err := r.ListPanels()
		if err != nil {
			return err
		}
		for _, p := range panels {
			if p.IsTestPanel && p.ID != id {
				if err := r.panels.SetTestFlag(p.ID, false); err != nil {
					return err
				}
			}
		}
	}
	if err := r.panels.SetTestFlag(id, isTest); err != nil {
		return err
	}
	r.Invalidate()
	return nil
}

// SetGatewayFactory replaces how vendor clients are built. Existing
// cached gateways are dropped.
func (r *Registry) SetGatewayFactory(f GatewayFactory) {
	r.mu.Lock()
	r.factory = f
	r.gateways = make(map[uint]panel.Gateway)
	r.mu.Unlock()
}

// Invalidate drops the panel cache and all cached gateway sessions.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.cachedAt = time.Time{}
	r.gateways = make(map[uint]panel.Gateway)
}

// GatewayFor returns the vendor client for a panel, reusing an existing
// one so auth tokens survive between calls.
func (r *Registry) GatewayFor(p *models.Panel) (panel.Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gw, ok := r.gateways[p.ID]; ok {
		return gw, nil
	}
	gw, err := r.factory(p)
	if err != nil {
		return nil, err
	}
	r.gateways[p.ID] = gw
	return gw, nil
}

// ResolveOwner finds the panel that owns a username. The link table is
// the fast path; when it is missing or points at a panel that no longer
// has the user, every panel is scanned and the link row is rewritten to
// match reality.
func (r *Registry) ResolveOwner(ctx context.Context, username string) (*models.Panel, *panel.RemoteUser, error) {
	link, err := r.links.FindByUsername(username)
	if err == nil {
		if p, pErr := r.PanelByID(link.PanelID); pErr == nil {
			gw, gErr := r.GatewayFor(p)
			if gErr == nil {
				user, uErr := gw.GetUser(ctx, username)
				if uErr == nil {
					user.PanelID = p.ID
					user.PanelName = p.Name
					return p, user, nil
				}
				if !errors.Is(uErr, panel.ErrNotFound) {
					return nil, nil, uErr
				}
			}
		}
		r.log.Warn("owner record stale, rescanning panels", zap.String("username", username), zap.Uint("panel_id", link.PanelID))
	}

	panels, err := r.ListPanels()
	if err != nil {
		return nil, nil, err
	}
	for i := range panels {
		p := &panels[i]
		gw, gErr := r.GatewayFor(p)
		if gErr != nil {
			continue
		}
		user, uErr := gw.GetUser(ctx, username)
		if uErr != nil {
			continue
		}
		user.PanelID = p.ID
		user.PanelName = p.Name

		healed := &models.ManagedUser{Username: username, PanelID: p.ID}
		if link != nil {
			healed.TelegramID = link.TelegramID
			healed.AutoRenew = link.AutoRenew
		}
		if upErr := r.links.Upsert(healed); upErr != nil {
			r.log.Error("failed to heal owner record", zap.String("username", username), zap.Error(upErr))
		} else {
			r.log.Info("owner record healed", zap.String("username", username), zap.Uint("panel_id", p.ID))
		}
		return p, user, nil
	}

	return nil, nil, fmt.Errorf("%w: %s", ErrOwnerNotFound, username)
}
