package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/panel"
	"github.com/mersvpn/mersyar/internal/pkg/utils"
	"github.com/mersvpn/mersyar/internal/registry"
	"github.com/mersvpn/mersyar/internal/repository"
)

// createAttempts bounds the username conflict retry loop: the requested
// name plus three suffixed candidates.
const createAttempts = 4

// Provisioner carries out panel-side account changes and keeps the local
// ownership and plan records in step with them.
type Provisioner struct {
	registry *registry.Registry
	links    *repository.LinkRepository
	notes    *repository.NoteRepository
	log      *zap.Logger
}

func NewProvisioner(reg *registry.Registry, links *repository.LinkRepository, notes *repository.NoteRepository, log *zap.Logger) *Provisioner {
	return &Provisioner{registry: reg, links: links, notes: notes, log: log}
}

// CreateUser creates the account on the plan's panel and records
// ownership. When the requested username is taken, up to three suffixed
// variants (name_NN, two random digits) are tried before giving up.
func (p *Provisioner) CreateUser(ctx context.Context, telegramID int64, plan models.PlanDetails, price int64) (*panel.RemoteUser, error) {
	target, err := p.targetPanel(plan.PanelID)
	if err != nil {
		return nil, err
	}
	gw, err := p.registry.GatewayFor(target)
	if err != nil {
		return nil, err
	}

	dataLimit := int64(0)
	if !plan.Unlimited {
		dataLimit = utils.GBToBytes(float64(plan.VolumeGB))
	}

	username := plan.Username
	var user *panel.RemoteUser
	for attempt := 0; attempt < createAttempts; attempt++ {
		if attempt > 0 {
			username = fmt.Sprintf("%s_%02d", plan.Username, rand.Intn(100))
		}
		user, err = gw.CreateUser(ctx, panel.CreateUserRequest{
			Username:   username,
			DataLimit:  dataLimit,
			ExpireDays: plan.DurationDays,
			MaxIPs:     plan.MaxIPs,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, panel.ErrConflict) {
			return nil, fmt.Errorf("create %q on %s: %w", username, target.Name, err)
		}
		p.log.Info("username taken, retrying with suffix",
			zap.String("username", username), zap.String("panel", target.Name))
	}
	if err != nil {
		return nil, fmt.Errorf("no free username variant for %q: %w", plan.Username, err)
	}

	if err := p.links.Upsert(&models.ManagedUser{
		Username:   username,
		PanelID:    target.ID,
		TelegramID: telegramID,
	}); err != nil {
		p.log.Error("account created but ownership record failed",
			zap.String("username", username), zap.Error(err))
	}
	note := &models.SubscriptionNote{
		Username:     username,
		DurationDays: plan.DurationDays,
		Price:        price,
	}
	if !plan.Unlimited {
		note.DataLimitGB = plan.VolumeGB
	}
	if err := p.notes.Upsert(note); err != nil {
		p.log.Error("account created but plan note failed",
			zap.String("username", username), zap.Error(err))
	}

	user.PanelID = target.ID
	user.PanelName = target.Name
	return user, nil
}

// Renew pushes the account's expiry forward by the plan duration and
// resets its traffic counter. An already expired account restarts from
// now instead of stacking onto the past date.
func (p *Provisioner) Renew(ctx context.Context, username string, plan models.PlanDetails) error {
	owner, current, err := p.registry.ResolveOwner(ctx, username)
	if err != nil {
		return err
	}
	gw, err := p.registry.GatewayFor(owner)
	if err != nil {
		return err
	}

	base := time.Now()
	if exp := time.Unix(current.Expire, 0); current.Expire > 0 && exp.After(base) {
		base = exp
	}
	newExpire := base.Add(time.Duration(plan.DurationDays) * 24 * time.Hour).Unix()

	req := panel.ModifyUserRequest{Status: "active", Expire: newExpire}
	if !plan.Unlimited && plan.VolumeGB > 0 {
		req.DataLimit = utils.GBToBytes(float64(plan.VolumeGB))
	}
	if err := gw.ModifyUser(ctx, username, req); err != nil {
		return fmt.Errorf("renew %q on %s: %w", username, owner.Name, err)
	}
	if err := gw.ResetTraffic(ctx, username); err != nil {
		return fmt.Errorf("reset traffic for %q on %s: %w", username, owner.Name, err)
	}

	p.log.Info("account renewed",
		zap.String("username", username),
		zap.String("panel", owner.Name),
		zap.Int64("new_expire", newExpire))
	return nil
}

// TopUp adds volume on top of the account's current data limit.
func (p *Provisioner) TopUp(ctx context.Context, username string, volumeGB int) error {
	owner, current, err := p.registry.ResolveOwner(ctx, username)
	if err != nil {
		return err
	}
	gw, err := p.registry.GatewayFor(owner)
	if err != nil {
		return err
	}

	if current.DataLimit == 0 {
		// Unlimited accounts have nothing to top up.
		return nil
	}
	newLimit := current.DataLimit + utils.GBToBytes(float64(volumeGB))
	if err := gw.ModifyUser(ctx, username, panel.ModifyUserRequest{DataLimit: newLimit}); err != nil {
		return fmt.Errorf("top up %q on %s: %w", username, owner.Name, err)
	}
	return nil
}

// Delete removes the account from its panel and drops the local records.
// A user already gone remotely still gets its records cleaned up.
func (p *Provisioner) Delete(ctx context.Context, username string) error {
	owner, _, err := p.registry.ResolveOwner(ctx, username)
	if err == nil {
		gw, gErr := p.registry.GatewayFor(owner)
		if gErr != nil {
			return gErr
		}
		if dErr := gw.DeleteUser(ctx, username); dErr != nil && !errors.Is(dErr, panel.ErrNotFound) {
			return fmt.Errorf("delete %q on %s: %w", username, owner.Name, dErr)
		}
	} else if !errors.Is(err, registry.ErrOwnerNotFound) {
		return err
	}

	if err := p.links.Delete(username); err != nil {
		return err
	}
	if err := p.notes.Delete(username); err != nil {
		return err
	}
	p.log.Info("account deleted", zap.String("username", username))
	return nil
}

// CreateTestAccount creates a short-lived trial account on the panel
// flagged for tests and marks its note so the hourly sweep reaps it.
func (p *Provisioner) CreateTestAccount(ctx context.Context, telegramID int64, username string, hours int, volumeGB int) (*panel.RemoteUser, error) {
	target, err := p.registry.TestPanel()
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, errors.New("no test panel configured")
	}
	gw, err := p.registry.GatewayFor(target)
	if err != nil {
		return nil, err
	}

	days := hours / 24
	if hours%24 != 0 {
		days++
	}
	user, err := gw.CreateUser(ctx, panel.CreateUserRequest{
		Username:   username,
		DataLimit:  utils.GBToBytes(float64(volumeGB)),
		ExpireDays: days,
	})
	if err != nil {
		return nil, fmt.Errorf("create test account %q on %s: %w", username, target.Name, err)
	}

	if err := p.links.Upsert(&models.ManagedUser{
		Username:   username,
		PanelID:    target.ID,
		TelegramID: telegramID,
	}); err != nil {
		p.log.Error("test account created but ownership record failed",
			zap.String("username", username), zap.Error(err))
	}
	if err := p.notes.Upsert(&models.SubscriptionNote{
		Username:      username,
		DurationDays:  days,
		DataLimitGB:   volumeGB,
		IsTestAccount: true,
	}); err != nil {
		p.log.Error("test account created but plan note failed",
			zap.String("username", username), zap.Error(err))
	}

	user.PanelID = target.ID
	user.PanelName = target.Name
	return user, nil
}

func (p *Provisioner) targetPanel(panelID uint) (*models.Panel, error) {
	if panelID > 0 {
		return p.registry.PanelByID(panelID)
	}

	// No explicit target: place the account on the least-loaded
	// non-test panel.
	panels, err := p.registry.ListPanelsExcludingTest()
	if err != nil {
		return nil, err
	}
	if len(panels) == 0 {
		return nil, errors.New("no panels registered")
	}

	best := &panels[0]
	bestCount := int64(-1)
	for i := range panels {
		links, lErr := p.links.FindByPanel(panels[i].ID)
		if lErr != nil {
			continue
		}
		count := int64(len(links))
		if bestCount == -1 || count < bestCount {
			best = &panels[i]
			bestCount = count
		}
	}
	return best, nil
}
