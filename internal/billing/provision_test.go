package billing

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mersvpn/mersyar/internal/models"
	"github.com/mersvpn/mersyar/internal/panel"
)

func TestCreateUserRecordsOwnershipAndPlan(t *testing.T) {
	f := newFixture(t)
	p := f.addPanel(t, "de-1", false)

	user, err := f.provisioner.CreateUser(context.Background(), 42, models.PlanDetails{
		Username:     "alice",
		VolumeGB:     10,
		DurationDays: 30,
	}, 500)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, p.ID, user.PanelID)
	assert.Equal(t, int64(10*panel.GBInBytes), user.DataLimit)

	link, err := f.links.FindByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, link.PanelID)
	assert.Equal(t, int64(42), link.TelegramID)

	note, err := f.notes.FindByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, 30, note.DurationDays)
	assert.Equal(t, 10, note.DataLimitGB)
	assert.Equal(t, int64(500), note.Price)
}

func TestCreateUserRetriesTakenUsername(t *testing.T) {
	f := newFixture(t)
	f.addPanel(t, "de-1", false, panel.RemoteUser{Username: "alice", Status: "active"})

	user, err := f.provisioner.CreateUser(context.Background(), 42, models.PlanDetails{
		Username:     "alice",
		VolumeGB:     5,
		DurationDays: 30,
	}, 300)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^alice_\d{2}$`), user.Username)

	link, err := f.links.FindByUsername(user.Username)
	require.NoError(t, err)
	assert.Equal(t, int64(42), link.TelegramID)
}

func TestCreateUserGivesUpAfterExhaustingVariants(t *testing.T) {
	f := newFixture(t)
	p := f.addPanel(t, "de-1", false)
	f.gateways[p.ID].createErr = panel.ErrConflict

	_, err := f.provisioner.CreateUser(context.Background(), 42, models.PlanDetails{
		Username:     "alice",
		DurationDays: 30,
	}, 300)
	require.ErrorIs(t, err, panel.ErrConflict)

	_, err = f.links.FindByUsername("alice")
	assert.Error(t, err)
}

func TestCreateUserPrefersLeastLoadedPanel(t *testing.T) {
	f := newFixture(t)
	busy := f.addPanel(t, "de-1", false)
	idle := f.addPanel(t, "nl-1", false)
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "old1", PanelID: busy.ID}))
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "old2", PanelID: busy.ID}))

	user, err := f.provisioner.CreateUser(context.Background(), 42, models.PlanDetails{
		Username:     "alice",
		DurationDays: 30,
		Unlimited:    true,
	}, 300)
	require.NoError(t, err)
	assert.Equal(t, idle.ID, user.PanelID)
	assert.Zero(t, user.DataLimit)
}

func TestCreateUserHonorsExplicitPanel(t *testing.T) {
	f := newFixture(t)
	f.addPanel(t, "de-1", false)
	wanted := f.addPanel(t, "nl-1", false)

	user, err := f.provisioner.CreateUser(context.Background(), 42, models.PlanDetails{
		Username:     "alice",
		PanelID:      wanted.ID,
		DurationDays: 30,
	}, 300)
	require.NoError(t, err)
	assert.Equal(t, wanted.ID, user.PanelID)
}

func TestTopUpSkipsUnlimitedAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPanel(t, "de-1", false,
		panel.RemoteUser{Username: "capped", Status: "active", DataLimit: 10 * panel.GBInBytes},
		panel.RemoteUser{Username: "unlimited", Status: "active"},
	)
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "capped", PanelID: p.ID}))
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "unlimited", PanelID: p.ID}))

	require.NoError(t, f.provisioner.TopUp(ctx, "capped", 5))
	u, err := f.gateways[p.ID].GetUser(ctx, "capped")
	require.NoError(t, err)
	assert.Equal(t, int64(15*panel.GBInBytes), u.DataLimit)

	require.NoError(t, f.provisioner.TopUp(ctx, "unlimited", 5))
	u, err = f.gateways[p.ID].GetUser(ctx, "unlimited")
	require.NoError(t, err)
	assert.Zero(t, u.DataLimit)
}

func TestDeleteCleansUpEvenWhenRemoteIsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addPanel(t, "de-1", false, panel.RemoteUser{Username: "alice", Status: "active"})
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "alice", PanelID: p.ID}))
	require.NoError(t, f.notes.Upsert(&models.SubscriptionNote{Username: "alice", DurationDays: 30}))

	require.NoError(t, f.provisioner.Delete(ctx, "alice"))
	_, err := f.gateways[p.ID].GetUser(ctx, "alice")
	assert.ErrorIs(t, err, panel.ErrNotFound)
	_, err = f.links.FindByUsername("alice")
	assert.Error(t, err)
	_, err = f.notes.FindByUsername("alice")
	assert.Error(t, err)

	// Local rows for an account that no panel has are still dropped.
	require.NoError(t, f.links.Upsert(&models.ManagedUser{Username: "orphan", PanelID: p.ID}))
	require.NoError(t, f.notes.Upsert(&models.SubscriptionNote{Username: "orphan"}))
	require.NoError(t, f.provisioner.Delete(ctx, "orphan"))
	_, err = f.links.FindByUsername("orphan")
	assert.Error(t, err)
}

func TestCreateTestAccountUsesTestPanel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPanel(t, "de-1", false)
	trial := f.addPanel(t, "trial", true)

	user, err := f.provisioner.CreateTestAccount(ctx, 42, "tester", 12, 2)
	require.NoError(t, err)
	assert.Equal(t, trial.ID, user.PanelID)
	assert.Equal(t, int64(2*panel.GBInBytes), user.DataLimit)

	note, err := f.notes.FindByUsername("tester")
	require.NoError(t, err)
	assert.True(t, note.IsTestAccount)
	assert.Equal(t, 1, note.DurationDays)
}
