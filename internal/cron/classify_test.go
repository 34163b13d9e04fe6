package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mersvpn/mersyar/internal/panel"
)

func TestExpiringWithin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	in2d := panel.RemoteUser{Expire: now.Add(48 * time.Hour).Unix()}
	assert.True(t, expiringWithin(in2d, 3, now))
	assert.False(t, expiringWithin(in2d, 1, now))

	gone := panel.RemoteUser{Expire: now.Add(-time.Hour).Unix()}
	assert.False(t, expiringWithin(gone, 3, now))

	forever := panel.RemoteUser{}
	assert.False(t, expiringWithin(forever, 3, now))

	assert.False(t, expiringWithin(in2d, 0, now))
}

func TestLowOnData(t *testing.T) {
	capped := panel.RemoteUser{DataLimit: 10 * panel.GBInBytes, UsedTraffic: 9*panel.GBInBytes + panel.GBInBytes/2}
	assert.True(t, lowOnData(capped, 1))
	assert.False(t, lowOnData(capped, 0))

	plenty := panel.RemoteUser{DataLimit: 10 * panel.GBInBytes, UsedTraffic: panel.GBInBytes}
	assert.False(t, lowOnData(plenty, 1))

	// Fully drained accounts are dead, not low.
	drained := panel.RemoteUser{DataLimit: 10 * panel.GBInBytes, UsedTraffic: 10 * panel.GBInBytes}
	assert.False(t, lowOnData(drained, 1))

	unlimited := panel.RemoteUser{UsedTraffic: 100 * panel.GBInBytes}
	assert.False(t, lowOnData(unlimited, 1))
}

func TestExpiredFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 72*time.Hour, expiredFor(panel.RemoteUser{Expire: now.Add(-72 * time.Hour).Unix()}, now))
	assert.Zero(t, expiredFor(panel.RemoteUser{Expire: now.Add(time.Hour).Unix()}, now))
	assert.Zero(t, expiredFor(panel.RemoteUser{}, now))
}

func TestRenewalDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	active := func(in time.Duration) panel.RemoteUser {
		return panel.RemoteUser{Status: "active", Expire: now.Add(in).Unix()}
	}

	assert.True(t, renewalDue(active(12*time.Hour), 3, now))
	assert.True(t, renewalDue(active(48*time.Hour), 3, now))
	assert.False(t, renewalDue(active(96*time.Hour), 3, now))

	// An account past its expiry is never renewed behind the customer's back.
	assert.False(t, renewalDue(active(-time.Hour), 3, now))
	assert.False(t, renewalDue(panel.RemoteUser{Status: "expired", Expire: now.Add(-time.Hour).Unix()}, 3, now))

	assert.False(t, renewalDue(panel.RemoteUser{Status: "disabled", Expire: now.Add(12 * time.Hour).Unix()}, 3, now))
	assert.False(t, renewalDue(panel.RemoteUser{Status: "active"}, 3, now))
	assert.False(t, renewalDue(active(12*time.Hour), 0, now))
}

func TestParseClock(t *testing.T) {
	hour, minute := parseClock("21:30")
	assert.Equal(t, 21, hour)
	assert.Equal(t, 30, minute)

	hour, minute = parseClock(" 09:05 ")
	assert.Equal(t, 9, hour)
	assert.Equal(t, 5, minute)

	for _, bad := range []string{"", "25:00", "12:75", "noon", "12"} {
		hour, minute = parseClock(bad)
		assert.Equal(t, 9, hour, "input %q", bad)
		assert.Zero(t, minute, "input %q", bad)
	}
}
