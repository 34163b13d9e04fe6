package cron

import (
	"time"

	"github.com/mersvpn/mersyar/internal/panel"
)

// expiringWithin reports whether the account expires inside the warning
// window but has not expired yet. Accounts with no expiry never warn.
func expiringWithin(u panel.RemoteUser, days int, now time.Time) bool {
	if days <= 0 || u.Expire == 0 {
		return false
	}
	expire := time.Unix(u.Expire, 0)
	if !expire.After(now) {
		return false
	}
	return expire.Before(now.Add(time.Duration(days) * 24 * time.Hour))
}

// lowOnData reports whether a capped account has dropped under the
// warning threshold without hitting zero.
func lowOnData(u panel.RemoteUser, thresholdGB int) bool {
	if thresholdGB <= 0 || u.DataLimit == 0 {
		return false
	}
	remaining := u.DataLimit - u.UsedTraffic
	return remaining > 0 && remaining <= int64(thresholdGB)*panel.GBInBytes
}

// expiredFor returns how long ago the account expired, or zero when it
// is still alive or never expires.
func expiredFor(u panel.RemoteUser, now time.Time) time.Duration {
	if u.Expire == 0 {
		return 0
	}
	expire := time.Unix(u.Expire, 0)
	if expire.After(now) {
		return 0
	}
	return now.Sub(expire)
}

// renewalDue reports whether an active account is inside the renewal
// window. The extension stacks onto the current expiry, so renewing
// early loses the customer no paid time. Expired or disabled accounts
// are never renewed automatically.
func renewalDue(u panel.RemoteUser, days int, now time.Time) bool {
	if days <= 0 || u.Expire == 0 || !u.Active() {
		return false
	}
	expire := time.Unix(u.Expire, 0)
	return expire.After(now) && expire.Before(now.Add(time.Duration(days)*24*time.Hour))
}
