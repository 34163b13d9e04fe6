package panel

import "context"

// GBInBytes converts the GB sizes admins deal in to the byte counts the
// panel APIs expect.
const GBInBytes = 1024 * 1024 * 1024

// RemoteUser is the normalized live view of a subscription on a panel.
// It is never persisted; the panel is the source of truth for usage and
// expiry. PanelID/PanelName are filled in by the aggregator.
type RemoteUser struct {
	Username        string `json:"username"`
	Status          string `json:"status"` // active, disabled, limited, expired
	UsedTraffic     int64  `json:"used_traffic"`
	DataLimit       int64  `json:"data_limit"` // bytes, 0 = unlimited
	Expire          int64  `json:"expire"`     // unix seconds, 0 = never
	SubscriptionURL string `json:"subscription_url,omitempty"`
	PanelID         uint   `json:"panel_id,omitempty"`
	PanelName       string `json:"panel_name,omitempty"`
}

// Active reports whether the panel considers the account usable.
func (u *RemoteUser) Active() bool {
	return u.Status == "active"
}

// CreateUserRequest contains params for creating a user on a panel.
type CreateUserRequest struct {
	Username   string `json:"username"`
	DataLimit  int64  `json:"data_limit"` // bytes
	ExpireDays int    `json:"expire_days"`
	Note       string `json:"note,omitempty"`
	MaxIPs     int    `json:"max_ips,omitempty"`
}

// ModifyUserRequest contains params for modifying a user on a panel.
// Zero-valued fields are left untouched.
type ModifyUserRequest struct {
	Status    string `json:"status,omitempty"`
	DataLimit int64  `json:"data_limit,omitempty"`
	Expire    int64  `json:"expire,omitempty"` // unix seconds
}

// Gateway is the adapter contract every panel vendor implements. Adding a
// vendor means adding one implementation and one factory case; call sites
// never branch on the vendor.
type Gateway interface {
	// Authenticate logs in and caches the auth token/session in-process.
	Authenticate(ctx context.Context) error

	// ListUsers returns every user on the panel.
	ListUsers(ctx context.Context) ([]RemoteUser, error)

	// GetUser gets a user by username. Returns ErrNotFound when absent.
	GetUser(ctx context.Context, username string) (*RemoteUser, error)

	// CreateUser creates a new user. Returns ErrConflict when the
	// username is taken; it never overwrites an existing account.
	CreateUser(ctx context.Context, req CreateUserRequest) (*RemoteUser, error)

	// ModifyUser applies a delta to an existing user.
	ModifyUser(ctx context.Context, username string, req ModifyUserRequest) error

	// DeleteUser removes a user from the panel.
	DeleteUser(ctx context.Context, username string) error

	// ResetTraffic zeroes the used-traffic counter for a user.
	ResetTraffic(ctx context.Context, username string) error

	// RevokeSubscription revokes and regenerates the subscription link.
	RevokeSubscription(ctx context.Context, username string) (string, error)

	// Type returns the panel vendor identifier.
	Type() string
}
