package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mersvpn/mersyar/internal/pkg/httpclient"
)

// MarzbanClient implements Gateway for Marzban panels. One instance is
// shared between the cron jobs and the API handlers, so the token state
// is guarded.
type MarzbanClient struct {
	baseURL  string
	username string
	password string
	retry    RetryPolicy

	mu        sync.Mutex
	token     string
	tokenTime time.Time
	client    *httpclient.Client
}

// NewMarzbanClient creates a new Marzban panel gateway.
func NewMarzbanClient(baseURL, username, password string) *MarzbanClient {
	return &MarzbanClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username: strings.TrimSpace(username),
		password: password,
		retry:    DefaultRetryPolicy,
		client:   httpclient.New().WithTimeout(30 * time.Second).WithInsecureSkipVerify(),
	}
}

func (m *MarzbanClient) Type() string { return "marzban" }

// Authenticate obtains a bearer token from the Marzban panel. The token is
// cached in-process and refreshed after 50 minutes; it is never persisted.
func (m *MarzbanClient) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticate(ctx)
}

// authenticate requires m.mu. The new token goes onto a fresh client so
// requests still in flight on the previous one are left alone.
func (m *MarzbanClient) authenticate(ctx context.Context) error {
	return m.retry.Do(ctx, func() error {
		resp, err := m.client.PostForm(ctx, m.baseURL+"/api/admin/token", map[string]string{
			"username": m.username,
			"password": m.password,
		})
		if err != nil {
			return fmt.Errorf("marzban auth request: %w", err)
		}
		if !resp.IsSuccess() {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return fmt.Errorf("marzban: %w", ErrAuthFailed)
			}
			return &APIError{StatusCode: resp.StatusCode, Detail: extractDetail(resp.Body)}
		}

		var result struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(resp.Body, &result); err != nil {
			return fmt.Errorf("marzban auth parse: %w", err)
		}
		if result.AccessToken == "" {
			return fmt.Errorf("marzban: %w", ErrAuthFailed)
		}

		m.token = result.AccessToken
		m.tokenTime = time.Now()
		m.client = httpclient.New().WithTimeout(30 * time.Second).WithInsecureSkipVerify().WithBearerToken(result.AccessToken)
		return nil
	})
}

// ensureAuth refreshes the token when missing or stale and returns the
// client to use for this call. Concurrent callers share a single login.
func (m *MarzbanClient) ensureAuth(ctx context.Context) (*httpclient.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || time.Since(m.tokenTime) > 50*time.Minute {
		if err := m.authenticate(ctx); err != nil {
			return nil, err
		}
	}
	return m.client, nil
}

func (m *MarzbanClient) ListUsers(ctx context.Context) ([]RemoteUser, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	var users []RemoteUser
	err = m.retry.Do(ctx, func() error {
		resp, err := c.Get(ctx, m.baseURL+"/api/users")
		if err != nil {
			return fmt.Errorf("marzban list users: %w", err)
		}
		if err := checkStatus(resp); err != nil {
			return err
		}

		var raw struct {
			Users []json.RawMessage `json:"users"`
		}
		if err := json.Unmarshal(resp.Body, &raw); err != nil {
			return fmt.Errorf("marzban parse users: %w", err)
		}

		users = users[:0]
		for _, item := range raw.Users {
			var obj map[string]interface{}
			if err := json.Unmarshal(item, &obj); err != nil {
				continue
			}
			users = append(users, marzbanToRemoteUser(obj))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MarzbanClient) GetUser(ctx context.Context, username string) (*RemoteUser, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	var user *RemoteUser
	err = m.retry.Do(ctx, func() error {
		resp, err := c.Get(ctx, m.baseURL+"/api/user/"+username)
		if err != nil {
			return fmt.Errorf("marzban get user: %w", err)
		}
		if err := checkStatus(resp); err != nil {
			return err
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(resp.Body, &raw); err != nil {
			return fmt.Errorf("marzban parse user: %w", err)
		}
		u := marzbanToRemoteUser(raw)
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (m *MarzbanClient) CreateUser(ctx context.Context, req CreateUserRequest) (*RemoteUser, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	expire := int64(0)
	if req.ExpireDays > 0 {
		expire = time.Now().Add(time.Duration(req.ExpireDays) * 24 * time.Hour).Unix()
	}

	body := map[string]interface{}{
		"username":   req.Username,
		"status":     "active",
		"data_limit": req.DataLimit,
		"expire":     expire,
		"note":       req.Note,
		"proxies":    map[string]interface{}{"vless": map[string]interface{}{}},
	}
	if req.MaxIPs > 0 {
		body["on_hold_max_ips"] = req.MaxIPs
	}

	resp, err := c.Post(ctx, m.baseURL+"/api/user", body)
	if err != nil {
		return nil, fmt.Errorf("marzban create user: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("marzban parse create response: %w", err)
	}
	user := marzbanToRemoteUser(raw)
	return &user, nil
}

func (m *MarzbanClient) ModifyUser(ctx context.Context, username string, req ModifyUserRequest) error {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return err
	}

	body := map[string]interface{}{}
	if req.Status != "" {
		body["status"] = req.Status
	}
	if req.DataLimit > 0 {
		body["data_limit"] = req.DataLimit
	}
	if req.Expire > 0 {
		body["expire"] = req.Expire
	}

	resp, err := c.Put(ctx, m.baseURL+"/api/user/"+username, body)
	if err != nil {
		return fmt.Errorf("marzban modify user: %w", err)
	}
	return checkStatus(resp)
}

func (m *MarzbanClient) DeleteUser(ctx context.Context, username string) error {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return err
	}

	resp, err := c.Delete(ctx, m.baseURL+"/api/user/"+username)
	if err != nil {
		return fmt.Errorf("marzban delete user: %w", err)
	}
	return checkStatus(resp)
}

func (m *MarzbanClient) ResetTraffic(ctx context.Context, username string) error {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return err
	}

	resp, err := c.Post(ctx, m.baseURL+"/api/user/"+username+"/reset", nil)
	if err != nil {
		return fmt.Errorf("marzban reset traffic: %w", err)
	}
	return checkStatus(resp)
}

func (m *MarzbanClient) RevokeSubscription(ctx context.Context, username string) (string, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return "", err
	}

	resp, err := c.Post(ctx, m.baseURL+"/api/user/"+username+"/revoke_sub", nil)
	if err != nil {
		return "", fmt.Errorf("marzban revoke sub: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return "", fmt.Errorf("marzban parse revoke response: %w", err)
	}
	return getString(raw, "subscription_url"), nil
}

func marzbanToRemoteUser(raw map[string]interface{}) RemoteUser {
	user := RemoteUser{
		Username:        getString(raw, "username"),
		Status:          getString(raw, "status"),
		SubscriptionURL: getString(raw, "subscription_url"),
	}
	if v, ok := raw["data_limit"].(float64); ok {
		user.DataLimit = int64(v)
	}
	if v, ok := raw["used_traffic"].(float64); ok {
		user.UsedTraffic = int64(v)
	}
	if v, ok := raw["expire"].(float64); ok {
		user.Expire = int64(v)
	}
	return user
}
