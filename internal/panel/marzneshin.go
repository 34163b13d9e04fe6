package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mersvpn/mersyar/internal/pkg/httpclient"
)

// MarzneshinClient implements Gateway for Marzneshin panels. The API is
// close to Marzban's but expiry is a strategy plus RFC3339 date and the
// admin token lives at /api/admins/token. Token state is guarded, the
// instance being shared between jobs and handlers.
type MarzneshinClient struct {
	baseURL  string
	username string
	password string
	retry    RetryPolicy

	mu        sync.Mutex
	token     string
	tokenTime time.Time
	client    *httpclient.Client
}

func NewMarzneshinClient(baseURL, username, password string) *MarzneshinClient {
	return &MarzneshinClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username: strings.TrimSpace(username),
		password: password,
		retry:    DefaultRetryPolicy,
		client:   httpclient.New().WithTimeout(30 * time.Second).WithInsecureSkipVerify(),
	}
}

func (m *MarzneshinClient) Type() string { return "marzneshin" }

func (m *MarzneshinClient) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && time.Since(m.tokenTime) < 50*time.Minute {
		return nil
	}
	return m.authenticate(ctx)
}

// authenticate requires m.mu. The new token goes onto a fresh client so
// requests still in flight on the previous one are left alone.
func (m *MarzneshinClient) authenticate(ctx context.Context) error {
	form := map[string]string{
		"username": m.username,
		"password": m.password,
	}

	return m.retry.Do(ctx, func() error {
		resp, err := m.client.PostForm(ctx, m.baseURL+"/api/admins/token", form)
		if err != nil || !resp.IsSuccess() {
			// Some deployments use the Marzban-compatible path.
			resp, err = m.client.PostForm(ctx, m.baseURL+"/api/admin/token", form)
		}
		if err != nil {
			return fmt.Errorf("marzneshin auth request: %w", err)
		}
		if resp.StatusCode == 401 || resp.StatusCode == 403 {
			return fmt.Errorf("marzneshin: %w", ErrAuthFailed)
		}

		var out map[string]interface{}
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return fmt.Errorf("marzneshin auth parse: %w", err)
		}
		token := strings.TrimSpace(getString(out, "access_token"))
		if token == "" {
			return fmt.Errorf("marzneshin: %w", ErrAuthFailed)
		}

		m.token = token
		m.tokenTime = time.Now()
		m.client = httpclient.New().WithTimeout(30 * time.Second).WithInsecureSkipVerify().WithBearerToken(token)
		return nil
	})
}

// ensureAuth refreshes the token when missing or stale and returns the
// client to use for this call. Concurrent callers share a single login.
func (m *MarzneshinClient) ensureAuth(ctx context.Context) (*httpclient.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || time.Since(m.tokenTime) > 50*time.Minute {
		if err := m.authenticate(ctx); err != nil {
			return nil, err
		}
	}
	return m.client, nil
}

func (m *MarzneshinClient) ListUsers(ctx context.Context) ([]RemoteUser, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	var users []RemoteUser
	err = m.retry.Do(ctx, func() error {
		users = users[:0]
		page := 1
		for {
			resp, err := c.Get(ctx, fmt.Sprintf("%s/api/users?page=%d&size=200", m.baseURL, page))
			if err != nil {
				return fmt.Errorf("marzneshin list users: %w", err)
			}
			if err := checkStatus(resp); err != nil {
				return err
			}

			var raw struct {
				Items []map[string]interface{} `json:"items"`
				Pages int                      `json:"pages"`
			}
			if err := json.Unmarshal(resp.Body, &raw); err != nil {
				return fmt.Errorf("marzneshin parse users: %w", err)
			}
			for _, item := range raw.Items {
				users = append(users, m.toRemoteUser(item))
			}
			if raw.Pages <= page || len(raw.Items) == 0 {
				return nil
			}
			page++
		}
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (m *MarzneshinClient) GetUser(ctx context.Context, username string) (*RemoteUser, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	var user *RemoteUser
	err = m.retry.Do(ctx, func() error {
		resp, err := c.Get(ctx, m.baseURL+"/api/users/"+username)
		if err != nil {
			return fmt.Errorf("marzneshin get user: %w", err)
		}
		if err := checkStatus(resp); err != nil {
			return err
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(resp.Body, &raw); err != nil {
			return fmt.Errorf("marzneshin parse user: %w", err)
		}
		u := m.toRemoteUser(raw)
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (m *MarzneshinClient) CreateUser(ctx context.Context, req CreateUserRequest) (*RemoteUser, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"username":   req.Username,
		"data_limit": req.DataLimit,
		"note":       req.Note,
	}
	if req.ExpireDays <= 0 {
		payload["expire_strategy"] = "never"
	} else {
		payload["expire_strategy"] = "fixed_date"
		payload["expire_date"] = time.Now().Add(time.Duration(req.ExpireDays) * 24 * time.Hour).UTC().Format(time.RFC3339)
	}

	resp, err := c.Post(ctx, m.baseURL+"/api/users", payload)
	if err != nil {
		return nil, fmt.Errorf("marzneshin create user: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return m.GetUser(ctx, req.Username)
}

func (m *MarzneshinClient) ModifyUser(ctx context.Context, username string, req ModifyUserRequest) error {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"username": username,
	}
	if req.DataLimit > 0 {
		payload["data_limit"] = req.DataLimit
	}
	if req.Expire > 0 {
		payload["expire_strategy"] = "fixed_date"
		payload["expire_date"] = time.Unix(req.Expire, 0).UTC().Format(time.RFC3339)
	}
	if req.Status != "" {
		switch strings.ToLower(strings.TrimSpace(req.Status)) {
		case "active":
			payload["enabled"] = true
		case "disable", "disabled":
			payload["enabled"] = false
		}
	}

	resp, err := c.Put(ctx, m.baseURL+"/api/users/"+username, payload)
	if err != nil {
		return fmt.Errorf("marzneshin modify user: %w", err)
	}
	return checkStatus(resp)
}

func (m *MarzneshinClient) DeleteUser(ctx context.Context, username string) error {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return err
	}
	resp, err := c.Delete(ctx, m.baseURL+"/api/users/"+username)
	if err != nil {
		return fmt.Errorf("marzneshin delete user: %w", err)
	}
	return checkStatus(resp)
}

func (m *MarzneshinClient) ResetTraffic(ctx context.Context, username string) error {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return err
	}
	resp, err := c.Post(ctx, m.baseURL+"/api/users/"+username+"/reset", nil)
	if err != nil {
		return fmt.Errorf("marzneshin reset traffic: %w", err)
	}
	return checkStatus(resp)
}

func (m *MarzneshinClient) RevokeSubscription(ctx context.Context, username string) (string, error) {
	c, err := m.ensureAuth(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.Post(ctx, m.baseURL+"/api/users/"+username+"/revoke_sub", nil)
	if err != nil {
		return "", fmt.Errorf("marzneshin revoke sub: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return "", fmt.Errorf("marzneshin parse revoke: %w", err)
	}
	link := absolutizeURL(m.baseURL, getString(raw, "subscription_url"))
	if strings.TrimSpace(link) == "" {
		user, gErr := m.GetUser(ctx, username)
		if gErr != nil {
			return "", gErr
		}
		return user.SubscriptionURL, nil
	}
	return link, nil
}

func (m *MarzneshinClient) toRemoteUser(raw map[string]interface{}) RemoteUser {
	status := "active"
	if enabled, ok := raw["enabled"].(bool); ok && !enabled {
		status = "disabled"
	}
	if expired, ok := raw["expired"].(bool); ok && expired {
		status = "expired"
	}
	dataLimit, used := toInt64(raw["data_limit"]), toInt64(raw["used_traffic"])
	if dataLimit > 0 && dataLimit-used <= 0 {
		status = "limited"
	}

	return RemoteUser{
		Username:        strings.TrimSpace(getString(raw, "username")),
		Status:          status,
		DataLimit:       dataLimit,
		UsedTraffic:     used,
		Expire:          parseAnyTime(raw["expire_date"]),
		SubscriptionURL: absolutizeURL(m.baseURL, getString(raw, "subscription_url")),
	}
}

func parseAnyTime(v interface{}) int64 {
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" || s == "<nil>" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func absolutizeURL(baseURL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(link, "/")
}
