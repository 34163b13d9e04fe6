package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mersvpn/mersyar/internal/pkg/httpclient"
)

// XUIClient implements Gateway for 3x-ui/x-ui panels. X-UI identifies
// clients by email and hangs them off inbounds, so every operation first
// locates the client row; expiry is in milliseconds and status is an
// enable flag, both normalized here.
type XUIClient struct {
	baseURL        string
	username       string
	password       string
	apiBase        string
	defaultInbound int
	retry          RetryPolicy
	client         *httpclient.Client

	// The session itself lives in the client's cookie jar; the mutex
	// guards the freshness bookkeeping and makes concurrent callers
	// share one login.
	mu            sync.Mutex
	authenticated bool
	authTime      time.Time
}

// NewXUIClient creates a new X-UI panel gateway.
func NewXUIClient(baseURL, username, password string) *XUIClient {
	return &XUIClient{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:       strings.TrimSpace(username),
		password:       password,
		apiBase:        "/panel/api/inbounds",
		defaultInbound: 1,
		retry:          DefaultRetryPolicy,
		client:         httpclient.New().WithTimeout(30*time.Second).WithInsecureSkipVerify().WithHeader("Accept", "application/json"),
	}
}

func (x *XUIClient) Type() string { return "x-ui" }

// Authenticate logs in and keeps the session cookie on the client. X-UI
// sessions are short-lived, so it re-logs-in after 50 minutes.
func (x *XUIClient) Authenticate(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.authenticated && time.Since(x.authTime) < 50*time.Minute {
		return nil
	}

	return x.retry.Do(ctx, func() error {
		resp, err := x.client.PostForm(ctx, x.baseURL+"/login", map[string]string{
			"username": x.username,
			"password": x.password,
		})
		if err != nil {
			return fmt.Errorf("xui login request: %w", err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("xui: %w", ErrAuthFailed)
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			if ok, exists := raw["success"].(bool); exists && !ok {
				return fmt.Errorf("xui: %w", ErrAuthFailed)
			}
		}

		x.authenticated = true
		x.authTime = time.Now()
		return nil
	})
}

func (x *XUIClient) ListUsers(ctx context.Context) ([]RemoteUser, error) {
	if err := x.Authenticate(ctx); err != nil {
		return nil, err
	}

	var users []RemoteUser
	err := x.retry.Do(ctx, func() error {
		inbounds, err := x.fetchInbounds(ctx)
		if err != nil {
			return err
		}

		users = users[:0]
		for _, inbound := range inbounds {
			stats, _ := inbound["clientStats"].([]interface{})
			for _, st := range stats {
				row, ok := st.(map[string]interface{})
				if !ok {
					continue
				}
				users = append(users, xuiToRemoteUser(row))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (x *XUIClient) GetUser(ctx context.Context, username string) (*RemoteUser, error) {
	if err := x.Authenticate(ctx); err != nil {
		return nil, err
	}

	var user *RemoteUser
	err := x.retry.Do(ctx, func() error {
		row, err := x.fetchClientTraffic(ctx, username)
		if err != nil {
			return err
		}
		u := xuiToRemoteUser(row)
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (x *XUIClient) CreateUser(ctx context.Context, req CreateUserRequest) (*RemoteUser, error) {
	if err := x.Authenticate(ctx); err != nil {
		return nil, err
	}

	// X-UI silently accepts duplicate emails on addClient in some builds,
	// so check first to honor the no-overwrite contract.
	if _, err := x.fetchClientTraffic(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, req.Username)
	}

	expiry := int64(0)
	if req.ExpireDays > 0 {
		expiry = time.Now().Add(time.Duration(req.ExpireDays)*24*time.Hour).Unix() * 1000
	}

	settings := map[string]interface{}{
		"clients": []map[string]interface{}{
			{
				"id":         uuid.NewString(),
				"flow":       "",
				"email":      req.Username,
				"totalGB":    req.DataLimit,
				"expiryTime": expiry,
				"enable":     true,
				"comment":    req.Note,
			},
		},
		"decryption": "none",
		"fallbacks":  []interface{}{},
	}
	settingsJSON, _ := json.Marshal(settings)
	payload := map[string]interface{}{
		"id":       x.defaultInbound,
		"settings": string(settingsJSON),
	}

	resp, err := x.client.Post(ctx, x.baseURL+x.apiBase+"/addClient", payload)
	if err != nil {
		return nil, fmt.Errorf("xui create user: %w", err)
	}
	if err := xuiCheck(resp); err != nil {
		return nil, err
	}

	return x.GetUser(ctx, req.Username)
}

func (x *XUIClient) ModifyUser(ctx context.Context, username string, req ModifyUserRequest) error {
	if err := x.Authenticate(ctx); err != nil {
		return err
	}

	current, err := x.fetchClientTraffic(ctx, username)
	if err != nil {
		return err
	}

	inboundID := int(toInt64(current["inboundId"]))
	if inboundID <= 0 {
		inboundID = x.defaultInbound
	}
	clientID := strings.TrimSpace(fmt.Sprintf("%v", current["id"]))

	enable := boolFromAny(current["enable"], true)
	if req.Status != "" {
		enable = strings.EqualFold(strings.TrimSpace(req.Status), "active")
	}
	dataLimit := toInt64(current["total"])
	if req.DataLimit > 0 {
		dataLimit = req.DataLimit
	}
	expiry := toInt64(current["expiryTime"])
	if req.Expire > 0 {
		expiry = req.Expire * 1000
	}

	settings := map[string]interface{}{
		"clients": []map[string]interface{}{
			{
				"id":         current["id"],
				"flow":       current["flow"],
				"email":      current["email"],
				"totalGB":    dataLimit,
				"expiryTime": expiry,
				"enable":     enable,
				"subId":      current["subId"],
			},
		},
		"decryption": "none",
		"fallbacks":  []interface{}{},
	}
	settingsJSON, _ := json.Marshal(settings)
	payload := map[string]interface{}{
		"id":       inboundID,
		"settings": string(settingsJSON),
	}

	resp, err := x.client.Post(ctx, x.baseURL+x.apiBase+"/updateClient/"+clientID, payload)
	if err != nil {
		return fmt.Errorf("xui modify user: %w", err)
	}
	return xuiCheck(resp)
}

func (x *XUIClient) DeleteUser(ctx context.Context, username string) error {
	if err := x.Authenticate(ctx); err != nil {
		return err
	}

	current, err := x.fetchClientTraffic(ctx, username)
	if err != nil {
		return err
	}
	inboundID := int(toInt64(current["inboundId"]))
	if inboundID <= 0 {
		inboundID = x.defaultInbound
	}

	path := fmt.Sprintf("%s%s/%d/delClientByEmail/%s", x.baseURL, x.apiBase, inboundID, username)
	resp, err := x.client.Post(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("xui delete user: %w", err)
	}
	return xuiCheck(resp)
}

func (x *XUIClient) ResetTraffic(ctx context.Context, username string) error {
	if err := x.Authenticate(ctx); err != nil {
		return err
	}

	current, err := x.fetchClientTraffic(ctx, username)
	if err != nil {
		return err
	}
	inboundID := int(toInt64(current["inboundId"]))
	if inboundID <= 0 {
		inboundID = x.defaultInbound
	}

	path := fmt.Sprintf("%s%s/%d/resetClientTraffic/%s", x.baseURL, x.apiBase, inboundID, username)
	resp, err := x.client.Post(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("xui reset traffic: %w", err)
	}
	return xuiCheck(resp)
}

// RevokeSubscription is a no-op rotation on X-UI; the panel has no revoke
// endpoint, so the current link is returned unchanged.
func (x *XUIClient) RevokeSubscription(ctx context.Context, username string) (string, error) {
	user, err := x.GetUser(ctx, username)
	if err != nil {
		return "", err
	}
	return user.SubscriptionURL, nil
}

func (x *XUIClient) fetchInbounds(ctx context.Context) ([]map[string]interface{}, error) {
	resp, err := x.client.Get(ctx, x.baseURL+x.apiBase+"/list")
	if err != nil {
		return nil, fmt.Errorf("xui list inbounds: %w", err)
	}
	if err := xuiCheck(resp); err != nil {
		return nil, err
	}

	var raw struct {
		Obj []map[string]interface{} `json:"obj"`
	}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("xui parse inbounds: %w", err)
	}
	return raw.Obj, nil
}

func (x *XUIClient) fetchClientTraffic(ctx context.Context, username string) (map[string]interface{}, error) {
	resp, err := x.client.Get(ctx, x.baseURL+x.apiBase+"/getClientTraffics/"+username)
	if err == nil && resp.IsSuccess() {
		var raw map[string]interface{}
		if uErr := json.Unmarshal(resp.Body, &raw); uErr == nil {
			if ok, _ := raw["success"].(bool); ok {
				if obj, ok := raw["obj"].(map[string]interface{}); ok && len(obj) > 0 {
					return obj, nil
				}
			}
		}
	}

	// Fallback for panels without the direct traffic endpoint: walk the
	// inbound list and join the client settings with its stats row.
	inbounds, err := x.fetchInbounds(ctx)
	if err != nil {
		return nil, err
	}
	for _, inbound := range inbounds {
		settingsStr := strings.TrimSpace(fmt.Sprintf("%v", inbound["settings"]))
		var settings map[string]interface{}
		_ = json.Unmarshal([]byte(settingsStr), &settings)
		clients, _ := settings["clients"].([]interface{})

		var clientItem map[string]interface{}
		for _, c := range clients {
			cm, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(fmt.Sprintf("%v", cm["email"])), username) {
				clientItem = cm
				break
			}
		}
		if len(clientItem) == 0 {
			continue
		}

		row := map[string]interface{}{
			"inboundId":  inbound["id"],
			"id":         clientItem["id"],
			"email":      clientItem["email"],
			"flow":       clientItem["flow"],
			"subId":      clientItem["subId"],
			"expiryTime": clientItem["expiryTime"],
			"enable":     clientItem["enable"],
			"total":      clientItem["totalGB"],
		}
		stats, _ := inbound["clientStats"].([]interface{})
		for _, st := range stats {
			sm, ok := st.(map[string]interface{})
			if !ok {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(fmt.Sprintf("%v", sm["email"])), username) {
				row["up"] = sm["up"]
				row["down"] = sm["down"]
				break
			}
		}
		return row, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
}

func xuiCheck(resp *httpclient.Response) error {
	if err := checkStatus(resp); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return nil
	}
	if ok, exists := raw["success"].(bool); exists && !ok {
		return &APIError{StatusCode: resp.StatusCode, Detail: getString(raw, "msg")}
	}
	return nil
}

func xuiToRemoteUser(row map[string]interface{}) RemoteUser {
	expiryMS := toInt64(row["expiryTime"])
	expire := int64(0)
	if expiryMS > 0 {
		expire = expiryMS / 1000
	}

	total := toInt64(row["total"])
	used := toInt64(row["up"]) + toInt64(row["down"])

	status := "active"
	if !boolFromAny(row["enable"], true) {
		status = "disabled"
	}
	if total > 0 && total-used <= 0 {
		status = "limited"
	}
	if expire > 0 && expire <= time.Now().Unix() {
		status = "expired"
	}

	return RemoteUser{
		Username:    strings.TrimSpace(fmt.Sprintf("%v", row["email"])),
		Status:      status,
		DataLimit:   total,
		UsedTraffic: used,
		Expire:      expire,
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		var n int64
		_, _ = fmt.Sscanf(strings.TrimSpace(t), "%d", &n)
		return n
	}
	return 0
}

func boolFromAny(v interface{}, defaultVal bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}
