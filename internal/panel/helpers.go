package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mersvpn/mersyar/internal/pkg/httpclient"
)

// checkStatus maps a non-2xx panel reply onto the gateway error taxonomy.
// The server-provided detail string is preserved so the caller can show it.
func checkStatus(resp *httpclient.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	detail := extractDetail(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, detail)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w", ErrNotFound)
	case resp.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(detail), "already exists"):
		return fmt.Errorf("%w: %s", ErrConflict, detail)
	default:
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}
}

// extractDetail pulls the error string out of a panel error body. Marzban
// and Marzneshin use {"detail": ...}; X-UI uses {"msg": ...}.
func extractDetail(body []byte) string {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return strings.TrimSpace(string(body))
	}
	if s := getString(raw, "detail"); s != "" {
		return s
	}
	if s := getString(raw, "msg"); s != "" {
		return s
	}
	return ""
}

// getString safely gets a string from a decoded JSON object.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
