package panel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gateway contract. Callers branch on these with
// errors.Is; everything else is treated as a transport failure.
var (
	// ErrNotFound means the panel confirmed the user does not exist.
	ErrNotFound = errors.New("user not found on panel")

	// ErrAuthFailed means the panel rejected or never issued credentials.
	// Distinct from a network error, but both are retried up to the
	// policy budget and then surfaced.
	ErrAuthFailed = errors.New("panel authentication failed")

	// ErrConflict means the username is already taken on the panel.
	// Never retried at the gateway level; the provisioner resolves it by
	// retrying with a suffixed username.
	ErrConflict = errors.New("username already exists on panel")
)

// APIError is a non-2xx reply from a panel with the server-provided detail.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("panel API error %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("panel API error %d", e.StatusCode)
}

// retryable reports whether an error is worth another attempt: transport
// errors, 5xx replies, and auth failures. 4xx replies carry a server
// verdict and are final.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthFailed) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return false
	}
	// Anything unclassified is assumed to be a transport error.
	return true
}
