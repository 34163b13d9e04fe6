package panel

import (
	"context"
	"time"
)

// RetryPolicy is the single retry configuration shared by all gateway
// calls: bounded attempts with linear backoff on retryable errors. One
// policy value for the whole gateway layer keeps the behavior consistent
// and testable independently of any specific HTTP call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the panel API behavior the bot was tuned
// against: 3 attempts, 1s/2s waits between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

// Do runs op until it succeeds, exhausts the attempt budget, or hits a
// non-retryable error. Backoff is linear: BaseDelay * attempt.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.BaseDelay * time.Duration(attempt)):
		}
	}
	return err
}
