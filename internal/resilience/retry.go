package resilience

import (
	"context"
	"fmt"
	"time"
)

// Retry calls fn up to attempts times, sleeping backoff between tries.
// It returns nil on the first success. Streaming provider connections get
// exactly one reconnect attempt (attempts=2) before the failure is surfaced
// to the client; more would keep the student waiting with no feedback.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("resilience: retry aborted: %w", ctx.Err())
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("resilience: %d attempt(s) failed: %w", attempts, lastErr)
}
