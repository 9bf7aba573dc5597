package backoff

import (
	"context"
	"time"
)

// Sleep waits for the given duration, respecting context cancellation.
// Returns nil when the wait completed, or ctx.Err() when cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
