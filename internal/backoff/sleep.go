package backoff

import (
	"context"
	"time"
)

// SleepWithContext pauses for d or until ctx is done, whichever is first.
// It returns ctx.Err() when the context ended the wait.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}
