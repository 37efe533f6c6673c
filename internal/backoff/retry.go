package backoff

import (
	"context"
	"errors"
	"fmt"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Retry runs fn up to maxAttempts times, sleeping between attempts according
// to the policy. The returned error wraps both ErrMaxAttemptsExhausted and
// the last failure when every attempt fails.
func Retry[T any](ctx context.Context, policy Policy, maxAttempts int, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	schedule := NewSchedule(policy)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if err := SleepWithContext(ctx, schedule.Next()); err != nil {
				return zero, err
			}
		}
	}

	if lastErr == nil {
		return zero, ErrMaxAttemptsExhausted
	}
	return zero, fmt.Errorf("%w: %w", ErrMaxAttemptsExhausted, lastErr)
}
