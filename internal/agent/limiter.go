package agent

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// userLimiter bounds concurrent executions per user. Each user gets a
// weighted semaphore that is dropped once nobody holds or waits on it.
type userLimiter struct {
	mu    sync.Mutex
	max   int64
	slots map[string]*userSlot
}

type userSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// LimiterStats reports one user's slot usage. Active counts executions
// holding or waiting for a slot.
type LimiterStats struct {
	Max    int64
	Active int
}

func newUserLimiter(limit int) *userLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &userLimiter{max: int64(limit), slots: make(map[string]*userSlot)}
}

// acquire blocks until the user has a free slot or ctx is done. On success
// the returned release func must be called exactly once.
func (l *userLimiter) acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[userID]
	if !ok {
		slot = &userSlot{sem: semaphore.NewWeighted(l.max)}
		l.slots[userID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		l.unref(userID, slot)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			l.unref(userID, slot)
		})
	}, nil
}

func (l *userLimiter) unref(userID string, slot *userSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && l.slots[userID] == slot {
		delete(l.slots, userID)
	}
}

// stats returns the number of holders and waiters per tracked user.
func (l *userLimiter) stats() map[string]LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]LimiterStats, len(l.slots))
	for user, slot := range l.slots {
		out[user] = LimiterStats{Max: l.max, Active: slot.refs}
	}
	return out
}
