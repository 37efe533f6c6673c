// Package ratelimit throttles per-user chat traffic with token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// PerSecond is the sustained rate allowed for one user.
	PerSecond float64 `yaml:"per_second"`
	// Burst is how many requests a user may send back to back.
	Burst int `yaml:"burst"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration: 2 requests per second
// with bursts of 10.
func DefaultConfig() Config {
	return Config{PerSecond: 2, Burst: 10, Enabled: true}
}

func (c Config) normalized() Config {
	if c.PerSecond <= 0 {
		c.PerSecond = DefaultConfig().PerSecond
	}
	if c.Burst <= 0 {
		c.Burst = max(1, int(c.PerSecond*2))
	}
	return c
}

type bucket struct {
	tokens float64
	last   time.Time
}

// refill must be called with the limiter lock held.
func (b *bucket) refill(now time.Time, cfg Config) {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(float64(cfg.Burst), b.tokens+elapsed*cfg.PerSecond)
	}
	b.last = now
}

// Limiter holds one bucket per key (usually a user ID).
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a limiter. A disabled config allows everything.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.normalized(),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow consumes a token for key. When none is available it returns false
// and how long until one will be.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil || !l.cfg.Enabled {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Burst), last: now}
		l.buckets[key] = b
	}
	b.refill(now, l.cfg)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := (1 - b.tokens) / l.cfg.PerSecond
	return false, time.Duration(wait * float64(time.Second))
}

// Prune drops buckets that have refilled completely and returns how many
// were removed.
func (l *Limiter) Prune() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		b.refill(now, l.cfg)
		if b.tokens >= float64(l.cfg.Burst) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
