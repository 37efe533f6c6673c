// Package backoff computes reconnect and retry delays: exponential growth
// with jitter, capped, and never decreasing within one outage.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration `yaml:"initial" json:"initial"`
	// Max caps every delay.
	Max time.Duration `yaml:"max" json:"max"`
	// Factor is the exponential factor applied to each attempt.
	Factor float64 `yaml:"factor" json:"factor"`
	// Jitter is the randomization factor (0.0 to 1.0) applied to the delay.
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// DefaultPolicy returns the reconnect policy.
// Initial: 1s, Max: 30s, Factor: 2, Jitter: 20%
func DefaultPolicy() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Normalize fills zero fields from DefaultPolicy and clamps jitter to [0, 1].
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	p.Jitter = math.Min(math.Max(p.Jitter, 0), 1)
	return p
}

// Delay calculates the delay for a given attempt using a provided random
// value in [0.0, 1.0).
// The formula is: base = initial * factor^(attempt-1), jitter = base * jitter * random
// Returns min(max, base + jitter). Attempt numbers start at 1.
func (p Policy) Delay(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	jitterAmount := base * p.Jitter * randomValue
	total := math.Min(float64(p.Max), base+jitterAmount)
	return time.Duration(math.Round(total/float64(time.Millisecond))) * time.Millisecond
}

// Schedule hands out successive delays for one outage. Delays never decrease
// and never exceed the policy's Max; Reset starts a new outage.
type Schedule struct {
	mu      sync.Mutex
	policy  Policy
	attempt int
	last    time.Duration
	random  func() float64
}

// NewSchedule creates a schedule for the policy.
func NewSchedule(policy Policy) *Schedule {
	return &Schedule{
		policy: policy.Normalize(),
		random: rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
	}
}

// Next advances the attempt counter and returns the delay to wait before it.
func (s *Schedule) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt++
	d := s.policy.Delay(s.attempt, s.random())
	if d < s.last {
		d = s.last
	}
	s.last = d
	return d
}

// Attempt returns the number of delays handed out since the last Reset.
func (s *Schedule) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Reset clears the attempt counter after a successful connection.
func (s *Schedule) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = 0
	s.last = 0
}
