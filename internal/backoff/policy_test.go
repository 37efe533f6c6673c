package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	policy := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2, Jitter: 0.5}

	tests := []struct {
		name    string
		attempt int
		random  float64
		want    time.Duration
	}{
		{"first attempt no jitter", 1, 0, 100 * time.Millisecond},
		{"second attempt", 2, 0, 200 * time.Millisecond},
		{"third attempt with jitter", 3, 0.5, 500 * time.Millisecond},
		{"zero attempt treated as first", 0, 0, 100 * time.Millisecond},
		{"capped", 10, 0.9, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Delay(tt.attempt, tt.random); got != tt.want {
				t.Errorf("Delay(%d, %v) = %v, want %v", tt.attempt, tt.random, got, tt.want)
			}
		})
	}
}

func TestPolicy_Normalize(t *testing.T) {
	p := Policy{Initial: 5 * time.Second, Max: time.Second, Factor: 0.5, Jitter: 3}.Normalize()
	if p.Max != 5*time.Second {
		t.Errorf("Max = %v, want clamp to Initial", p.Max)
	}
	if p.Factor != 2 {
		t.Errorf("Factor = %v, want default 2", p.Factor)
	}
	if p.Jitter != 1 {
		t.Errorf("Jitter = %v, want 1", p.Jitter)
	}
	zero := Policy{}.Normalize()
	def := DefaultPolicy()
	if zero.Initial != def.Initial || zero.Max != def.Max || zero.Factor != def.Factor {
		t.Errorf("zero policy should take default timings, got %+v", zero)
	}
}

func TestSchedule_NonDecreasingAndCapped(t *testing.T) {
	randoms := []float64{0.99, 0, 0.99, 0, 0.5, 0, 0.99, 0, 0, 0, 0, 0}
	i := 0
	s := NewSchedule(Policy{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 1.1, Jitter: 1})
	s.random = func() float64 {
		r := randoms[i%len(randoms)]
		i++
		return r
	}

	var prev time.Duration
	for n := 1; n <= 40; n++ {
		d := s.Next()
		if d < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", n, d, prev)
		}
		if d > 2*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", n, d)
		}
		prev = d
	}
	if prev != 2*time.Second {
		t.Errorf("delay should reach the cap, got %v", prev)
	}
	if s.Attempt() != 40 {
		t.Errorf("Attempt() = %d, want 40", s.Attempt())
	}
}

func TestSchedule_Reset(t *testing.T) {
	s := NewSchedule(Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2})
	s.random = func() float64 { return 0 }
	s.Next()
	s.Next()
	s.Next()
	s.Reset()
	if s.Attempt() != 0 {
		t.Fatalf("Attempt() after Reset = %d", s.Attempt())
	}
	if d := s.Next(); d != 100*time.Millisecond {
		t.Errorf("first delay after Reset = %v, want 100ms", d)
	}
}

func TestSleepWithContext(t *testing.T) {
	if err := SleepWithContext(context.Background(), 0); err != nil {
		t.Errorf("zero sleep error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := SleepWithContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep should return promptly")
	}

	start = time.Now()
	if err := SleepWithContext(context.Background(), 20*time.Millisecond); err != nil {
		t.Errorf("sleep error = %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("sleep returned too early")
	}
}

var errTemporary = errors.New("temporary error")

func TestRetry(t *testing.T) {
	policy := Policy{Initial: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2}

	t.Run("succeeds after retries", func(t *testing.T) {
		var calls int32
		got, err := Retry(context.Background(), policy, 5, func(attempt int) (int, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return 0, errTemporary
			}
			return attempt, nil
		})
		if err != nil || got != 3 {
			t.Fatalf("Retry() = %d, %v", got, err)
		}
	})

	t.Run("exhausted wraps last error", func(t *testing.T) {
		var calls int32
		_, err := Retry(context.Background(), policy, 3, func(int) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", errTemporary
		})
		if !errors.Is(err, ErrMaxAttemptsExhausted) || !errors.Is(err, errTemporary) {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Retry(ctx, policy, 3, func(int) (int, error) { return 1, nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
