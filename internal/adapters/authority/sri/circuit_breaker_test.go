package sri

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errUnavailable = errors.New("connection refused")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, 1, 30*time.Second)
	cb.now = clock.Now
	return cb, clock
}

func fail() error    { return errUnavailable }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errUnavailable) {
			t.Fatalf("expected call error, got %v", err)
		}
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("expected closed after 2 failures, got %s", cb.State())
	}

	_ = cb.Execute(ctx, fail)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("expected no call while the breaker is open")
	}
}

func TestCircuitBreaker_OpensOnFailureRate(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker(100, 0.5, time.Minute)
	cb.now = clock.Now
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	if cb.State() != BreakerClosed {
		t.Fatalf("expected closed below the minimum request count, got %s", cb.State())
	}

	_ = cb.Execute(ctx, fail)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open at 60%% failure rate, got %s (%+v)", cb.State(), cb.Stats())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	clock.Advance(31 * time.Second)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, succeed); err != nil {
			t.Fatalf("probe %d: unexpected error %v", i, err)
		}
	}
	if cb.State() != BreakerClosed {
		t.Fatalf("expected closed after successful probes, got %s", cb.State())
	}
	if stats := cb.Stats(); stats.TotalRequests != 0 || stats.FailureCount != 0 {
		t.Errorf("expected counters reset, got %+v", stats)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(31 * time.Second)

	_ = cb.Execute(ctx, fail)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open after a failed probe, got %s", cb.State())
	}
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected cooldown to restart, got %v", err)
	}
}

func TestCircuitBreaker_IgnoresCallerCancellation(t *testing.T) {
	cb, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if cb.State() != BreakerClosed {
		t.Errorf("expected cancellation not to trip the breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1)
	_ = cb.Execute(context.Background(), fail)

	cb.Reset()

	if cb.State() != BreakerClosed {
		t.Errorf("expected closed after reset, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("expected call to pass after reset, got %v", err)
	}
}
