package sri

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the authority while the breaker is open.
var ErrCircuitOpen = errors.New("authority circuit breaker is open")

// BreakerState is the position of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls flow normally
	BreakerOpen                         // calls fail fast
	BreakerHalfOpen                     // probing whether the authority recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling the authority after repeated transport failures.
// Rejections are answers, not failures: callers report only transient errors to it.
type CircuitBreaker struct {
	maxFailures      int
	failureThreshold float64
	cooldownPeriod   time.Duration
	successThreshold int
	minRequests      int
	now              func() time.Time

	mu              sync.RWMutex
	state           BreakerState
	failureCount    int
	successCount    int
	totalRequests   int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures failures or when the
// failure rate reaches failureThreshold, and probes again after cooldownPeriod.
func NewCircuitBreaker(maxFailures int, failureThreshold float64, cooldownPeriod time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 10
	}
	if failureThreshold <= 0 || failureThreshold > 1 {
		failureThreshold = 0.5
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = 30 * time.Second
	}

	return &CircuitBreaker{
		maxFailures:      maxFailures,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
		successThreshold: 3,
		minRequests:      5,
		now:              time.Now,
		state:            BreakerClosed,
	}
}

// Execute runs fn unless the breaker is open and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	// A caller giving up is not a sign of authority trouble.
	if err != nil && ctx.Err() != nil {
		return err
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return nil
	}
	if cb.now().Sub(cb.lastStateChange) < cb.cooldownPeriod {
		return ErrCircuitOpen
	}
	cb.state = BreakerHalfOpen
	cb.successCount = 0
	cb.lastStateChange = cb.now()
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	if err != nil {
		cb.failureCount++
		failureRate := float64(cb.failureCount) / float64(cb.totalRequests)

		switch {
		case cb.state == BreakerHalfOpen:
			cb.trip()
		case cb.failureCount >= cb.maxFailures:
			cb.trip()
		case cb.totalRequests >= cb.minRequests && failureRate >= cb.failureThreshold:
			cb.trip()
		}
		return
	}

	cb.successCount++
	switch cb.state {
	case BreakerHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.totalRequests = 0
			cb.lastStateChange = cb.now()
		}
	case BreakerClosed:
		// Sliding window: recent successes forgive older failures.
		if cb.successCount > cb.failureCount {
			cb.failureCount = 0
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.lastStateChange = cb.now()
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	State         BreakerState
	FailureCount  int
	SuccessCount  int
	TotalRequests int
	FailureRate   float64
}

// Stats returns current breaker statistics.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	failureRate := 0.0
	if cb.totalRequests > 0 {
		failureRate = float64(cb.failureCount) / float64(cb.totalRequests)
	}

	return BreakerStats{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		TotalRequests: cb.totalRequests,
		FailureRate:   failureRate,
	}
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.totalRequests = 0
	cb.lastStateChange = cb.now()
}
