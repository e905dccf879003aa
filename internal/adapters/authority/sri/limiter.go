package sri

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter bounds the load this service puts on the authority: a token bucket caps the
// request rate and a semaphore caps the requests in flight.
type Limiter struct {
	rate      *rate.Limiter
	semaphore chan struct{}

	mu            sync.Mutex
	active        int
	waiting       int
	totalAcquired int64
}

// NewLimiter creates a limiter allowing rps requests per second (with a burst of rps)
// and at most maxConcurrent requests in flight.
func NewLimiter(rps, maxConcurrent int) *Limiter {
	if rps <= 0 {
		rps = 10
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	return &Limiter{
		rate:      rate.NewLimiter(rate.Limit(rps), rps),
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// Acquire waits for a rate token and then for a free slot. Release must be called once
// Acquire returns nil.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	// Rate first, so goroutines blocked on the bucket do not hold slots.
	if err := l.rate.Wait(ctx); err != nil {
		return err
	}

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.totalAcquired++
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot taken by Acquire.
func (l *Limiter) Release() {
	<-l.semaphore
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
}

// LimiterStats is a snapshot of limiter counters.
type LimiterStats struct {
	MaxConcurrent int
	Active        int
	Waiting       int
	TotalAcquired int64
	RateLimit     float64
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		MaxConcurrent: cap(l.semaphore),
		Active:        l.active,
		Waiting:       l.waiting,
		TotalAcquired: l.totalAcquired,
		RateLimit:     float64(l.rate.Limit()),
	}
}
