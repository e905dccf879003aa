package issuance

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// errStillPending marks an authorization attempt the authority has not decided yet.
var errStillPending = errors.New("authorization pending")

// RetryPolicy is the fixed-interval schedule used while polling for authorization.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// NewRetryPolicy creates a policy, defaulting to 3 attempts one second apart.
func NewRetryPolicy(maxAttempts int, interval time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if interval < 0 {
		interval = time.Second
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Interval: interval}
}

// Run calls op until it succeeds, returns a permanent error, the attempts run out or ctx
// ends. op receives the 1-based attempt number.
func (p RetryPolicy) Run(ctx context.Context, op func(attempt int) error) error {
	attempt := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(func() error {
		attempt++
		return op(attempt)
	}, b)
}
