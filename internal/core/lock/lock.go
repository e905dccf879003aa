package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

// Locker hands out exclusive, expiring locks by key.
type Locker interface {
	// Obtain tries once to take key for ttl. It returns ErrNotObtained when the key is held.
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// TenantKey is the lock key guarding the batch scan of one tenant.
func TenantKey(tenantID string) string {
	return "emision:scheduler:tenant:" + tenantID
}
