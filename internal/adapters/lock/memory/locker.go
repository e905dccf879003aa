// Package memory provides process-local locks for single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/lock"
)

// Locker implements lock.Locker inside one process.
type Locker struct {
	mu    sync.Mutex
	held  map[string]heldLock
	now   func() time.Time
	token uint64
}

type heldLock struct {
	token     uint64
	expiresAt time.Time
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]heldLock), now: time.Now}
}

// Obtain takes key for ttl, failing with lock.ErrNotObtained while an unexpired holder exists.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expiresAt) {
		return nil, lock.ErrNotObtained
	}
	l.token++
	l.held[key] = heldLock{token: l.token, expiresAt: now.Add(ttl)}
	return &memoryLock{owner: l, key: key, token: l.token}, nil
}

type memoryLock struct {
	owner *Locker
	key   string
	token uint64
}

func (m *memoryLock) Release(ctx context.Context) error {
	m.owner.mu.Lock()
	defer m.owner.mu.Unlock()

	// A newer holder took the key after this one expired.
	if h, ok := m.owner.held[m.key]; ok && h.token == m.token {
		delete(m.owner.held, m.key)
	}
	return nil
}
