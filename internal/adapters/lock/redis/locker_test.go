package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/lock"

	"github.com/google/uuid"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb, err := NewClient(context.Background(), Config{Address: addr})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb)
}

func TestLocker_ObtainRelease(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()
	key := lock.TenantKey(uuid.NewString())

	held, err := l.Obtain(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	if _, err := l.Obtain(ctx, key, 5*time.Second); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained while held, got %v", err)
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := l.Obtain(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestLocker_ExpiredReleaseIsNoop(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	held, err := l.Obtain(ctx, lock.TenantKey(uuid.NewString()), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	if err := held.Release(ctx); err != nil {
		t.Fatalf("expected release of expired lock to succeed, got %v", err)
	}
}

func TestLocker_Check(t *testing.T) {
	l := newTestLocker(t)
	if err := l.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if l.Name() != "redis" {
		t.Errorf("expected name redis, got %s", l.Name())
	}
}
