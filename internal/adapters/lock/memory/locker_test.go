package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/lock"
)

func TestLocker_Exclusive(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	held, err := l.Obtain(ctx, "tenant-1", time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if _, err := l.Obtain(ctx, "tenant-1", time.Minute); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if _, err := l.Obtain(ctx, "tenant-2", time.Minute); err != nil {
		t.Fatalf("expected other key to be free, got %v", err)
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Obtain(ctx, "tenant-1", time.Minute); err != nil {
		t.Fatalf("expected key free after release, got %v", err)
	}
}

func TestLocker_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	l := NewLocker()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Obtain(ctx, "tenant-1", time.Second)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	now = now.Add(2 * time.Second)
	fresh, err := l.Obtain(ctx, "tenant-1", time.Minute)
	if err != nil {
		t.Fatalf("expected expired lock to be taken over, got %v", err)
	}

	// Releasing the stale lock must not free the new holder.
	_ = stale.Release(ctx)
	if _, err := l.Obtain(ctx, "tenant-1", time.Minute); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("expected new holder to keep the lock, got %v", err)
	}
	_ = fresh.Release(ctx)
}

func TestLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewLocker().Obtain(ctx, "tenant-1", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
