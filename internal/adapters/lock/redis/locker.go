// Package redis provides distributed locks backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_emision_electronica/internal/core/lock"

	"github.com/bsm/redislock"
	goredis "github.com/redis/go-redis/v9"
)

// Config configures the Redis connection.
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Address, err)
	}
	return rdb, nil
}

// Locker implements lock.Locker with bsm/redislock.
type Locker struct {
	rdb    goredis.UniversalClient
	client *redislock.Client
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker wraps a Redis client.
func NewLocker(rdb goredis.UniversalClient) *Locker {
	return &Locker{rdb: rdb, client: redislock.New(rdb)}
}

// Obtain takes key for ttl without retrying.
func (l *Locker) Obtain(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	held, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, lock.ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return &redisLock{held: held}, nil
}

// Name implements health.Checker.
func (l *Locker) Name() string {
	return "redis"
}

// Check implements health.Checker.
func (l *Locker) Check(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

type redisLock struct {
	held *redislock.Lock
}

func (r *redisLock) Release(ctx context.Context) error {
	err := r.held.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// Expired before release; nothing left to free.
		return nil
	}
	return err
}
