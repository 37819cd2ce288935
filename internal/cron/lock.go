package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 30 * time.Minute

// Lease is held by exactly one worker until released or expired.
type Lease interface {
	Release(ctx context.Context) error
}

// Leaser grants per-job leases so only one worker instance runs a job at a time.
type Leaser interface {
	TryLease(ctx context.Context, job string) (Lease, bool, error)
}

// leaseStore is the Redis surface the leaser needs; *redis.Client satisfies it.
type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, expected string) (bool, error)
	LockKey(name string) string
}

// RedisLeaser stores each lease as a random owner token under lock:cron:<env>:<job>.
type RedisLeaser struct {
	store leaseStore
	scope string
	ttl   time.Duration
}

// NewRedisLeaser scopes leases by scope (usually the deployment env). A ttl of
// zero falls back to thirty minutes, which bounds how long a crashed worker
// can block a job.
func NewRedisLeaser(store leaseStore, scope string, ttl time.Duration) (*RedisLeaser, error) {
	if store == nil {
		return nil, errors.New("lease store required")
	}
	if scope == "" {
		return nil, errors.New("lease scope required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisLeaser{store: store, scope: scope, ttl: ttl}, nil
}

func (l *RedisLeaser) TryLease(ctx context.Context, job string) (Lease, bool, error) {
	key := l.store.LockKey("cron:" + l.scope + ":" + job)
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("lease %s: %w", job, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{store: l.store, key: key, token: token}, true, nil
}

type redisLease struct {
	store leaseStore
	key   string
	token string
}

// Release is a no-op when the lease already expired and another worker took it.
func (l *redisLease) Release(ctx context.Context) error {
	if _, err := l.store.DeleteIfValue(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
