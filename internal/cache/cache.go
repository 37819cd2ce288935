// Package cache memoizes aggregate reads in Redis under the stats:* and report:*
// namespaces and drops them wholesale whenever the ledger changes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/redis"
)

// Store is the subset of pkg/redis the cache needs.
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefixes ...string) (int64, error)
}

// Cache is safe for concurrent use. A nil *Cache computes every call.
type Cache struct {
	store Store
	ttl   config.CacheConfig
	logg  *logger.Logger
}

func New(store Store, cfg config.CacheConfig, logg *logger.Logger) *Cache {
	if cfg.HighChurnTTL <= 0 {
		cfg.HighChurnTTL = 15 * time.Minute
	}
	if cfg.LowChurnTTL <= 0 {
		cfg.LowChurnTTL = time.Hour
	}
	return &Cache{store: store, ttl: cfg, logg: logg}
}

// HighChurn is the TTL for metrics that move with every payment.
func (c *Cache) HighChurn() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl.HighChurnTTL
}

// LowChurn is the TTL for monthly and report style aggregates.
func (c *Cache) LowChurn() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl.LowChurnTTL
}

// Key derives the cache key from the operation and its filters.
func Key(namespace, op string, filters map[string]string) string {
	return redis.CacheKey(namespace, op, filters)
}

// Remember returns the cached value under key or computes, stores and returns it.
// The computed value is passed through the same JSON encoding a hit would decode,
// so a miss and a subsequent hit are indistinguishable to the caller. Cache
// failures degrade to computing.
func Remember[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var out T
	if c == nil || c.store == nil {
		return compute(ctx)
	}

	found, err := c.store.GetJSON(ctx, key, &out)
	if err != nil {
		c.warn(ctx, key, "cache read failed", err)
	} else if found {
		return out, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return out, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return out, fmt.Errorf("encode %s: %w", key, err)
	}
	var normalized T
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return out, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := c.store.SetJSON(ctx, key, normalized, ttl); err != nil {
		c.warn(ctx, key, "cache write failed", err)
	}
	return normalized, nil
}

// InvalidateAll drops every statistics and report entry.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	n, err := c.store.DeleteByPrefix(ctx, redis.StatsNamespace, redis.ReportNamespace)
	if err != nil {
		return fmt.Errorf("invalidate caches: %w", err)
	}
	if c.logg != nil {
		c.logg.Debug(c.logg.WithField(ctx, "deleted", n), "aggregate caches invalidated")
	}
	return nil
}

func (c *Cache) warn(ctx context.Context, key, msg string, err error) {
	if c.logg == nil {
		return
	}
	c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"key": key, "error": err.Error()}), msg)
}
