package cache_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/internal/cache"
	"github.com/angelmondragon/coursepay/internal/cache/cachetest"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

type totals struct {
	Gross decimal.Decimal `json:"gross"`
	Count int             `json:"count"`
}

func newCache(store cache.Store) *cache.Cache {
	return cache.New(store, config.CacheConfig{}, logger.New(logger.Options{Output: io.Discard}))
}

func TestRememberHitSkipsCompute(t *testing.T) {
	store := cachetest.NewStore()
	c := newCache(store)
	calls := 0
	compute := func(context.Context) (totals, error) {
		calls++
		return totals{Gross: decimal.RequireFromString("99.00"), Count: 1}, nil
	}
	key := cache.Key("stats", "dashboard", map[string]string{"to": "2026-04-30", "from": "2026-04-01"})
	require.Equal(t, "stats:dashboard:from=2026-04-01:to=2026-04-30", key)

	first, err := cache.Remember(context.Background(), c, key, c.HighChurn(), compute)
	require.NoError(t, err)
	second, err := cache.Remember(context.Background(), c, key, c.HighChurn(), compute)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.Equal(t, first, second)
	require.Equal(t, 15*time.Minute, store.TTL(key))
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	store := cachetest.NewStore()
	c := newCache(store)

	_, err := cache.Remember(context.Background(), c, "stats:x", time.Minute, func(context.Context) (totals, error) {
		return totals{}, errors.New("db down")
	})
	require.Error(t, err)
	require.Empty(t, store.Keys())
}

func TestRememberDegradesOnReadFailure(t *testing.T) {
	store := cachetest.NewStore()
	store.ReadErr = errors.New("redis timeout")
	c := newCache(store)

	got, err := cache.Remember(context.Background(), c, "report:y", time.Minute, func(context.Context) (totals, error) {
		return totals{Count: 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, got.Count)
}

func TestInvalidateAllDropsStatsAndReports(t *testing.T) {
	store := cachetest.NewStore()
	c := newCache(store)
	ctx := context.Background()
	for _, key := range []string{"stats:a", "report:b", "lock:reconcile"} {
		require.NoError(t, store.SetJSON(ctx, key, 1, time.Minute))
	}

	require.NoError(t, c.InvalidateAll(ctx))
	require.Equal(t, []string{"lock:reconcile"}, store.Keys())
}

func TestNilCacheComputes(t *testing.T) {
	var c *cache.Cache
	got, err := cache.Remember(context.Background(), c, "stats:z", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, got)
	require.NoError(t, c.InvalidateAll(context.Background()))
}
