package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryLeaseStore struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemoryLeaseStore() *memoryLeaseStore {
	return &memoryLeaseStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryLeaseStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryLeaseStore) DeleteIfValue(_ context.Context, key, expected string) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryLeaseStore) LockKey(name string) string { return "lock:" + name }

func TestRedisLeaserExcludesSecondWorker(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLeaseStore()
	leaser, err := NewRedisLeaser(store, "prod", 0)
	require.NoError(t, err)

	lease, ok, err := leaser.TryLease(ctx, PendingPaymentReconcileJobName)
	require.NoError(t, err)
	require.True(t, ok)
	key := "lock:cron:prod:" + PendingPaymentReconcileJobName
	require.Equal(t, defaultLeaseTTL, store.ttls[key])

	_, ok, err = leaser.TryLease(ctx, PendingPaymentReconcileJobName)
	require.NoError(t, err)
	require.False(t, ok)

	// other jobs lease independently
	_, ok, err = leaser.TryLease(ctx, "other_job")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = leaser.TryLease(ctx, PendingPaymentReconcileJobName)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExpiredLeaseReleaseKeepsNewOwner(t *testing.T) {
	ctx := context.Background()
	store := newMemoryLeaseStore()
	leaser, err := NewRedisLeaser(store, "prod", time.Minute)
	require.NoError(t, err)

	stale, ok, err := leaser.TryLease(ctx, "job")
	require.NoError(t, err)
	require.True(t, ok)

	// simulate expiry and takeover by another worker
	store.values["lock:cron:prod:job"] = "someone-else"
	require.NoError(t, stale.Release(ctx))
	require.Equal(t, "someone-else", store.values["lock:cron:prod:job"])
}

func TestNewRedisLeaserValidation(t *testing.T) {
	_, err := NewRedisLeaser(nil, "prod", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLeaser(newMemoryLeaseStore(), "", time.Minute)
	require.Error(t, err)
}
