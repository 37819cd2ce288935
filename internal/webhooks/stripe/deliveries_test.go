package stripewebhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/internal/cache/cachetest"
)

func TestDeliveryLogLifecycle(t *testing.T) {
	store := cachetest.NewStore()
	log, err := NewDeliveryLog(store, 72*time.Hour, "stripe-webhook")
	require.NoError(t, err)
	ctx := context.Background()
	key := store.IdempotencyKey("stripe-webhook", "evt_1")

	state, err := log.Begin(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, DeliveryNew, state)
	require.Equal(t, claimTTL, store.TTL(key))

	state, err = log.Begin(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, DeliveryInFlight, state)

	require.NoError(t, log.Complete(ctx, "evt_1"))
	require.Equal(t, 72*time.Hour, store.TTL(key))

	state, err = log.Begin(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, DeliveryDone, state)
}

func TestDeliveryLogAbandonAllowsRedelivery(t *testing.T) {
	log, err := NewDeliveryLog(cachetest.NewStore(), time.Hour, "stripe-webhook")
	require.NoError(t, err)
	ctx := context.Background()

	state, err := log.Begin(ctx, "evt_2")
	require.NoError(t, err)
	require.Equal(t, DeliveryNew, state)
	require.NoError(t, log.Abandon(ctx, "evt_2"))

	state, err = log.Begin(ctx, "evt_2")
	require.NoError(t, err)
	require.Equal(t, DeliveryNew, state)
}

func TestDeliveryLogReadFailure(t *testing.T) {
	store := cachetest.NewStore()
	log, err := NewDeliveryLog(store, time.Hour, "stripe-webhook")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = log.Begin(ctx, "evt_3")
	require.NoError(t, err)
	store.ReadErr = errors.New("redis down")
	_, err = log.Begin(ctx, "evt_3")
	require.ErrorContains(t, err, "redis down")

	_, err = log.Begin(ctx, "")
	require.Error(t, err)
}

func TestNewDeliveryLogValidates(t *testing.T) {
	_, err := NewDeliveryLog(nil, time.Hour, "x")
	require.Error(t, err)
	_, err = NewDeliveryLog(cachetest.NewStore(), 0, "x")
	require.Error(t, err)
	_, err = NewDeliveryLog(cachetest.NewStore(), time.Hour, "")
	require.Error(t, err)
}
