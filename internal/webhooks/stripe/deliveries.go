package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is the Redis surface the delivery log needs; *redis.Client satisfies it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// DeliveryState is what the log knows about an event id.
type DeliveryState int

const (
	// DeliveryNew means the caller now owns the event and must Complete or Abandon it.
	DeliveryNew DeliveryState = iota
	// DeliveryInFlight means another request is applying the event right now.
	DeliveryInFlight
	// DeliveryDone means the event was already applied.
	DeliveryDone
)

// claimTTL bounds how long a crashed handler can hold an event before Stripe's
// redelivery is allowed through.
const claimTTL = 5 * time.Minute

type deliveryRecord struct {
	Done bool `json:"done"`
}

// DeliveryLog remembers Stripe event ids so a redelivery is acknowledged
// without being applied twice, and a delivery that failed can be applied later.
type DeliveryLog struct {
	store Store
	ttl   time.Duration
	scope string
}

func NewDeliveryLog(store Store, ttl time.Duration, scope string) (*DeliveryLog, error) {
	switch {
	case store == nil:
		return nil, errors.New("delivery store is required")
	case ttl <= 0:
		return nil, errors.New("delivery ttl must be positive")
	case scope == "":
		return nil, errors.New("delivery scope is required")
	}
	return &DeliveryLog{store: store, ttl: ttl, scope: scope}, nil
}

// Begin claims eventID, or reports why it cannot be claimed.
func (l *DeliveryLog) Begin(ctx context.Context, eventID string) (DeliveryState, error) {
	if eventID == "" {
		return 0, errors.New("event id is required")
	}
	key := l.key(eventID)
	claimed, err := l.store.SetNX(ctx, key, encodeRecord(deliveryRecord{}), claimTTL)
	if err != nil {
		return 0, fmt.Errorf("claim delivery: %w", err)
	}
	if claimed {
		return DeliveryNew, nil
	}

	var rec deliveryRecord
	found, err := l.store.GetJSON(ctx, key, &rec)
	if err != nil {
		return 0, fmt.Errorf("read delivery: %w", err)
	}
	switch {
	case !found:
		// Claim expired between the two calls; treat like a concurrent delivery.
		return DeliveryInFlight, nil
	case rec.Done:
		return DeliveryDone, nil
	default:
		return DeliveryInFlight, nil
	}
}

// Complete records eventID as applied for the log's retention window.
func (l *DeliveryLog) Complete(ctx context.Context, eventID string) error {
	if err := l.store.Set(ctx, l.key(eventID), encodeRecord(deliveryRecord{Done: true}), l.ttl); err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}
	return nil
}

// Abandon releases a claim so the next delivery of eventID is applied.
func (l *DeliveryLog) Abandon(ctx context.Context, eventID string) error {
	if err := l.store.Del(ctx, l.key(eventID)); err != nil {
		return fmt.Errorf("abandon delivery: %w", err)
	}
	return nil
}

func (l *DeliveryLog) key(eventID string) string {
	return l.store.IdempotencyKey(l.scope, eventID)
}

func encodeRecord(rec deliveryRecord) string {
	raw, _ := json.Marshal(rec)
	return string(raw)
}
