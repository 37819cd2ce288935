// Package events publishes payment domain events to Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventPaymentCompleted EventType = "payment.completed"
	EventPaymentRefunded  EventType = "payment.refunded"

	envelopeVersion       = 1
	defaultPublishTimeout = 10 * time.Second
)

// Envelope is the stable message body shared by every payment event.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	EventType  EventType       `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// PaymentEvent is the data carried by payment.completed and payment.refunded.
type PaymentEvent struct {
	TransactionID         string          `json:"transactionId"`
	OriginalTransactionID string          `json:"originalTransactionId,omitempty"`
	UserID                string          `json:"userId"`
	CourseID              string          `json:"courseId"`
	EducatorID            string          `json:"educatorId"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	PlatformCommission    decimal.Decimal `json:"platformCommission"`
	EducatorEarnings      decimal.Decimal `json:"educatorEarnings"`
	Status                string          `json:"status"`
}

// Publisher emits domain events. Implementations must tolerate a nil receiver.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, event PaymentEvent) error
}

type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type pubsubPublisher struct {
	topic topicPublisher
	now   func() time.Time
}

// NewPubSubPublisher wraps the payments topic publisher. A nil publisher yields a
// no-op, so deployments without Pub/Sub keep working.
func NewPubSubPublisher(p *gcppubsub.Publisher) Publisher {
	if p == nil {
		return Noop{}
	}
	return &pubsubPublisher{topic: &gcpPublisher{Publisher: p}, now: time.Now}
}

func (p *pubsubPublisher) Publish(ctx context.Context, eventType EventType, event PaymentEvent) error {
	if p == nil || p.topic == nil {
		return nil
	}
	msg, err := buildMessage(eventType, event, p.now().UTC())
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := p.topic.Publish(publishCtx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for %s", eventType)
	}
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func buildMessage(eventType EventType, event PaymentEvent, now time.Time) (*gcppubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: now,
		Data:       data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return &gcppubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"event_id":       env.EventID,
			"event_type":     string(eventType),
			"transaction_id": event.TransactionID,
			"occurred_at":    now.Format(time.RFC3339Nano),
		},
	}, nil
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, EventType, PaymentEvent) error { return nil }

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
