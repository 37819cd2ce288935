package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubResult struct {
	err error
}

func (r stubResult) Get(context.Context) (string, error) {
	return "msg-1", r.err
}

type stubTopic struct {
	msgs []*gcppubsub.Message
	err  error
}

func (s *stubTopic) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	s.msgs = append(s.msgs, msg)
	return stubResult{err: s.err}
}

func TestPublishWrapsPaymentInEnvelope(t *testing.T) {
	topic := &stubTopic{}
	fixed := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	p := &pubsubPublisher{topic: topic, now: func() time.Time { return fixed }}

	err := p.Publish(context.Background(), EventPaymentCompleted, PaymentEvent{
		TransactionID:      "tx_1",
		UserID:             "user_1",
		CourseID:           "course_1",
		EducatorID:         "edu_1",
		Amount:             decimal.RequireFromString("99.00"),
		Currency:           "USD",
		PlatformCommission: decimal.RequireFromString("19.17"),
		EducatorEarnings:   decimal.RequireFromString("76.66"),
		Status:             "COMPLETED",
	})
	require.NoError(t, err)
	require.Len(t, topic.msgs, 1)

	msg := topic.msgs[0]
	require.Equal(t, "payment.completed", msg.Attributes["event_type"])
	require.Equal(t, "tx_1", msg.Attributes["transaction_id"])

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	require.Equal(t, 1, env.Version)
	require.Equal(t, msg.Attributes["event_id"], env.EventID)
	require.True(t, env.OccurredAt.Equal(fixed))

	var data PaymentEvent
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.True(t, data.EducatorEarnings.Equal(decimal.RequireFromString("76.66")))
}

func TestPublishSurfacesResultError(t *testing.T) {
	topic := &stubTopic{err: errors.New("topic deleted")}
	p := &pubsubPublisher{topic: topic, now: time.Now}

	err := p.Publish(context.Background(), EventPaymentRefunded, PaymentEvent{TransactionID: "tx_2"})
	require.ErrorContains(t, err, "publish payment.refunded")
}

func TestNilPublisherIsNoop(t *testing.T) {
	p := NewPubSubPublisher(nil)
	require.NoError(t, p.Publish(context.Background(), EventPaymentCompleted, PaymentEvent{}))

	var typed *pubsubPublisher
	require.NoError(t, typed.Publish(context.Background(), EventPaymentCompleted, PaymentEvent{}))
}
