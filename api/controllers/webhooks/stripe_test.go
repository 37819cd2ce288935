package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay/internal/cache/cachetest"
	stripewebhook "github.com/angelmondragon/coursepay/internal/webhooks/stripe"
	"github.com/angelmondragon/coursepay/pkg/config"
	pkgstripe "github.com/angelmondragon/coursepay/pkg/stripe"
)

const testSecret = "whsec_test"

type harness struct {
	handler http.HandlerFunc
	service *fakeStripeWebhookService
	log     *stripewebhook.DeliveryLog
}

func newHarness(t *testing.T, serviceErr error) *harness {
	t.Helper()
	verifier, err := pkgstripe.NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_webhooks",
		WebhookSecret: testSecret,
	}, nil)
	require.NoError(t, err)
	log, err := stripewebhook.NewDeliveryLog(cachetest.NewStore(), time.Hour, "stripe-webhook")
	require.NoError(t, err)

	service := &fakeStripeWebhookService{err: serviceErr}
	return &harness{
		handler: StripeWebhook(service, verifier, log, nil),
		service: service,
		log:     log,
	}
}

func (h *harness) deliver(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAppliesOnceAndAcksRedelivery(t *testing.T) {
	h := newHarness(t, nil)
	payload, id := buildEvent(t)
	sig := signPayload(payload, testSecret, time.Now())

	rec := h.deliver(payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, h.service.calls)

	rec = h.deliver(payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"duplicate":true`)
	require.Equal(t, 1, h.service.calls)

	state, err := h.log.Begin(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, stripewebhook.DeliveryDone, state)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	h := newHarness(t, nil)
	payload, _ := buildEvent(t)

	require.Equal(t, http.StatusBadRequest, h.deliver(payload, "").Code)
	require.Equal(t, http.StatusBadRequest, h.deliver(payload, "t=1,v1=invalid").Code)
	require.Equal(t, http.StatusBadRequest, h.deliver(payload, signPayload(payload, "whsec_other", time.Now())).Code)
	require.Zero(t, h.service.calls)
}

func TestStripeWebhookRejectsOversizedPayload(t *testing.T) {
	h := newHarness(t, nil)
	payload := bytes.Repeat([]byte("x"), maxPayloadBytes+1)

	rec := h.deliver(payload, signPayload(payload, testSecret, time.Now()))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, h.service.calls)
}

func TestStripeWebhookFailureReleasesEventForRedelivery(t *testing.T) {
	h := newHarness(t, errors.New("db unavailable"))
	payload, _ := buildEvent(t)
	sig := signPayload(payload, testSecret, time.Now())

	require.Equal(t, http.StatusInternalServerError, h.deliver(payload, sig).Code)
	require.Equal(t, http.StatusOK, h.deliver(payload, sig).Code)
	require.Equal(t, 2, h.service.calls)
	require.Equal(t, stripe.EventTypePaymentIntentSucceeded, h.service.types[1])
}

func TestStripeWebhookConcurrentDeliveryGetsConflict(t *testing.T) {
	h := newHarness(t, nil)
	payload, id := buildEvent(t)

	state, err := h.log.Begin(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, stripewebhook.DeliveryNew, state)

	rec := h.deliver(payload, signPayload(payload, testSecret, time.Now()))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, h.service.calls)
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	StripeWebhook(nil, nil, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func buildEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	rawIntent, err := json.Marshal(&stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   9900,
		Currency: stripe.CurrencyUSD,
	})
	require.NoError(t, err)
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: rawIntent},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload, event.ID
}

func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	calls int
	err   error
	types []stripe.EventType
}

func (f *fakeStripeWebhookService) HandleEvent(_ context.Context, event *stripe.Event) error {
	f.calls++
	f.types = append(f.types, event.Type)
	if f.err != nil {
		err := f.err
		f.err = nil
		return err
	}
	return nil
}
