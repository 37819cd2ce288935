package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay/api/responses"
	stripewebhook "github.com/angelmondragon/coursepay/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// maxPayloadBytes matches the size Stripe documents as its upper bound for events.
const maxPayloadBytes = 64 << 10

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// EventVerifier checks the Stripe-Signature header; *pkgstripe.Client satisfies it.
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// DeliveryGuard tracks which event ids were applied.
type DeliveryGuard interface {
	Begin(ctx context.Context, eventID string) (stripewebhook.DeliveryState, error)
	Complete(ctx context.Context, eventID string) error
	Abandon(ctx context.Context, eventID string) error
}

// StripeWebhook applies each signed Stripe event at most once. A redelivery of
// an applied event is acknowledged; one that arrives while the first is still
// running gets 409 so Stripe retries it later; a failed event is released so
// its redelivery is applied.
func StripeWebhook(svc StripeWebhookService, verifier EventVerifier, guard DeliveryGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || verifier == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhooks not configured"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		signature := r.Header.Get("Stripe-Signature")
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}
		event, err := verifier.ConstructEvent(payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
		}

		state, err := guard.Begin(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check delivery"))
			return
		}
		switch state {
		case stripewebhook.DeliveryDone:
			info(ctx, logg, "stripe event already processed")
			responses.WriteSuccess(w, map[string]bool{"received": true, "duplicate": true})
			return
		case stripewebhook.DeliveryInFlight:
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is being processed"))
			return
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if abandonErr := guard.Abandon(context.WithoutCancel(ctx), event.ID); abandonErr != nil && logg != nil {
				logg.Error(ctx, "release stripe delivery", abandonErr)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := guard.Complete(context.WithoutCancel(ctx), event.ID); err != nil && logg != nil {
			// The event is applied; a later redelivery re-runs idempotent settlement.
			logg.Error(ctx, "record stripe delivery", err)
		}
		info(ctx, logg, "stripe event processed")
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func info(ctx context.Context, logg *logger.Logger, msg string) {
	if logg != nil {
		logg.Info(ctx, msg)
	}
}
