// Package stripewebhook applies verified Stripe events to the ledger.
package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/payments"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// ActorID is recorded as the actor for everything the processor tells us.
const ActorID = "stripe-webhook"

type paymentSettler interface {
	SettlePayment(ctx context.Context, in payments.SettleInput) (bool, error)
	MarkDisputed(ctx context.Context, paymentIntentID string) (bool, error)
}

type accountForgetter interface {
	Forget(ctx context.Context, stripeAccountID, actorID string) (bool, error)
}

type auditor interface {
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

type ServiceParams struct {
	Payments paymentSettler
	Accounts accountForgetter
	Audit    auditor
	Logger   *logger.Logger
}

type Service struct {
	payments paymentSettler
	accounts accountForgetter
	audit    auditor
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments service required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts service required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		payments: params.Payments,
		accounts: params.Accounts,
		audit:    params.Audit,
		logg:     params.Logger,
	}, nil
}

// HandleEvent applies one event. Unknown types are acknowledged untouched; every
// state change is conditional so a redelivered event changes nothing.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": string(event.Type)})

	var (
		changed bool
		err     error
	)
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		changed, err = s.settleIntent(ctx, event, gateway.PaymentStatusSucceeded)
	case stripe.EventTypePaymentIntentPaymentFailed:
		changed, err = s.settleIntent(ctx, event, gateway.PaymentStatusFailed)
	case stripe.EventTypeChargeDisputeCreated:
		changed, err = s.disputeCreated(ctx, event)
	case stripe.EventTypeAccountApplicationDeauthorized:
		if event.Account == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "connected account id missing")
		}
		changed, err = s.accounts.Forget(ctx, event.Account, ActorID)
	default:
		s.logg.Debug(ctx, "stripe event ignored")
		return nil
	}
	if err != nil {
		return err
	}

	if auditErr := s.audit.AppendAudit(ctx, &models.AuditLog{
		Action:  enums.AuditActionWebhookReceived,
		ActorID: ActorID,
		Details: types.JSONMap{
			"eventId":   event.ID,
			"eventType": string(event.Type),
			"changed":   changed,
		},
	}); auditErr != nil {
		s.logg.Error(ctx, "webhook audit failed", auditErr)
	}
	return nil
}

func (s *Service) settleIntent(ctx context.Context, event *stripe.Event, status gateway.PaymentStatus) (bool, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	in := payments.SettleInput{PaymentIntentID: intent.ID, Status: status, Source: "webhook"}
	if intent.LatestCharge != nil && intent.LatestCharge.Transfer != nil {
		in.TransferID = intent.LatestCharge.Transfer.ID
	}
	return s.payments.SettlePayment(ctx, in)
}

func (s *Service) disputeCreated(ctx context.Context, event *stripe.Event) (bool, error) {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode dispute event")
	}
	if dispute.PaymentIntent == nil || dispute.PaymentIntent.ID == "" {
		s.logg.Warn(ctx, "dispute without payment intent")
		return false, nil
	}
	return s.payments.MarkDisputed(ctx, dispute.PaymentIntent.ID)
}
