package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/charge"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transferreversal"

	"github.com/angelmondragon/coursepay/pkg/metrics"
	pkgstripe "github.com/angelmondragon/coursepay/pkg/stripe"
)

const (
	chargePrefix        = "ch_"
	defaultCountry      = "US"
	refundReasonDefault = "requested_by_customer"
)

var allowedRefundReasons = map[string]bool{
	"duplicate":             true,
	"fraudulent":            true,
	"requested_by_customer": true,
}

type stripeGateway struct {
	timeout time.Duration
	metrics *metrics.PaymentMetrics
}

// NewStripeGateway binds the gateway to the initialized Stripe client. Calls are
// bounded by the client's configured timeout.
func NewStripeGateway(client *pkgstripe.Client, m *metrics.PaymentMetrics) (Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	return &stripeGateway{timeout: client.Timeout(), metrics: m}, nil
}

func (g *stripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	err := fn(callCtx)
	g.metrics.ObserveGateway(op, time.Since(start), err)
	return err
}

func (g *stripeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.DestinationAccount == "" {
		return nil, errors.New("destination account is required")
	}
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(ToMinorUnits(req.Amount)),
		Currency:             stripe.String(NormalizeCurrency(req.Currency)),
		PaymentMethod:        stripe.String(req.PaymentMethod),
		Confirm:              stripe.Bool(true),
		ApplicationFeeAmount: stripe.Int64(ToMinorUnits(req.ApplicationFee)),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_charge")
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var pi *stripe.PaymentIntent
	err := g.call(ctx, "create_charge", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		pi, err = paymentintent.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return chargeResultFromIntent(pi), nil
}

func (g *stripeGateway) RetrieveCharge(ctx context.Context, id string) (*Charge, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("charge id is required")
	}

	var ch *stripe.Charge
	err := g.call(ctx, "retrieve_charge", func(ctx context.Context) error {
		if strings.HasPrefix(id, chargePrefix) {
			params := &stripe.ChargeParams{}
			params.Context = ctx
			var err error
			ch, err = charge.Get(id, params)
			return err
		}
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		pi, err := paymentintent.Get(id, params)
		if err != nil {
			return err
		}
		if pi.LatestCharge == nil {
			return fmt.Errorf("payment intent %s has no charge", id)
		}
		ch = pi.LatestCharge
		if ch.PaymentIntent == nil {
			ch.PaymentIntent = &stripe.PaymentIntent{ID: pi.ID}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve charge: %w", err)
	}

	out := &Charge{
		ID:          ch.ID,
		AmountMinor: ch.Amount,
		Currency:    string(ch.Currency),
		Refunded:    ch.Refunded,
	}
	if ch.PaymentIntent != nil {
		out.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.Transfer != nil {
		out.TransferID = ch.Transfer.ID
	}
	return out, nil
}

func (g *stripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := &stripe.RefundParams{
		Charge: stripe.String(req.ChargeID),
		Amount: stripe.Int64(ToMinorUnits(req.Amount)),
	}
	reason := strings.TrimSpace(req.Reason)
	if allowedRefundReasons[reason] {
		params.Reason = stripe.String(reason)
	} else {
		params.Reason = stripe.String(refundReasonDefault)
		if reason != "" {
			params.AddMetadata("reason", reason)
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var r *stripe.Refund
	err := g.call(ctx, "create_refund", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		r, err = refund.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe create refund: %w", err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (g *stripeGateway) CreateTransferReversal(ctx context.Context, req TransferReversalRequest) (*TransferReversal, error) {
	params := &stripe.TransferReversalParams{
		ID:     stripe.String(req.TransferID),
		Amount: stripe.Int64(ToMinorUnits(req.Amount)),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var rev *stripe.TransferReversal
	err := g.call(ctx, "create_transfer_reversal", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		rev, err = transferreversal.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe create transfer reversal: %w", err)
	}
	return &TransferReversal{ID: rev.ID}, nil
}

func (g *stripeGateway) CreateConnectedAccount(ctx context.Context, req ConnectedAccountRequest) (*ConnectedAccount, error) {
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		country = defaultCountry
	}
	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(country),
		Email:   stripe.String(req.Email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.AddMetadata("educator_id", req.EducatorID)

	var acct *stripe.Account
	err := g.call(ctx, "create_account", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		acct, err = account.New(params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe create account: %w", err)
	}
	return &ConnectedAccount{ID: acct.ID}, nil
}

func (g *stripeGateway) DeleteConnectedAccount(ctx context.Context, accountID string) error {
	err := g.call(ctx, "delete_account", func(ctx context.Context) error {
		params := &stripe.AccountParams{}
		params.Context = ctx
		_, err := account.Del(accountID, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("stripe delete account: %w", err)
	}
	return nil
}

func (g *stripeGateway) RetrievePaymentStatus(ctx context.Context, paymentIntentID string) (*PaymentState, error) {
	var pi *stripe.PaymentIntent
	err := g.call(ctx, "retrieve_payment_intent", func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		var err error
		pi, err = paymentintent.Get(paymentIntentID, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stripe retrieve payment intent: %w", err)
	}
	res := chargeResultFromIntent(pi)
	return &PaymentState{
		PaymentIntentID: res.PaymentIntentID,
		ChargeID:        res.ChargeID,
		TransferID:      res.TransferID,
		Status:          res.Status,
	}, nil
}

func chargeResultFromIntent(pi *stripe.PaymentIntent) *ChargeResult {
	res := &ChargeResult{PaymentIntentID: pi.ID, Status: mapIntentStatus(pi)}
	if pi.LatestCharge != nil {
		res.ChargeID = pi.LatestCharge.ID
		if pi.LatestCharge.Transfer != nil {
			res.TransferID = pi.LatestCharge.Transfer.ID
		}
	}
	return res
}

// mapIntentStatus folds Stripe's intent states into ours. An intent that fell
// back to requires_payment_method after confirmation was declined.
func mapIntentStatus(pi *stripe.PaymentIntent) PaymentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return PaymentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return PaymentStatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return PaymentStatusFailed
		}
		return PaymentStatusRequiresAction
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return PaymentStatusRequiresAction
	default:
		return PaymentStatusProcessing
	}
}
