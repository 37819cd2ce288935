// Package gateway is the payment processor boundary: domain requests in, domain
// results out. The Stripe implementation lives in stripe.go.
package gateway

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the processor-side state of a charge attempt.
type PaymentStatus string

const (
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusProcessing     PaymentStatus = "processing"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusCanceled       PaymentStatus = "canceled"
)

// Settled reports whether the status is terminal from the ledger's point of view.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed || s == PaymentStatusCanceled
}

type ChargeRequest struct {
	Amount             decimal.Decimal
	Currency           string
	PaymentMethod      string
	ApplicationFee     decimal.Decimal
	DestinationAccount string
	Description        string
	IdempotencyKey     string
	Metadata           map[string]string
}

type ChargeResult struct {
	PaymentIntentID string
	ChargeID        string
	TransferID      string
	Status          PaymentStatus
}

// Succeeded reports whether the processor captured the funds.
func (r *ChargeResult) Succeeded() bool {
	return r != nil && r.Status == PaymentStatusSucceeded
}

type Charge struct {
	ID              string
	PaymentIntentID string
	AmountMinor     int64
	Currency        string
	TransferID      string
	Refunded        bool
}

// HasTransfer reports whether funds were routed to a connected account.
func (c *Charge) HasTransfer() bool {
	return c != nil && c.TransferID != ""
}

type RefundRequest struct {
	ChargeID       string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

type Refund struct {
	ID     string
	Status string
}

type TransferReversalRequest struct {
	TransferID     string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type TransferReversal struct {
	ID string
}

type ConnectedAccountRequest struct {
	EducatorID string
	Email      string
	Country    string
}

type ConnectedAccount struct {
	ID string
}

type PaymentState struct {
	PaymentIntentID string
	ChargeID        string
	TransferID      string
	Status          PaymentStatus
}

// Gateway is everything the orchestrators need from the payment processor.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	CreateTransferReversal(ctx context.Context, req TransferReversalRequest) (*TransferReversal, error)
	CreateConnectedAccount(ctx context.Context, req ConnectedAccountRequest) (*ConnectedAccount, error)
	DeleteConnectedAccount(ctx context.Context, accountID string) error
	RetrievePaymentStatus(ctx context.Context, paymentIntentID string) (*PaymentState, error)
}

var minorUnitFactor = decimal.NewFromInt(100)

// ToMinorUnits converts a two-decimal amount into the processor's smallest unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// NormalizeCurrency lowercases an ISO code the way the processor expects it.
func NormalizeCurrency(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
