// Package gatewaytest provides a scriptable in-memory gateway.Gateway.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/coursepay/internal/gateway"
)

// Fake records every call. Zero value succeeds with synthetic ids; set the *Err
// fields or ChargeStatus to script failures.
type Fake struct {
	mu sync.Mutex

	ChargeStatus gateway.PaymentStatus
	ChargeErr    error
	RetrieveErr  error
	RefundErr    error
	ReversalErr  error
	AccountErr   error
	DeleteErr    error
	StatusErr    error
	NoTransfer   bool
	States       map[string]gateway.PaymentStatus

	Charges   []gateway.ChargeRequest
	Retrieves []string
	Refunds   []gateway.RefundRequest
	Reversals []gateway.TransferReversalRequest
	Accounts  []gateway.ConnectedAccountRequest
	Deleted   []string
	Lookups   []string
}

var _ gateway.Gateway = (*Fake)(nil)

func (f *Fake) CreateCharge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Charges = append(f.Charges, req)
	if f.ChargeErr != nil {
		return nil, f.ChargeErr
	}
	status := f.ChargeStatus
	if status == "" {
		status = gateway.PaymentStatusSucceeded
	}
	n := len(f.Charges)
	res := &gateway.ChargeResult{
		PaymentIntentID: fmt.Sprintf("pi_fake_%d", n),
		ChargeID:        fmt.Sprintf("ch_fake_%d", n),
		Status:          status,
	}
	if !f.NoTransfer {
		res.TransferID = fmt.Sprintf("tr_fake_%d", n)
	}
	return res, nil
}

func (f *Fake) RetrieveCharge(_ context.Context, id string) (*gateway.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Retrieves = append(f.Retrieves, id)
	if f.RetrieveErr != nil {
		return nil, f.RetrieveErr
	}
	ch := &gateway.Charge{ID: "ch_for_" + id, PaymentIntentID: id}
	if !f.NoTransfer {
		ch.TransferID = "tr_for_" + id
	}
	return ch, nil
}

func (f *Fake) CreateRefund(_ context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refunds = append(f.Refunds, req)
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	return &gateway.Refund{ID: fmt.Sprintf("re_fake_%d", len(f.Refunds)), Status: "succeeded"}, nil
}

func (f *Fake) CreateTransferReversal(_ context.Context, req gateway.TransferReversalRequest) (*gateway.TransferReversal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reversals = append(f.Reversals, req)
	if f.ReversalErr != nil {
		return nil, f.ReversalErr
	}
	return &gateway.TransferReversal{ID: fmt.Sprintf("trr_fake_%d", len(f.Reversals))}, nil
}

func (f *Fake) CreateConnectedAccount(_ context.Context, req gateway.ConnectedAccountRequest) (*gateway.ConnectedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Accounts = append(f.Accounts, req)
	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	return &gateway.ConnectedAccount{ID: "acct_" + req.EducatorID}, nil
}

func (f *Fake) DeleteConnectedAccount(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, accountID)
	return f.DeleteErr
}

func (f *Fake) RetrievePaymentStatus(_ context.Context, paymentIntentID string) (*gateway.PaymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Lookups = append(f.Lookups, paymentIntentID)
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	status, ok := f.States[paymentIntentID]
	if !ok {
		status = gateway.PaymentStatusProcessing
	}
	return &gateway.PaymentState{
		PaymentIntentID: paymentIntentID,
		ChargeID:        "ch_for_" + paymentIntentID,
		TransferID:      "tr_for_" + paymentIntentID,
		Status:          status,
	}, nil
}

// CallCount returns how many charge, refund and reversal calls were made.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Charges) + len(f.Retrieves) + len(f.Refunds) + len(f.Reversals)
}
