package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/pkg/enums"
)

func pendingPayment(t *testing.T, h *harness) *PaymentResult {
	t.Helper()
	h.gateway.ChargeStatus = gateway.PaymentStatusProcessing
	res := h.pay(t, "99.00")
	h.gateway.ChargeStatus = ""
	h.dispatcher.Reset()
	return res
}

func TestSettlePaymentCompletesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := pendingPayment(t, h)

	settled, err := h.svc.SettlePayment(ctx, SettleInput{
		PaymentIntentID: *res.Transaction.GatewayChargeID,
		TransferID:      "tr_late",
		Status:          gateway.PaymentStatusSucceeded,
		Source:          "webhook",
	})
	require.NoError(t, err)
	require.True(t, settled)

	stored, err := h.ledger.FindTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, stored.Status)
	require.Equal(t, "tr_late", *stored.GatewayTransferID)

	invoice, err := h.ledger.FindInvoiceByTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	enrollment, err := h.ledger.FindEnrollment(ctx, testUser, testCourse)
	require.NoError(t, err)
	require.Equal(t, enums.EnrollmentStatusActive, enrollment.Status)
	require.Contains(t, h.dispatcher.Tasks(), TaskEnrollUser)

	// replay is a no-op
	h.dispatcher.Reset()
	settled, err = h.svc.SettlePayment(ctx, SettleInput{PaymentIntentID: *res.Transaction.GatewayChargeID, Status: gateway.PaymentStatusSucceeded})
	require.NoError(t, err)
	require.False(t, settled)
	require.Empty(t, h.dispatcher.Tasks())
}

func TestSettlePaymentFailsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := pendingPayment(t, h)

	settled, err := h.svc.SettlePayment(ctx, SettleInput{PaymentIntentID: *res.Transaction.GatewayChargeID, Status: gateway.PaymentStatusFailed})
	require.NoError(t, err)
	require.True(t, settled)

	stored, err := h.ledger.FindTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusFailed, stored.Status)
	invoice, err := h.ledger.FindInvoiceByTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusCancelled, invoice.Status)
	require.Empty(t, h.notifier.calls)
}

func TestSettlePaymentIgnoresUnknownAndUndecided(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	settled, err := h.svc.SettlePayment(ctx, SettleInput{PaymentIntentID: "pi_unknown", Status: gateway.PaymentStatusSucceeded})
	require.NoError(t, err)
	require.False(t, settled)

	res := pendingPayment(t, h)
	settled, err = h.svc.SettlePayment(ctx, SettleInput{PaymentIntentID: *res.Transaction.GatewayChargeID, Status: gateway.PaymentStatusProcessing})
	require.NoError(t, err)
	require.False(t, settled)
}

func TestMarkDisputed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.pay(t, "99.00")

	ok, err := h.svc.MarkDisputed(ctx, *res.Transaction.GatewayChargeID)
	require.NoError(t, err)
	require.True(t, ok)
	stored, err := h.ledger.FindTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusDisputed, stored.Status)

	ok, err = h.svc.MarkDisputed(ctx, *res.Transaction.GatewayChargeID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReconcilePending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := pendingPayment(t, h)
	intent := *res.Transaction.GatewayChargeID

	// too young for the sweep
	summary, err := h.svc.ReconcilePending(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, summary.Checked)

	h.gateway.States = map[string]gateway.PaymentStatus{intent: gateway.PaymentStatusSucceeded}
	summary, err = h.svc.ReconcilePending(ctx, -time.Minute, 10)
	require.NoError(t, err)
	require.Equal(t, ReconcileSummary{Checked: 1, Completed: 1}, summary)
	require.Equal(t, []string{intent}, h.gateway.Lookups)

	stored, err := h.ledger.FindTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, stored.Status)
}

func TestReconcilePendingCountsLookupErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pendingPayment(t, h)
	h.gateway.StatusErr = errBoom

	summary, err := h.svc.ReconcilePending(ctx, -time.Minute, 10)
	require.NoError(t, err)
	require.Equal(t, ReconcileSummary{Checked: 1, Errors: 1}, summary)
}
