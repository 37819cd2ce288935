package payments

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
)

// SettleInput reports the processor's final word on a PENDING payment.
type SettleInput struct {
	PaymentIntentID string
	TransferID      string
	Status          gateway.PaymentStatus
	// Source names who observed the outcome (webhook, reconcile) for the logs.
	Source string
}

// SettlePayment moves a PENDING payment to COMPLETED or FAILED. Replays and
// unknown intents are no-ops; the returned bool reports whether this call made
// the transition.
func (s *Service) SettlePayment(ctx context.Context, in SettleInput) (bool, error) {
	if in.PaymentIntentID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	var target enums.TransactionStatus
	switch in.Status {
	case gateway.PaymentStatusSucceeded:
		target = enums.TransactionStatusCompleted
	case gateway.PaymentStatusFailed, gateway.PaymentStatusCanceled:
		target = enums.TransactionStatusFailed
	default:
		return false, nil
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"gateway_charge_id": in.PaymentIntentID, "settle_source": in.Source})
	tx, err := s.ledger.FindTransactionByChargeID(ctx, in.PaymentIntentID)
	if err != nil {
		if repo.IsNotFound(err) {
			s.logg.Warn(ctx, "settlement for unknown payment intent")
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction by charge")
	}
	ctx = s.logg.WithTransactionID(ctx, tx.ID.String())

	extra := map[string]any{}
	if in.TransferID != "" && target == enums.TransactionStatusCompleted {
		extra["gateway_transfer_id"] = in.TransferID
	}
	now := s.now()
	var swapped bool
	err = s.txRunner.WithTx(ctx, func(gtx *gorm.DB) error {
		ledgerTx := s.ledger.WithTx(gtx)
		ok, err := ledgerTx.TransitionStatus(ctx, tx.ID, []enums.TransactionStatus{enums.TransactionStatusPending}, target, extra)
		if err != nil || !ok {
			return err
		}
		swapped = true
		if target == enums.TransactionStatusFailed {
			return ledgerTx.CancelInvoice(ctx, tx.ID, "Payment failed")
		}
		if err := ledgerTx.MarkInvoicePaid(ctx, tx.ID, now); err != nil {
			return err
		}
		return ledgerTx.UpsertEnrollment(ctx, tx.UserID, tx.CourseID, tx.ID)
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle payment")
	}
	if !swapped {
		return false, nil
	}

	tx.Status = target
	if transfer, ok := extra["gateway_transfer_id"].(string); ok {
		tx.GatewayTransferID = &transfer
	}
	s.enqueueInvalidate(ctx)
	if target == enums.TransactionStatusCompleted {
		s.enqueueCompletionEffects(ctx, tx)
	}
	s.logg.Info(s.logg.WithField(ctx, "status", string(target)), "pending payment settled")
	return true, nil
}

// MarkDisputed flags a completed payment the cardholder disputed.
func (s *Service) MarkDisputed(ctx context.Context, paymentIntentID string) (bool, error) {
	tx, err := s.ledger.FindTransactionByChargeID(ctx, paymentIntentID)
	if err != nil {
		if repo.IsNotFound(err) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction by charge")
	}
	ok, err := s.ledger.TransitionStatus(ctx, tx.ID, []enums.TransactionStatus{enums.TransactionStatusCompleted}, enums.TransactionStatusDisputed, nil)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark disputed")
	}
	if ok {
		s.enqueueInvalidate(ctx)
		s.logg.Warn(s.logg.WithTransactionID(ctx, tx.ID.String()), "payment disputed")
	}
	return ok, nil
}

// ReconcileSummary counts what one reconciliation sweep did.
type ReconcileSummary struct {
	Checked   int
	Completed int
	Failed    int
	Errors    int
}

// ReconcilePending asks the processor about PENDING payments older than minAge
// and settles the ones it has decided. Lookup failures are counted and skipped
// so one bad intent does not stall the sweep.
func (s *Service) ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (ReconcileSummary, error) {
	var summary ReconcileSummary
	rows, err := s.ledger.ListPendingPayments(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payments")
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		state, err := s.gateway.RetrievePaymentStatus(ctx, *row.GatewayChargeID)
		if err != nil {
			summary.Errors++
			s.logg.Error(s.logg.WithTransactionID(ctx, row.ID.String()), "payment status lookup failed", err)
			continue
		}
		settled, err := s.SettlePayment(ctx, SettleInput{
			PaymentIntentID: state.PaymentIntentID,
			TransferID:      state.TransferID,
			Status:          state.Status,
			Source:          "reconcile",
		})
		if err != nil {
			summary.Errors++
			s.logg.Error(s.logg.WithTransactionID(ctx, row.ID.String()), "settle pending payment failed", err)
			continue
		}
		if !settled {
			continue
		}
		if state.Status == gateway.PaymentStatusSucceeded {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}
