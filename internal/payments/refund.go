package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/metrics"
	"github.com/angelmondragon/coursepay/pkg/types"
)

type RefundRequest struct {
	TransactionID uuid.UUID
	// Amount is optional; nil refunds the full original amount.
	Amount *decimal.Decimal
	Reason string
}

type RefundResult struct {
	Original *models.Transaction `json:"originalTransaction"`
	Refund   *models.Transaction `json:"refundTransaction"`
}

// ProcessRefund returns money for a completed payment, prorating the commission
// and earnings split, and revokes the enrollment it granted. The REFUNDED
// transition is a compare-and-swap inside the same commit as the REFUND row, so
// only one of two racing refunds can record.
func (s *Service) ProcessRefund(ctx context.Context, req RefundRequest, actor Actor) (*RefundResult, error) {
	start := s.now()
	defer func() { s.metrics.ObserveProcessing("refund", time.Since(start)) }()

	if strings.TrimSpace(actor.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated user required")
	}
	ctx = s.logg.WithTransactionID(ctx, req.TransactionID.String())

	original, err := s.ledger.FindTransaction(ctx, req.TransactionID)
	if err != nil {
		s.metrics.IncRefund(metrics.OutcomeRejected)
		if repo.IsNotFound(err) {
			return nil, pkgerrors.NewKind(pkgerrors.KindTransactionNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction")
	}

	refundAmount, err := s.validateRefund(original, req, actor)
	if err != nil {
		if pkgerrors.IsKind(err, pkgerrors.KindAlreadyRefunded) {
			s.metrics.IncRefund(metrics.OutcomeAlreadyHandled)
		} else {
			s.metrics.IncRefund(metrics.OutcomeRejected)
		}
		return nil, err
	}

	ratio := refundAmount.Div(original.Amount)
	refundedCommission := original.PlatformCommission.Mul(ratio).Round(2)
	refundedEarnings := original.EducatorEarnings.Mul(ratio).Round(2)
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "requested_by_customer"
	}

	charge, err := s.gateway.RetrieveCharge(ctx, *original.GatewayChargeID)
	if err != nil {
		s.metrics.IncRefund(metrics.OutcomeChargeFailed)
		s.logg.Error(ctx, "retrieve charge for refund failed", err)
		return nil, pkgerrors.WrapKind(pkgerrors.KindGatewayUnavailable, err)
	}
	minor := gateway.ToMinorUnits(refundAmount)
	gatewayRefund, err := s.gateway.CreateRefund(ctx, gateway.RefundRequest{
		ChargeID:       charge.ID,
		Amount:         refundAmount,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("rf:%s:%d", original.ID, minor),
	})
	if err != nil {
		s.metrics.IncRefund(metrics.OutcomeChargeFailed)
		s.logg.Error(ctx, "gateway refund failed", err)
		return nil, pkgerrors.WrapKind(pkgerrors.KindGatewayUnavailable, err)
	}

	metadata := types.JSONMap{
		models.MetadataOriginalTransactionID: original.ID.String(),
		"reason":                             reason,
		"gatewayRefundId":                    gatewayRefund.ID,
	}
	if charge.HasTransfer() && refundedEarnings.IsPositive() {
		reversal, revErr := s.gateway.CreateTransferReversal(ctx, gateway.TransferReversalRequest{
			TransferID:     charge.TransferID,
			Amount:         refundedEarnings,
			IdempotencyKey: fmt.Sprintf("rv:%s:%d", original.ID, minor),
		})
		if revErr != nil {
			// The customer already has their money back; the educator side is
			// settled by hand from the flagged row.
			s.logg.Error(s.logg.WithField(ctx, "flag", "transfer_reversal_failed"), "transfer reversal failed", revErr)
			metadata["transferReversalError"] = revErr.Error()
		} else {
			metadata["transferReversalId"] = reversal.ID
		}
	}

	now := s.now()
	refundTx := &models.Transaction{
		ID:                 uuid.New(),
		Amount:             refundAmount,
		Currency:           original.Currency,
		Status:             enums.TransactionStatusCompleted,
		Type:               enums.TransactionTypeRefund,
		PlatformCommission: refundedCommission.Neg(),
		EducatorEarnings:   refundedEarnings.Neg(),
		UserID:             original.UserID,
		CourseID:           original.CourseID,
		EducatorID:         original.EducatorID,
		Metadata:           metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	description := "Refund: " + reason
	refundTx.Description = &description

	err = s.txRunner.WithTx(ctx, func(gtx *gorm.DB) error {
		ledgerTx := s.ledger.WithTx(gtx)
		if err := ledgerTx.CreateTransaction(ctx, refundTx); err != nil {
			return err
		}
		swapped, err := ledgerTx.MarkRefunded(ctx, original.ID, refundTx.ID)
		if err != nil {
			return err
		}
		if !swapped {
			return pkgerrors.NewKind(pkgerrors.KindAlreadyRefunded)
		}
		if err := ledgerTx.CancelInvoice(ctx, original.ID, "Refunded: "+reason); err != nil {
			return err
		}
		return ledgerTx.RevokeEnrollment(ctx, original.UserID, original.CourseID)
	})
	if err != nil {
		if pkgerrors.IsKind(err, pkgerrors.KindAlreadyRefunded) {
			s.metrics.IncRefund(metrics.OutcomeAlreadyHandled)
			return nil, err
		}
		s.metrics.IncRefund(metrics.OutcomePersistFailed)
		failCtx := s.logg.WithFields(ctx, map[string]any{"flag": "refunded_not_recorded", "gateway_refund_id": gatewayRefund.ID})
		s.logg.Error(failCtx, "refund issued but not recorded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
	}

	refundID := refundTx.ID
	original.Status = enums.TransactionStatusRefunded
	original.RefundID = &refundID
	original.UpdatedAt = now

	s.metrics.IncRefund(metrics.OutcomeCompleted)
	s.afterRefund(ctx, original, refundTx, actor)
	s.logg.Info(s.logg.WithField(ctx, "refund_transaction_id", refundTx.ID.String()), "refund processed")

	return &RefundResult{Original: original, Refund: refundTx}, nil
}

func (s *Service) validateRefund(original *models.Transaction, req RefundRequest, actor Actor) (decimal.Decimal, error) {
	if original.Type != enums.TransactionTypePayment {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "only payments can be refunded")
	}
	if original.Status == enums.TransactionStatusRefunded {
		return decimal.Zero, pkgerrors.NewKind(pkgerrors.KindAlreadyRefunded)
	}
	if !actor.IsAdmin() && actor.ID != original.UserID {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to refund this transaction")
	}
	if original.Status != enums.TransactionStatusCompleted {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "only completed payments can be refunded")
	}
	if original.GatewayChargeID == nil || *original.GatewayChargeID == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "payment has no gateway charge")
	}

	amount := original.Amount
	if req.Amount != nil {
		amount = req.Amount.Round(2)
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be greater than zero")
	}
	if amount.GreaterThan(original.Amount) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "refund amount exceeds original payment")
	}
	return amount, nil
}
