package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/commission"
	"github.com/angelmondragon/coursepay/internal/dispatch"
	"github.com/angelmondragon/coursepay/internal/events"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/internal/notifications"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// Post-commit task names, also used as metric labels.
const (
	TaskAuditPayment        = "audit_payment_processed"
	TaskAuditRefund         = "audit_refund_processed"
	TaskRecordFailedPayment = "record_failed_payment"
	TaskInvalidateCaches    = "invalidate_caches"
	TaskEnrollUser          = "enroll_user"
	TaskUnenrollUser        = "unenroll_user"
	TaskAddCourse           = "add_course_to_user"
	TaskRemoveCourse        = "remove_course_from_user"
	TaskInitProgress        = "init_course_progress"
	TaskNotifyEarnings      = "notify_educator_earnings"
	TaskPublishEvent        = "publish_payment_event"
)

func (s *Service) enqueue(ctx context.Context, name string, run func(ctx context.Context) error) {
	s.dispatcher.Enqueue(ctx, dispatch.Task{Name: name, Run: run})
}

func (s *Service) afterPayment(ctx context.Context, tx *models.Transaction, actor Actor) {
	txID := tx.ID
	s.enqueue(ctx, TaskAuditPayment, func(ctx context.Context) error {
		_, err := s.auditor.Record(ctx, ledger.RecordAuditInput{
			Action:        enums.AuditActionPaymentProcessed,
			ActorID:       actor.ID,
			TransactionID: &txID,
			Details: map[string]any{
				"amount":     tx.Amount.StringFixed(2),
				"currency":   tx.Currency,
				"status":     string(tx.Status),
				"courseId":   tx.CourseID,
				"educatorId": tx.EducatorID,
			},
		})
		return err
	})
	s.enqueueInvalidate(ctx)

	if tx.Status != enums.TransactionStatusCompleted {
		return
	}
	s.enqueueCompletionEffects(ctx, tx)
}

// enqueueCompletionEffects fans out everything that follows a captured payment.
// The webhook path reuses it when a PENDING payment settles.
func (s *Service) enqueueCompletionEffects(ctx context.Context, tx *models.Transaction) {
	notice := notifications.EnrollmentNotice{UserID: tx.UserID, CourseID: tx.CourseID, TransactionID: tx.ID.String()}
	s.enqueue(ctx, TaskEnrollUser, func(ctx context.Context) error {
		return s.notifier.EnrollUser(ctx, notice)
	})
	s.enqueue(ctx, TaskAddCourse, func(ctx context.Context) error {
		return s.notifier.AddCourseToUser(ctx, tx.UserID, tx.CourseID)
	})
	s.enqueue(ctx, TaskInitProgress, func(ctx context.Context) error {
		return s.notifier.InitCourseProgress(ctx, tx.UserID, tx.CourseID)
	})
	s.enqueue(ctx, TaskNotifyEarnings, func(ctx context.Context) error {
		pending, err := s.ledger.SumPendingEarnings(ctx, tx.EducatorID, s.now().Add(-s.holdPeriod))
		if err != nil {
			return err
		}
		return s.notifier.NotifyEducatorEarnings(ctx, notifications.EarningsNotice{
			EducatorID:    tx.EducatorID,
			Event:         notifications.EarningsEventPending,
			Amount:        tx.EducatorEarnings,
			TotalEarnings: pending,
			Currency:      tx.Currency,
			CourseID:      tx.CourseID,
			TransactionID: tx.ID.String(),
		})
	})
	s.enqueuePublish(ctx, events.EventPaymentCompleted, tx, "")
}

func (s *Service) afterRefund(ctx context.Context, original, refund *models.Transaction, actor Actor) {
	notice := notifications.EnrollmentNotice{UserID: original.UserID, CourseID: original.CourseID, TransactionID: refund.ID.String()}
	s.enqueue(ctx, TaskUnenrollUser, func(ctx context.Context) error {
		return s.notifier.UnenrollUser(ctx, notice)
	})
	s.enqueue(ctx, TaskRemoveCourse, func(ctx context.Context) error {
		return s.notifier.RemoveCourseFromUser(ctx, original.UserID, original.CourseID)
	})
	s.enqueue(ctx, TaskNotifyEarnings, func(ctx context.Context) error {
		total, err := s.ledger.SumEducatorEarnings(ctx, original.EducatorID, nil, nil)
		if err != nil {
			return err
		}
		return s.notifier.NotifyEducatorEarnings(ctx, notifications.EarningsNotice{
			EducatorID:    original.EducatorID,
			Event:         notifications.EarningsEventReduced,
			Amount:        refund.EducatorEarnings.Abs(),
			TotalEarnings: total.Total,
			Currency:      original.Currency,
			CourseID:      original.CourseID,
			TransactionID: refund.ID.String(),
		})
	})
	originalID, refundID := original.ID, refund.ID
	s.enqueue(ctx, TaskAuditRefund, func(ctx context.Context) error {
		_, err := s.auditor.Record(ctx, ledger.RecordAuditInput{
			Action:        enums.AuditActionRefundProcessed,
			ActorID:       actor.ID,
			TransactionID: &originalID,
			Details: map[string]any{
				"refundTransactionId": refundID.String(),
				"amount":              refund.Amount.StringFixed(2),
				"reason":              refund.Metadata.String("reason"),
			},
		})
		return err
	})
	s.enqueueInvalidate(ctx)
	s.enqueuePublish(ctx, events.EventPaymentRefunded, refund, original.ID.String())
}

func (s *Service) enqueueInvalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.enqueue(ctx, TaskInvalidateCaches, s.cache.InvalidateAll)
}

func (s *Service) enqueuePublish(ctx context.Context, eventType events.EventType, tx *models.Transaction, originalID string) {
	event := events.PaymentEvent{
		TransactionID:         tx.ID.String(),
		OriginalTransactionID: originalID,
		UserID:                tx.UserID,
		CourseID:              tx.CourseID,
		EducatorID:            tx.EducatorID,
		Amount:                tx.Amount,
		Currency:              tx.Currency,
		PlatformCommission:    tx.PlatformCommission,
		EducatorEarnings:      tx.EducatorEarnings,
		Status:                string(tx.Status),
	}
	s.enqueue(ctx, TaskPublishEvent, func(ctx context.Context) error {
		return s.events.Publish(ctx, eventType, event)
	})
}

// enqueueFailedPayment leaves a queryable FAILED row and audit entry after the
// gateway refused or errored. Best effort like every other post-call task.
func (s *Service) enqueueFailedPayment(ctx context.Context, req PaymentRequest, actor Actor, split commission.Split, idempotencyKey, reason string) {
	s.enqueue(ctx, TaskRecordFailedPayment, func(ctx context.Context) error {
		tx := &models.Transaction{
			ID:                 uuid.New(),
			Amount:             req.Amount,
			Currency:           req.Currency,
			Status:             enums.TransactionStatusFailed,
			Type:               enums.TransactionTypePayment,
			PlatformCommission: split.PlatformCommission,
			EducatorEarnings:   split.EducatorEarnings,
			UserID:             actor.ID,
			CourseID:           req.CourseID,
			EducatorID:         req.EducatorID,
			Metadata: types.JSONMap{
				"requestId":      req.RequestID,
				"idempotencyKey": idempotencyKey,
				"failureReason":  reason,
			},
		}
		return s.txRunner.WithTx(ctx, func(gtx *gorm.DB) error {
			ledgerTx := s.ledger.WithTx(gtx)
			if err := ledgerTx.CreateTransaction(ctx, tx); err != nil {
				return err
			}
			return ledgerTx.AppendAudit(ctx, &models.AuditLog{
				Action:        enums.AuditActionPaymentFailed,
				ActorID:       actor.ID,
				TransactionID: &tx.ID,
				Details: types.JSONMap{
					"courseId":   req.CourseID,
					"educatorId": req.EducatorID,
					"amount":     req.Amount.StringFixed(2),
					"reason":     reason,
				},
			})
		})
	})
}
