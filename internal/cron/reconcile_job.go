package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/coursepay/internal/payments"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

const (
	// PendingPaymentReconcileJobName labels the job in logs and metrics.
	PendingPaymentReconcileJobName = "pending_payment_reconcile"

	defaultReconcileBatch  = 100
	defaultReconcileMinAge = 10 * time.Minute
)

type pendingReconciler interface {
	ReconcilePending(ctx context.Context, minAge time.Duration, limit int) (payments.ReconcileSummary, error)
}

// PendingPaymentReconcileJobParams configures the pending payment sweep.
type PendingPaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler pendingReconciler
	MinAge     time.Duration
	BatchSize  int
}

// NewPendingPaymentReconcileJob settles PENDING payments whose webhook never
// arrived by asking the processor for the intent status. Payments charged but
// never recorded have no row and are out of its reach.
func NewPendingPaymentReconcileJob(params PendingPaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = defaultReconcileMinAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &pendingPaymentReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		minAge:     minAge,
		batch:      batch,
	}, nil
}

type pendingPaymentReconcileJob struct {
	logg       *logger.Logger
	reconciler pendingReconciler
	minAge     time.Duration
	batch      int
}

func (j *pendingPaymentReconcileJob) Name() string { return PendingPaymentReconcileJobName }

func (j *pendingPaymentReconcileJob) Run(ctx context.Context) error {
	summary, err := j.reconciler.ReconcilePending(ctx, j.minAge, j.batch)
	if err != nil {
		return fmt.Errorf("reconcile pending payments: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":   summary.Checked,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"errors":    summary.Errors,
	}), "pending payment sweep finished")
	if summary.Errors > 0 && summary.Errors == summary.Checked {
		return fmt.Errorf("all %d payment status lookups failed", summary.Errors)
	}
	return nil
}
