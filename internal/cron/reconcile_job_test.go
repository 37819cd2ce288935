package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/coursepay/internal/payments"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

type stubReconciler struct {
	summary payments.ReconcileSummary
	err     error
	minAge  time.Duration
	limit   int
}

func (s *stubReconciler) ReconcilePending(_ context.Context, minAge time.Duration, limit int) (payments.ReconcileSummary, error) {
	s.minAge = minAge
	s.limit = limit
	return s.summary, s.err
}

func newReconcileJob(t *testing.T, r *stubReconciler, params PendingPaymentReconcileJobParams) Job {
	t.Helper()
	params.Logger = logger.New(logger.Options{Output: io.Discard})
	params.Reconciler = r
	job, err := NewPendingPaymentReconcileJob(params)
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	return job
}

func TestPendingPaymentReconcileJobDefaults(t *testing.T) {
	r := &stubReconciler{summary: payments.ReconcileSummary{Checked: 2, Completed: 1, Failed: 1}}
	job := newReconcileJob(t, r, PendingPaymentReconcileJobParams{})

	if job.Name() != PendingPaymentReconcileJobName {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.minAge != defaultReconcileMinAge || r.limit != defaultReconcileBatch {
		t.Fatalf("expected defaults, got minAge=%v limit=%d", r.minAge, r.limit)
	}
}

func TestPendingPaymentReconcileJobPassesConfig(t *testing.T) {
	r := &stubReconciler{}
	job := newReconcileJob(t, r, PendingPaymentReconcileJobParams{MinAge: time.Hour, BatchSize: 5})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.minAge != time.Hour || r.limit != 5 {
		t.Fatalf("config not forwarded: minAge=%v limit=%d", r.minAge, r.limit)
	}
}

func TestPendingPaymentReconcileJobFailures(t *testing.T) {
	job := newReconcileJob(t, &stubReconciler{err: errors.New("db down")}, PendingPaymentReconcileJobParams{})
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected list failure to surface")
	}

	job = newReconcileJob(t, &stubReconciler{summary: payments.ReconcileSummary{Checked: 3, Errors: 3}}, PendingPaymentReconcileJobParams{})
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected total lookup failure to surface")
	}

	job = newReconcileJob(t, &stubReconciler{summary: payments.ReconcileSummary{Checked: 3, Completed: 2, Errors: 1}}, PendingPaymentReconcileJobParams{})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("partial failure should not fail the job: %v", err)
	}
}
