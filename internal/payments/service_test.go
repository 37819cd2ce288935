package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/pagination"
)

func TestProcessPaymentCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.pay(t, "99.00")

	tx := res.Transaction
	require.Equal(t, enums.TransactionStatusCompleted, tx.Status)
	require.Equal(t, enums.TransactionTypePayment, tx.Type)
	require.Equal(t, "USD", tx.Currency)
	decimalEqual(t, "19.17", tx.PlatformCommission)
	decimalEqual(t, "76.66", tx.EducatorEarnings)
	require.NotNil(t, tx.GatewayChargeID)
	require.Equal(t, "pi_fake_1", *tx.GatewayChargeID)

	require.Equal(t, enums.InvoiceStatusPaid, res.Invoice.Status)
	require.NotNil(t, res.Invoice.PaidAt)
	require.Regexp(t, `^INV-\d{8}-[0-9A-F]{8}$`, res.Invoice.InvoiceNumber)
	decimalEqual(t, "99.00", res.Invoice.Total)

	require.Len(t, h.gateway.Charges, 1)
	charge := h.gateway.Charges[0]
	decimalEqual(t, "19.17", charge.ApplicationFee)
	require.Equal(t, "acct_edu_1", charge.DestinationAccount)
	require.Contains(t, charge.IdempotencyKey, "pay:user_1:course_1:")

	stored, err := h.ledger.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	decimalEqual(t, "99.00", stored.Amount)

	enrollment, err := h.ledger.FindEnrollment(ctx, testUser, testCourse)
	require.NoError(t, err)
	require.Equal(t, enums.EnrollmentStatusActive, enrollment.Status)
	require.Equal(t, tx.ID, enrollment.TransactionID)

	require.Empty(t, h.dispatcher.Errors())
	require.ElementsMatch(t, []string{
		TaskAuditPayment, TaskInvalidateCaches, TaskEnrollUser, TaskAddCourse,
		TaskInitProgress, TaskNotifyEarnings, TaskPublishEvent,
	}, h.dispatcher.Tasks())
	require.ElementsMatch(t, []string{"enroll", "add_course", "init_progress", "earnings"}, h.notifier.calls)
	require.Len(t, h.notifier.earnings, 1)
	decimalEqual(t, "76.66", h.notifier.earnings[0].Amount)
	decimalEqual(t, "76.66", h.notifier.earnings[0].TotalEarnings)
	require.Equal(t, 1, h.cache.calls)
	require.Equal(t, []enums.AuditAction{enums.AuditActionPaymentProcessed}, h.auditActions(t))
}

func TestProcessPaymentRejectsDuplicateEnrollment(t *testing.T) {
	h := newHarness(t)
	h.pay(t, "99.00")

	_, err := h.svc.ProcessPayment(context.Background(), coursePayment("99.00"), student())
	require.Error(t, err)
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindAlreadyEnrolled))
	require.Len(t, h.gateway.Charges, 1, "duplicate must not reach the gateway")
}

// staleEnrollmentReads never sees a completed payment, as when two checkouts for
// the same course race past the pre-charge read.
type staleEnrollmentReads struct {
	ledger.Repository
}

func (staleEnrollmentReads) HasCompletedPayment(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestProcessPaymentUniqueIndexBacksUpEnrollmentCheck(t *testing.T) {
	h := newHarnessWithLedger(t, func(r ledger.Repository) ledger.Repository {
		return staleEnrollmentReads{Repository: r}
	})
	ctx := context.Background()
	first := h.pay(t, "99.00")

	_, err := h.svc.ProcessPayment(ctx, coursePayment("99.00"), student())
	require.Error(t, err)
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindAlreadyEnrolled), err.Error())
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	require.Len(t, h.gateway.Charges, 2, "the second charge reaches the gateway before the index rejects it")

	var completed int64
	require.NoError(t, h.client.DB().Table("transactions").
		Where("user_id = ? AND course_id = ? AND type = ? AND status = ?",
			testUser, testCourse, enums.TransactionTypePayment, enums.TransactionStatusCompleted).
		Count(&completed).Error)
	require.EqualValues(t, 1, completed)

	enrollment, err := h.ledger.FindEnrollment(ctx, testUser, testCourse)
	require.NoError(t, err)
	require.Equal(t, first.Transaction.ID, enrollment.TransactionID)
}

func TestProcessPaymentRequiresEducatorAccount(t *testing.T) {
	h := newHarness(t)
	req := coursePayment("49.00")
	req.EducatorID = "edu_without_account"

	_, err := h.svc.ProcessPayment(context.Background(), req, student())
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindEducatorAccountNotFound))
	require.Zero(t, h.gateway.CallCount())
}

func TestProcessPaymentValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PaymentRequest)
		actor  Actor
		code   pkgerrors.Code
	}{
		{name: "missing course", mutate: func(r *PaymentRequest) { r.CourseID = " " }, actor: student(), code: pkgerrors.CodeValidation},
		{name: "missing source", mutate: func(r *PaymentRequest) { r.Source = "" }, actor: student(), code: pkgerrors.CodeValidation},
		{name: "zero amount", mutate: func(r *PaymentRequest) { r.Amount = d("0") }, actor: student(), code: pkgerrors.CodeValidation},
		{name: "below minimum", mutate: func(r *PaymentRequest) { r.Amount = d("0.20") }, actor: student(), code: pkgerrors.CodeValidation},
		{name: "bad currency", mutate: func(r *PaymentRequest) { r.Currency = "dollars" }, actor: student(), code: pkgerrors.CodeValidation},
		{name: "anonymous", mutate: func(*PaymentRequest) {}, actor: Actor{}, code: pkgerrors.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := coursePayment("99.00")
			tt.mutate(&req)

			_, err := h.svc.ProcessPayment(context.Background(), req, tt.actor)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, tt.code, typed.Code())
			assert.Empty(t, h.gateway.Charges)
		})
	}
}

func TestProcessPaymentGatewayFailureRecordsFailedAttempt(t *testing.T) {
	h := newHarness(t)
	h.gateway.ChargeErr = errBoom
	ctx := context.Background()

	_, err := h.svc.ProcessPayment(ctx, coursePayment("99.00"), student())
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindGatewayUnavailable))

	rows, total, err := h.ledger.ListUserTransactions(ctx, testUser, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, enums.TransactionStatusFailed, rows[0].Status)
	require.Nil(t, rows[0].GatewayChargeID)
	require.Equal(t, "boom", rows[0].Metadata.String("failureReason"))
	require.Equal(t, []enums.AuditAction{enums.AuditActionPaymentFailed}, h.auditActions(t))

	has, err := h.ledger.HasCompletedPayment(ctx, testUser, testCourse)
	require.NoError(t, err)
	require.False(t, has)
}

func TestProcessPaymentDeclinedCharge(t *testing.T) {
	h := newHarness(t)
	h.gateway.ChargeStatus = gateway.PaymentStatusFailed

	_, err := h.svc.ProcessPayment(context.Background(), coursePayment("99.00"), student())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	require.Equal(t, []string{TaskRecordFailedPayment}, h.dispatcher.Tasks())
}

func TestProcessPaymentPendingChargeDefersEnrollment(t *testing.T) {
	h := newHarness(t)
	h.gateway.ChargeStatus = gateway.PaymentStatusProcessing
	ctx := context.Background()

	res := h.pay(t, "99.00")
	require.Equal(t, enums.TransactionStatusPending, res.Transaction.Status)
	require.Equal(t, enums.InvoiceStatusIssued, res.Invoice.Status)
	require.Nil(t, res.Invoice.PaidAt)

	_, err := h.ledger.FindEnrollment(ctx, testUser, testCourse)
	require.Error(t, err)
	require.Empty(t, h.notifier.calls)
	require.ElementsMatch(t, []string{TaskAuditPayment, TaskInvalidateCaches}, h.dispatcher.Tasks())
}

func TestProcessPaymentSideEffectFailuresDoNotFailPayment(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errBoom

	res := h.pay(t, "99.00")
	require.Equal(t, enums.TransactionStatusCompleted, res.Transaction.Status)
	require.NotEmpty(t, h.dispatcher.Errors())
}

func TestGetTransactionAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.pay(t, "99.00")

	detail, err := h.svc.GetTransaction(ctx, res.Transaction.ID, student())
	require.NoError(t, err)
	require.NotNil(t, detail.Invoice)
	require.Equal(t, res.Invoice.InvoiceNumber, detail.Invoice.InvoiceNumber)

	_, err = h.svc.GetTransaction(ctx, res.Transaction.ID, Actor{ID: testEducator, Role: enums.RoleEducator})
	require.NoError(t, err)
	_, err = h.svc.GetTransaction(ctx, res.Transaction.ID, admin())
	require.NoError(t, err)

	_, err = h.svc.GetTransaction(ctx, res.Transaction.ID, Actor{ID: "someone_else", Role: enums.RoleUser})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	_, err = h.svc.GetTransaction(ctx, uuid.New(), admin())
	require.True(t, pkgerrors.IsKind(err, pkgerrors.KindTransactionNotFound))
}

func TestGetTransactionResolvesDisplayLabels(t *testing.T) {
	h := newHarness(t)
	h.notifier.titles = map[string]string{testCourse: "Intro to Go"}
	h.notifier.names = map[string]string{testUser: "Ada L.", testEducator: "Grace H."}
	res := h.pay(t, "99.00")

	detail, err := h.svc.GetTransaction(context.Background(), res.Transaction.ID, student())
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", detail.CourseTitle)
	assert.Equal(t, "Grace H.", detail.EducatorName)
	assert.Equal(t, "Ada L.", detail.UserName)
}

func TestGetTransactionSurvivesDisplayLookupFailures(t *testing.T) {
	h := newHarness(t)
	res := h.pay(t, "99.00")

	h.notifier.lookupErr = errBoom
	detail, err := h.svc.GetTransaction(context.Background(), res.Transaction.ID, student())
	require.NoError(t, err)
	require.NotNil(t, detail.Invoice)
	assert.Empty(t, detail.CourseTitle)
	assert.Empty(t, detail.UserName)

	prev := displayLookupTimeout
	displayLookupTimeout = 20 * time.Millisecond
	t.Cleanup(func() { displayLookupTimeout = prev })
	h.notifier.lookupErr = nil
	h.notifier.hang = true

	start := time.Now()
	detail, err = h.svc.GetTransaction(context.Background(), res.Transaction.ID, admin())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, detail.EducatorName)
	assert.Equal(t, res.Transaction.ID, detail.Transaction.ID)
}

func TestListUserTransactionsPaginates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, course := range []string{"c1", "c2", "c3"} {
		req := coursePayment("20.00")
		req.CourseID = course
		_, err := h.svc.ProcessPayment(ctx, req, student())
		require.NoError(t, err)
	}

	page, err := h.svc.ListUserTransactions(ctx, testUser, ledger.TransactionFilter{Page: pagination.Params{Page: 2, Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, pagination.Meta{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)

	_, err = h.svc.ListUserTransactions(ctx, testUser, ledger.TransactionFilter{Status: "BOGUS"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestEarningsAndBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.pay(t, "99.00")

	earnings, err := h.svc.TotalEarnings(ctx, testEducator, nil, nil)
	require.NoError(t, err)
	decimalEqual(t, "76.66", earnings.TotalEarnings)
	require.EqualValues(t, 1, earnings.TotalSales)

	// everything is inside the hold window right after the sale
	balance, err := h.svc.CurrentBalance(ctx, testEducator)
	require.NoError(t, err)
	decimalEqual(t, "76.66", balance.Total)
	decimalEqual(t, "76.66", balance.Pending)
	decimalEqual(t, "0", balance.Available)
}

func TestEnrollmentQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.svc.EnrollmentStatus(ctx, testUser, testCourse)
	require.NoError(t, err)
	require.False(t, state.Enrolled)

	res := h.pay(t, "99.00")
	state, err = h.svc.EnrollmentStatus(ctx, testUser, testCourse)
	require.NoError(t, err)
	require.True(t, state.Enrolled)
	require.Equal(t, res.Transaction.ID, *state.TransactionID)

	page, err := h.svc.ListEnrollments(ctx, testUser, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.EqualValues(t, 1, page.Pagination.Total)
}
