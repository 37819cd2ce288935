package payments

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/internal/accounts"
	"github.com/angelmondragon/coursepay/internal/commission"
	"github.com/angelmondragon/coursepay/internal/dispatch"
	"github.com/angelmondragon/coursepay/internal/gateway/gatewaytest"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/internal/notifications"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/db/dbtest"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

const (
	testUser     = "user_1"
	testCourse   = "course_1"
	testEducator = "edu_1"
)

type fakeNotifier struct {
	mu       sync.Mutex
	calls    []string
	earnings []notifications.EarningsNotice
	err      error

	titles    map[string]string
	names     map[string]string
	lookupErr error
	// hang makes lookups wait for their context to expire.
	hang bool
}

func (f *fakeNotifier) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeNotifier) EnrollUser(context.Context, notifications.EnrollmentNotice) error {
	return f.record("enroll")
}

func (f *fakeNotifier) UnenrollUser(context.Context, notifications.EnrollmentNotice) error {
	return f.record("unenroll")
}

func (f *fakeNotifier) AddCourseToUser(context.Context, string, string) error {
	return f.record("add_course")
}

func (f *fakeNotifier) RemoveCourseFromUser(context.Context, string, string) error {
	return f.record("remove_course")
}

func (f *fakeNotifier) InitCourseProgress(context.Context, string, string) error {
	return f.record("init_progress")
}

func (f *fakeNotifier) NotifyEducatorEarnings(_ context.Context, notice notifications.EarningsNotice) error {
	f.mu.Lock()
	f.earnings = append(f.earnings, notice)
	f.mu.Unlock()
	return f.record("earnings")
}

func (f *fakeNotifier) lookup(ctx context.Context, labels map[string]string, key string) (string, error) {
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return labels[key], nil
}

func (f *fakeNotifier) CourseTitle(ctx context.Context, courseID string) (string, error) {
	return f.lookup(ctx, f.titles, courseID)
}

func (f *fakeNotifier) UserDisplayName(ctx context.Context, userID string) (string, error) {
	return f.lookup(ctx, f.names, userID)
}

type spyCache struct {
	mu    sync.Mutex
	calls int
}

func (s *spyCache) InvalidateAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

type harness struct {
	svc        *Service
	client     *db.Client
	ledger     ledger.Repository
	gateway    *gatewaytest.Fake
	dispatcher *dispatch.InlineDispatcher
	notifier   *fakeNotifier
	cache      *spyCache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLedger(t, nil)
}

// newHarnessWithLedger lets a test wrap the service's view of the ledger while
// h.ledger keeps reading the real rows.
func newHarnessWithLedger(t *testing.T, wrap func(ledger.Repository) ledger.Repository) *harness {
	t.Helper()
	client := dbtest.Open(t)
	ledgerRepo := ledger.NewRepository(client.DB())
	serviceLedger := ledgerRepo
	if wrap != nil {
		serviceLedger = wrap(ledgerRepo)
	}
	accountRepo := accounts.NewRepository(client.DB())
	require.NoError(t, accountRepo.Create(context.Background(), &models.StripeAccount{
		EducatorID:      testEducator,
		Email:           "edu@example.com",
		StripeAccountID: "acct_edu_1",
	}))

	calc, err := commission.NewCalculator(config.DefaultCommissionConfig())
	require.NoError(t, err)

	h := &harness{
		client:     client,
		ledger:     ledgerRepo,
		gateway:    &gatewaytest.Fake{},
		dispatcher: dispatch.NewInline(),
		notifier:   &fakeNotifier{},
		cache:      &spyCache{},
	}
	h.svc, err = NewService(ServiceParams{
		Ledger:            serviceLedger,
		Accounts:          accountRepo,
		Gateway:           h.gateway,
		Calculator:        calc,
		TransactionRunner: client,
		Dispatcher:        h.dispatcher,
		Notifier:          h.notifier,
		Cache:             h.cache,
		Logger:            logger.New(logger.Options{Output: io.Discard}),
	})
	require.NoError(t, err)
	return h
}

func student() Actor { return Actor{ID: testUser, Role: enums.RoleUser} }

func admin() Actor { return Actor{ID: "admin_1", Role: enums.RoleAdmin} }

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func coursePayment(amount string) PaymentRequest {
	return PaymentRequest{
		CourseID:   testCourse,
		EducatorID: testEducator,
		Amount:     d(amount),
		Source:     "pm_card_visa",
	}
}

func (h *harness) pay(t *testing.T, amount string) *PaymentResult {
	t.Helper()
	res, err := h.svc.ProcessPayment(context.Background(), coursePayment(amount), student())
	require.NoError(t, err)
	return res
}

func (h *harness) auditActions(t *testing.T) []enums.AuditAction {
	t.Helper()
	var logs []models.AuditLog
	require.NoError(t, h.client.DB().Order("created_at").Find(&logs).Error)
	out := make([]enums.AuditAction, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func decimalEqual(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

var errBoom = errors.New("boom")
