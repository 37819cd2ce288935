// Package payments orchestrates course payments and refunds: validation, the
// commission split, the gateway charge, the atomic ledger write and the
// post-commit side effects.
package payments

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/commission"
	"github.com/angelmondragon/coursepay/internal/dispatch"
	"github.com/angelmondragon/coursepay/internal/events"
	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/internal/notifications"
	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/metrics"
	"github.com/angelmondragon/coursepay/pkg/types"
)

const enrollmentIndex = "ux_transactions_completed_enrollment"

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type accountLookup interface {
	FindByEducator(ctx context.Context, educatorID string) (*models.StripeAccount, error)
}

type cacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role enums.Role
}

func (a Actor) IsAdmin() bool { return a.Role == enums.RoleAdmin }

type PaymentRequest struct {
	RequestID   string
	CourseID    string
	EducatorID  string
	Amount      decimal.Decimal
	Currency    string
	Source      string
	Description string
	BillingInfo map[string]any
}

type PaymentResult struct {
	Transaction      *models.Transaction `json:"transaction"`
	Invoice          *models.Invoice     `json:"invoice"`
	ProcessingTimeMs int64               `json:"processingTimeMs"`
}

type ServiceParams struct {
	Ledger            ledger.Repository
	Accounts          accountLookup
	Gateway           gateway.Gateway
	Calculator        *commission.Calculator
	TransactionRunner txRunner
	Dispatcher        dispatch.Dispatcher
	Notifier          notifications.Notifier
	// Directory defaults to Notifier when it also resolves display labels.
	Directory notifications.Directory
	Events    events.Publisher
	Cache     cacheInvalidator
	Metrics   *metrics.PaymentMetrics
	Logger    *logger.Logger
	Payouts   config.PayoutsConfig
	Clock     func() time.Time
}

type Service struct {
	ledger     ledger.Repository
	auditor    ledger.Auditor
	accounts   accountLookup
	gateway    gateway.Gateway
	calc       *commission.Calculator
	txRunner   txRunner
	dispatcher dispatch.Dispatcher
	notifier   notifications.Notifier
	directory  notifications.Directory
	events     events.Publisher
	cache      cacheInvalidator
	metrics    *metrics.PaymentMetrics
	logg       *logger.Logger
	holdPeriod time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Calculator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission calculator required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	auditor, err := ledger.NewAuditor(params.Ledger)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build auditor")
	}
	publisher := params.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	directory := params.Directory
	if directory == nil {
		directory, _ = params.Notifier.(notifications.Directory)
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	hold := params.Payouts.HoldPeriod
	if hold <= 0 {
		hold = 7 * 24 * time.Hour
	}
	return &Service{
		ledger:     params.Ledger,
		auditor:    auditor,
		accounts:   params.Accounts,
		gateway:    params.Gateway,
		calc:       params.Calculator,
		txRunner:   params.TransactionRunner,
		dispatcher: params.Dispatcher,
		notifier:   params.Notifier,
		directory:  directory,
		events:     publisher,
		cache:      params.Cache,
		metrics:    params.Metrics,
		logg:       params.Logger,
		holdPeriod: hold,
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

// ProcessPayment charges the caller for a course and records the outcome. The
// enrollment and payout-account checks run before any gateway call; the partial
// unique index on completed payments is the backstop for the check-then-charge race.
func (s *Service) ProcessPayment(ctx context.Context, req PaymentRequest, actor Actor) (*PaymentResult, error) {
	start := s.now()
	defer func() { s.metrics.ObserveProcessing("payment", time.Since(start)) }()

	ctx = s.logg.WithFields(ctx, map[string]any{"course_id": req.CourseID, "educator_id": req.EducatorID})

	req, err := normalizePaymentRequest(req, actor)
	if err != nil {
		s.metrics.IncPayment(metrics.OutcomeRejected)
		return nil, err
	}

	account, err := s.validateEligibility(ctx, req, actor)
	if err != nil {
		if pkgerrors.IsKind(err, pkgerrors.KindAlreadyEnrolled) {
			s.metrics.IncPayment(metrics.OutcomeAlreadyHandled)
		} else {
			s.metrics.IncPayment(metrics.OutcomeRejected)
		}
		return nil, err
	}

	split, err := s.calc.Split(req.Amount, req.EducatorID)
	if err != nil {
		s.metrics.IncPayment(metrics.OutcomeRejected)
		return nil, err
	}

	idempotencyKey := fmt.Sprintf("pay:%s:%s:%s", actor.ID, req.CourseID, req.RequestID)
	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		Amount:             req.Amount,
		Currency:           req.Currency,
		PaymentMethod:      req.Source,
		ApplicationFee:     split.PlatformCommission,
		DestinationAccount: account.StripeAccountID,
		Description:        req.Description,
		IdempotencyKey:     idempotencyKey,
		Metadata: map[string]string{
			"user_id":     actor.ID,
			"course_id":   req.CourseID,
			"educator_id": req.EducatorID,
			"request_id":  req.RequestID,
		},
	})
	if err != nil {
		s.metrics.IncPayment(metrics.OutcomeChargeFailed)
		s.logg.Error(ctx, "gateway charge failed", err)
		s.enqueueFailedPayment(ctx, req, actor, split, idempotencyKey, err.Error())
		return nil, pkgerrors.WrapKind(pkgerrors.KindGatewayUnavailable, err)
	}
	if charge.Status == gateway.PaymentStatusFailed || charge.Status == gateway.PaymentStatusCanceled {
		s.metrics.IncPayment(metrics.OutcomeChargeFailed)
		s.enqueueFailedPayment(ctx, req, actor, split, idempotencyKey, "charge "+string(charge.Status))
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment was declined")
	}

	tx, invoice := s.buildRecords(req, actor, split, charge, idempotencyKey)
	ctx = s.logg.WithTransactionID(ctx, tx.ID.String())

	err = s.txRunner.WithTx(ctx, func(gtx *gorm.DB) error {
		ledgerTx := s.ledger.WithTx(gtx)
		if err := ledgerTx.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if err := ledgerTx.CreateInvoice(ctx, invoice); err != nil {
			return err
		}
		if tx.Status == enums.TransactionStatusCompleted {
			return ledgerTx.UpsertEnrollment(ctx, tx.UserID, tx.CourseID, tx.ID)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncPayment(metrics.OutcomePersistFailed)
		failCtx := s.logg.WithField(ctx, "gateway_charge_id", charge.PaymentIntentID)
		if db.IsUniqueViolation(err, enrollmentIndex, "transactions.user_id", "transactions.course_id") {
			s.logg.Error(s.logg.WithField(failCtx, "flag", "charged_duplicate_enrollment"), "payment charged for an existing enrollment", err)
			return nil, pkgerrors.WrapKind(pkgerrors.KindAlreadyEnrolled, err)
		}
		s.logg.Error(s.logg.WithField(failCtx, "flag", "charged_not_recorded"), "payment charged but not recorded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment")
	}

	if tx.Status == enums.TransactionStatusCompleted {
		s.metrics.IncPayment(metrics.OutcomeCompleted)
	} else {
		s.metrics.IncPayment(metrics.OutcomePending)
	}
	s.afterPayment(ctx, tx, actor)
	s.logg.Info(ctx, "payment processed")

	return &PaymentResult{
		Transaction:      tx,
		Invoice:          invoice,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func normalizePaymentRequest(req PaymentRequest, actor Actor) (PaymentRequest, error) {
	if strings.TrimSpace(actor.ID) == "" {
		return req, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated user required")
	}
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.EducatorID = strings.TrimSpace(req.EducatorID)
	req.Source = strings.TrimSpace(req.Source)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.Currency == "" {
		req.Currency = "USD"
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	switch {
	case req.CourseID == "":
		return req, pkgerrors.New(pkgerrors.CodeValidation, "courseId is required")
	case req.EducatorID == "":
		return req, pkgerrors.New(pkgerrors.CodeValidation, "educatorId is required")
	case req.Source == "":
		return req, pkgerrors.New(pkgerrors.CodeValidation, "source is required")
	case !currencyPattern.MatchString(req.Currency):
		return req, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter ISO code")
	case !req.Amount.IsPositive():
		return req, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	return req, nil
}

// validateEligibility runs the duplicate-enrollment and payout-account reads in
// parallel; either failure stops the payment before the gateway is touched.
func (s *Service) validateEligibility(ctx context.Context, req PaymentRequest, actor Actor) (*models.StripeAccount, error) {
	var account *models.StripeAccount
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		enrolled, err := s.ledger.HasCompletedPayment(gctx, actor.ID, req.CourseID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check enrollment")
		}
		if enrolled {
			return pkgerrors.NewKind(pkgerrors.KindAlreadyEnrolled)
		}
		return nil
	})
	g.Go(func() error {
		found, err := s.accounts.FindByEducator(gctx, req.EducatorID)
		if err != nil {
			if repo.IsNotFound(err) {
				return pkgerrors.NewKind(pkgerrors.KindEducatorAccountNotFound)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup educator account")
		}
		account = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) buildRecords(req PaymentRequest, actor Actor, split commission.Split, charge *gateway.ChargeResult, idempotencyKey string) (*models.Transaction, *models.Invoice) {
	now := s.now()
	status := enums.TransactionStatusPending
	if charge.Succeeded() {
		status = enums.TransactionStatusCompleted
	}

	chargeID := charge.PaymentIntentID
	tx := &models.Transaction{
		ID:                 uuid.New(),
		GatewayChargeID:    &chargeID,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Status:             status,
		Type:               enums.TransactionTypePayment,
		PlatformCommission: split.PlatformCommission,
		EducatorEarnings:   split.EducatorEarnings,
		UserID:             actor.ID,
		CourseID:           req.CourseID,
		EducatorID:         req.EducatorID,
		Metadata: types.JSONMap{
			"requestId":      req.RequestID,
			"idempotencyKey": idempotencyKey,
			"processorFee":   split.ProcessorFee.StringFixed(2),
			"commissionRate": split.RatePercent.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if charge.TransferID != "" {
		transferID := charge.TransferID
		tx.GatewayTransferID = &transferID
	}
	if charge.ChargeID != "" {
		tx.Metadata["chargeId"] = charge.ChargeID
	}
	if req.Description != "" {
		description := req.Description
		tx.Description = &description
	}

	invoice := &models.Invoice{
		InvoiceNumber: invoiceNumber(now),
		TransactionID: tx.ID,
		Subtotal:      req.Amount,
		Discount:      decimal.Zero,
		Tax:           decimal.Zero,
		Total:         req.Amount,
		Status:        enums.InvoiceStatusIssued,
		BillingInfo:   types.JSONMap(req.BillingInfo),
		IssueDate:     now,
		DueDate:       &now,
	}
	if status == enums.TransactionStatusCompleted {
		invoice.Status = enums.InvoiceStatusPaid
		invoice.PaidAt = &now
	}
	return tx, invoice
}

// invoiceNumber renders INV-YYYYMMDD-XXXXXXXX.
func invoiceNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), suffix)
}
