// Package payments exposes the course payment, refund, earnings and enrollment
// endpoints plus the educator payout account lifecycle.
package payments

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay/api/middleware"
	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/api/validators"
	"github.com/angelmondragon/coursepay/internal/ledger"
	paymentsvc "github.com/angelmondragon/coursepay/internal/payments"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/pagination"
)

// Service is the payments surface the handlers drive.
type Service interface {
	ProcessPayment(ctx context.Context, req paymentsvc.PaymentRequest, actor paymentsvc.Actor) (*paymentsvc.PaymentResult, error)
	ProcessRefund(ctx context.Context, req paymentsvc.RefundRequest, actor paymentsvc.Actor) (*paymentsvc.RefundResult, error)
	ListUserTransactions(ctx context.Context, userID string, filter ledger.TransactionFilter) (*paymentsvc.TransactionPage, error)
	GetTransaction(ctx context.Context, id uuid.UUID, actor paymentsvc.Actor) (*paymentsvc.TransactionDetail, error)
	TotalEarnings(ctx context.Context, educatorID string, from, to *time.Time) (*paymentsvc.Earnings, error)
	CurrentBalance(ctx context.Context, educatorID string) (*paymentsvc.Balance, error)
	EnrollmentStatus(ctx context.Context, userID, courseID string) (*paymentsvc.EnrollmentState, error)
	ListEnrollments(ctx context.Context, userID string, page pagination.Params) (*paymentsvc.EnrollmentPage, error)
}

type createPaymentRequest struct {
	RequestID   string          `json:"requestId,omitempty" validate:"omitempty,max=128"`
	CourseID    string          `json:"courseId" validate:"required,max=128"`
	EducatorID  string          `json:"educatorId" validate:"required,max=128"`
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	Currency    string          `json:"currency" validate:"required,currency"`
	Source      string          `json:"source" validate:"required,max=255"`
	Description string          `json:"description,omitempty" validate:"omitempty,max=500"`
	BillingInfo map[string]any  `json:"billingInfo,omitempty"`
}

type refundRequest struct {
	TransactionID string           `json:"transactionId" validate:"required,uuid"`
	Amount        *decimal.Decimal `json:"amount,omitempty" validate:"omitempty,money"`
	Reason        string           `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func actorFrom(r *http.Request) (paymentsvc.Actor, error) {
	actor := paymentsvc.Actor{
		ID:   middleware.UserIDFromContext(r.Context()),
		Role: middleware.RoleFromContext(r.Context()),
	}
	if actor.ID == "" {
		return actor, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

// CreatePayment charges the caller for a course.
func CreatePayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body createPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		requestID := body.RequestID
		if requestID == "" {
			requestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		}

		result, err := svc.ProcessPayment(ctx, paymentsvc.PaymentRequest{
			RequestID:   requestID,
			CourseID:    body.CourseID,
			EducatorID:  body.EducatorID,
			Amount:      body.Amount,
			Currency:    body.Currency,
			Source:      body.Source,
			Description: validators.SanitizeString(body.Description, 500),
			BillingInfo: body.BillingInfo,
		}, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Transaction != nil && result.Transaction.Status == enums.TransactionStatusPending {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// CreateRefund refunds a completed payment in full or in part.
func CreateRefund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body refundRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		txID, err := uuid.Parse(body.TransactionID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}

		result, err := svc.ProcessRefund(ctx, paymentsvc.RefundRequest{
			TransactionID: txID,
			Amount:        body.Amount,
			Reason:        validators.SanitizeString(body.Reason, 500),
		}, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListUserTransactions pages through the caller's ledger entries.
func ListUserTransactions(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		from, to, err := validators.ParseQueryRange(r, "startDate", "endDate")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := enums.TransactionStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))

		result, err := svc.ListUserTransactions(ctx, actor.ID, ledger.TransactionFilter{
			From:   from,
			To:     to,
			Status: status,
			Page:   page,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetTransaction returns one transaction with its invoice.
func GetTransaction(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "transactionId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, id.String())
		}

		detail, err := svc.GetTransaction(ctx, id, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// TotalEarnings sums the calling educator's net earnings over an optional window.
func TotalEarnings(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		from, to, err := validators.ParseQueryRange(r, "startDate", "endDate")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		earnings, err := svc.TotalEarnings(ctx, actor.ID, from, to)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, earnings)
	}
}

// CurrentBalance splits the calling educator's earnings into pending and available.
func CurrentBalance(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		balance, err := svc.CurrentBalance(ctx, actor.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

func EnrollmentStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		courseID := strings.TrimSpace(chi.URLParam(r, "courseId"))
		if courseID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "courseId is required"))
			return
		}

		state, err := svc.EnrollmentStatus(ctx, actor.ID, courseID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, state)
	}
}

func ListEnrollments(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.ListEnrollments(ctx, actor.ID, page)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
