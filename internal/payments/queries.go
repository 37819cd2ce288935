package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/pagination"
)

type TransactionPage struct {
	Items      []models.Transaction `json:"items"`
	Pagination pagination.Meta      `json:"pagination"`
}

type EnrollmentPage struct {
	Items      []models.Enrollment `json:"items"`
	Pagination pagination.Meta     `json:"pagination"`
}

// TransactionDetail carries display labels resolved from sibling services; any
// label the owner could not supply in time is left empty.
type TransactionDetail struct {
	Transaction  *models.Transaction `json:"transaction"`
	Invoice      *models.Invoice     `json:"invoice,omitempty"`
	CourseTitle  string              `json:"courseTitle,omitempty"`
	EducatorName string              `json:"educatorName,omitempty"`
	UserName     string              `json:"userName,omitempty"`
}

var displayLookupTimeout = 2 * time.Second

type Earnings struct {
	EducatorID    string          `json:"educatorId"`
	TotalEarnings decimal.Decimal `json:"totalEarnings"`
	TotalSales    int64           `json:"totalSales"`
	From          *time.Time      `json:"from,omitempty"`
	To            *time.Time      `json:"to,omitempty"`
}

// Balance splits lifetime net earnings into what is still inside the payout
// hold window and what can be paid out.
type Balance struct {
	EducatorID string          `json:"educatorId"`
	Total      decimal.Decimal `json:"total"`
	Pending    decimal.Decimal `json:"pending"`
	Available  decimal.Decimal `json:"available"`
	Currency   string          `json:"currency"`
}

type EnrollmentState struct {
	UserID        string                 `json:"userId"`
	CourseID      string                 `json:"courseId"`
	Enrolled      bool                   `json:"enrolled"`
	Status        enums.EnrollmentStatus `json:"status,omitempty"`
	TransactionID *uuid.UUID             `json:"transactionId,omitempty"`
}

func (s *Service) ListUserTransactions(ctx context.Context, userID string, filter ledger.TransactionFilter) (*TransactionPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}
	rows, total, err := s.ledger.ListUserTransactions(ctx, userID, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	if rows == nil {
		rows = []models.Transaction{}
	}
	return &TransactionPage{Items: rows, Pagination: pagination.NewMeta(filter.Page, total)}, nil
}

// GetTransaction returns a transaction and its invoice. Only the paying user,
// the educator who earned from it, or an admin may read it.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID, actor Actor) (*TransactionDetail, error) {
	tx, err := s.ledger.FindTransaction(ctx, id)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.NewKind(pkgerrors.KindTransactionNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find transaction")
	}
	if !actor.IsAdmin() && actor.ID != tx.UserID && actor.ID != tx.EducatorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to view this transaction")
	}

	detail := &TransactionDetail{Transaction: tx}
	invoiceTxID := tx.ID
	if original, ok := tx.OriginalTransactionID(); ok {
		invoiceTxID = original
	}
	invoice, err := s.ledger.FindInvoiceByTransaction(ctx, invoiceTxID)
	switch {
	case err == nil:
		detail.Invoice = invoice
	case !repo.IsNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find invoice")
	}
	s.resolveDisplay(ctx, detail)
	return detail, nil
}

// resolveDisplay fills the detail's labels concurrently under a short deadline.
// Lookup failures are logged and never fail the read.
func (s *Service) resolveDisplay(ctx context.Context, detail *TransactionDetail) {
	if s.directory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, displayLookupTimeout)
	defer cancel()

	tx := detail.Transaction
	var g errgroup.Group
	lookup := func(label string, dst *string, fn func() (string, error)) {
		g.Go(func() error {
			value, err := fn()
			if err != nil {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"lookup": label, "error": err.Error()}), "display lookup failed")
				return nil
			}
			*dst = value
			return nil
		})
	}
	lookup("course_title", &detail.CourseTitle, func() (string, error) { return s.directory.CourseTitle(ctx, tx.CourseID) })
	lookup("educator_name", &detail.EducatorName, func() (string, error) { return s.directory.UserDisplayName(ctx, tx.EducatorID) })
	lookup("user_name", &detail.UserName, func() (string, error) { return s.directory.UserDisplayName(ctx, tx.UserID) })
	_ = g.Wait()
}

func (s *Service) TotalEarnings(ctx context.Context, educatorID string, from, to *time.Time) (*Earnings, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}
	sum, err := s.ledger.SumEducatorEarnings(ctx, educatorID, from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum earnings")
	}
	return &Earnings{
		EducatorID:    educatorID,
		TotalEarnings: sum.Total,
		TotalSales:    sum.Sales,
		From:          from,
		To:            to,
	}, nil
}

func (s *Service) CurrentBalance(ctx context.Context, educatorID string) (*Balance, error) {
	sum, err := s.ledger.SumEducatorEarnings(ctx, educatorID, nil, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum earnings")
	}
	pending, err := s.ledger.SumPendingEarnings(ctx, educatorID, s.now().Add(-s.holdPeriod))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum pending earnings")
	}
	available := sum.Total.Sub(pending)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return &Balance{
		EducatorID: educatorID,
		Total:      sum.Total,
		Pending:    pending,
		Available:  available,
		Currency:   "USD",
	}, nil
}

func (s *Service) EnrollmentStatus(ctx context.Context, userID, courseID string) (*EnrollmentState, error) {
	state := &EnrollmentState{UserID: userID, CourseID: courseID}
	enrollment, err := s.ledger.FindEnrollment(ctx, userID, courseID)
	if err != nil {
		if repo.IsNotFound(err) {
			return state, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find enrollment")
	}
	state.Status = enrollment.Status
	state.Enrolled = enrollment.Status == enums.EnrollmentStatusActive
	txID := enrollment.TransactionID
	state.TransactionID = &txID
	return state, nil
}

func (s *Service) ListEnrollments(ctx context.Context, userID string, page pagination.Params) (*EnrollmentPage, error) {
	rows, total, err := s.ledger.ListEnrollments(ctx, userID, page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list enrollments")
	}
	if rows == nil {
		rows = []models.Enrollment{}
	}
	return &EnrollmentPage{Items: rows, Pagination: pagination.NewMeta(page, total)}, nil
}
