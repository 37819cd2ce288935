package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/pagination"
)

// TransactionFilter narrows a user's transaction history.
type TransactionFilter struct {
	From   *time.Time
	To     *time.Time
	Status enums.TransactionStatus
	Page   pagination.Params
}

// EarningsSum is the net educator take over a window.
type EarningsSum struct {
	Total decimal.Decimal
	Sales int64
}

// Repository manages persistence for transactions, invoices, enrollments and audit
// entries. Every method honours the connection it was bound to via WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindTransactionByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error)
	HasCompletedPayment(ctx context.Context, userID, courseID string) (bool, error)
	MarkRefunded(ctx context.Context, id, refundID uuid.UUID) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.TransactionStatus, to enums.TransactionStatus, extra map[string]any) (bool, error)
	ListUserTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, int64, error)
	ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
	SumEducatorEarnings(ctx context.Context, educatorID string, from, to *time.Time) (EarningsSum, error)
	SumPendingEarnings(ctx context.Context, educatorID string, since time.Time) (decimal.Decimal, error)

	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	FindInvoiceByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Invoice, error)
	CancelInvoice(ctx context.Context, transactionID uuid.UUID, note string) error
	MarkInvoicePaid(ctx context.Context, transactionID uuid.UUID, paidAt time.Time) error

	UpsertEnrollment(ctx context.Context, userID, courseID string, transactionID uuid.UUID) error
	RevokeEnrollment(ctx context.Context, userID, courseID string) error
	FindEnrollment(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, userID string, page pagination.Params) ([]models.Enrollment, int64, error)

	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	return r.DB(ctx).Create(tx).Error
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.DB(ctx).Where("id = ?", id).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *repository) FindTransactionByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.DB(ctx).Where("gateway_charge_id = ?", chargeID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *repository) HasCompletedPayment(ctx context.Context, userID, courseID string) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Transaction{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Where("type = ? AND status = ?", enums.TransactionTypePayment, enums.TransactionStatusCompleted).
		Count(&count).Error
	return count > 0, err
}

// MarkRefunded flips a payment to REFUNDED only while it is still COMPLETED, so a
// concurrent refund or a dispute/failure that landed first leaves it untouched.
func (r *repository) MarkRefunded(ctx context.Context, id, refundID uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusCompleted).
		Updates(map[string]any{
			"status":     enums.TransactionStatusRefunded,
			"refund_id":  refundID,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TransitionStatus moves a row to `to` only from one of the listed states, so a
// replayed event finds nothing to update.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.TransactionStatus, to enums.TransactionStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.DB(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListUserTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]models.Transaction, int64, error) {
	q := r.DB(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	q = q.Scopes(repo.Within("created_at", filter.From, filter.To))
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Transaction
	if err := q.Order("created_at DESC").Order("id").Scopes(repo.Page(filter.Page)).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) ListPendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.DB(ctx).
		Where("type = ? AND status = ?", enums.TransactionTypePayment, enums.TransactionStatusPending).
		Where("gateway_charge_id IS NOT NULL").
		Where("created_at < ?", olderThan.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// earningsScope selects the rows that make up an educator's net take: payments that
// were captured (even if later refunded) plus their negated refund rows.
func earningsScope(q *gorm.DB, educatorID string) *gorm.DB {
	return q.Where("educator_id = ?", educatorID).
		Where("(type = ? AND status IN ?) OR (type = ? AND status = ?)",
			enums.TransactionTypePayment,
			[]enums.TransactionStatus{enums.TransactionStatusCompleted, enums.TransactionStatusRefunded},
			enums.TransactionTypeRefund,
			enums.TransactionStatusCompleted,
		)
}

type earningsRow struct {
	Total decimal.Decimal
	Sales int64
}

func (r *repository) SumEducatorEarnings(ctx context.Context, educatorID string, from, to *time.Time) (EarningsSum, error) {
	var row earningsRow
	q := earningsScope(r.DB(ctx).Model(&models.Transaction{}), educatorID)
	q = q.Scopes(repo.Within("created_at", from, to))
	err := q.Select(
		"COALESCE(SUM(educator_earnings), 0) AS total, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN 1 ELSE 0 END), 0) AS sales",
		enums.TransactionTypePayment,
	).Scan(&row).Error
	if err != nil {
		return EarningsSum{}, err
	}
	return EarningsSum{Total: row.Total.Round(2), Sales: row.Sales}, nil
}

func (r *repository) SumPendingEarnings(ctx context.Context, educatorID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.DB(ctx).Model(&models.Transaction{}).
		Where("educator_id = ? AND type = ? AND status = ?", educatorID, enums.TransactionTypePayment, enums.TransactionStatusCompleted).
		Where("created_at >= ?", since.UTC()).
		Select("COALESCE(SUM(educator_earnings), 0)").
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

func (r *repository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return r.DB(ctx).Create(invoice).Error
}

func (r *repository) FindInvoiceByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.DB(ctx).Where("transaction_id = ?", transactionID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) CancelInvoice(ctx context.Context, transactionID uuid.UUID, note string) error {
	return r.DB(ctx).Model(&models.Invoice{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]any{
			"status":     enums.InvoiceStatusCancelled,
			"notes":      note,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) MarkInvoicePaid(ctx context.Context, transactionID uuid.UUID, paidAt time.Time) error {
	return r.DB(ctx).Model(&models.Invoice{}).
		Where("transaction_id = ? AND status = ?", transactionID, enums.InvoiceStatusIssued).
		Updates(map[string]any{
			"status":     enums.InvoiceStatusPaid,
			"paid_at":    paidAt.UTC(),
			"updated_at": time.Now().UTC(),
		}).Error
}

// UpsertEnrollment activates (or re-activates after a refund) the pair.
func (r *repository) UpsertEnrollment(ctx context.Context, userID, courseID string, transactionID uuid.UUID) error {
	enrollment := &models.Enrollment{
		UserID:        userID,
		CourseID:      courseID,
		TransactionID: transactionID,
		Status:        enums.EnrollmentStatusActive,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"transaction_id", "status", "updated_at"}),
	}).Create(enrollment).Error
}

func (r *repository) RevokeEnrollment(ctx context.Context, userID, courseID string) error {
	return r.DB(ctx).Model(&models.Enrollment{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Updates(map[string]any{
			"status":     enums.EnrollmentStatusRevoked,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) FindEnrollment(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := r.DB(ctx).Where("user_id = ? AND course_id = ?", userID, courseID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) ListEnrollments(ctx context.Context, userID string, page pagination.Params) ([]models.Enrollment, int64, error) {
	q := r.DB(ctx).Model(&models.Enrollment{}).
		Where("user_id = ? AND status = ?", userID, enums.EnrollmentStatusActive)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Enrollment
	if err := q.Order("created_at DESC").Scopes(repo.Page(page)).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *repository) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	return r.DB(ctx).Create(entry).Error
}
