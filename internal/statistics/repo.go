package statistics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
)

// Granularity selects the bucket width of a period breakdown.
type Granularity string

const (
	Daily   Granularity = "day"
	Monthly Granularity = "month"
)

// Tier buckets mirror the commission tiers.
const (
	TierStandard = "under_200"
	TierMid      = "200_to_499"
	TierHigh     = "500_and_over"
)

// Filter scopes an aggregate to a created_at window and optionally one educator.
type Filter struct {
	From       *time.Time
	To         *time.Time
	EducatorID string
}

type PeriodTotals struct {
	Period     string                `json:"period"`
	Type       enums.TransactionType `json:"type"`
	Count      int64                 `json:"count"`
	Amount     decimal.Decimal       `json:"amount"`
	Commission decimal.Decimal       `json:"commission"`
	Earnings   decimal.Decimal       `json:"earnings"`
}

type StatusTotals struct {
	Type   enums.TransactionType   `json:"type"`
	Status enums.TransactionStatus `json:"status"`
	Count  int64                   `json:"count"`
	Amount decimal.Decimal         `json:"amount"`
}

// Ranked is one row of a top-N list.
type Ranked struct {
	ID       string          `json:"id"`
	Revenue  decimal.Decimal `json:"revenue"`
	Earnings decimal.Decimal `json:"earnings"`
	Sales    int64           `json:"sales"`
}

type TierTotals struct {
	Tier       string          `json:"tier"`
	Count      int64           `json:"count"`
	Gross      decimal.Decimal `json:"gross"`
	Commission decimal.Decimal `json:"commission"`
	Earnings   decimal.Decimal `json:"earnings"`
}

// Repository runs the grouped aggregations behind statistics and reports.
type Repository interface {
	PeriodTotals(ctx context.Context, granularity Granularity, filter Filter) ([]PeriodTotals, error)
	StatusTotals(ctx context.Context, filter Filter) ([]StatusTotals, error)
	TopCourses(ctx context.Context, filter Filter, limit int) ([]Ranked, error)
	TopEducators(ctx context.Context, filter Filter, limit int) ([]Ranked, error)
	TierTotals(ctx context.Context, filter Filter) ([]TierTotals, error)
	OldestPending(ctx context.Context) (*time.Time, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// settled keeps payments that captured money plus the refunds compensating them.
func settled(q *gorm.DB) *gorm.DB {
	return q.Where("((type = ? AND status IN ?) OR (type = ? AND status = ?))",
		enums.TransactionTypePayment,
		[]enums.TransactionStatus{enums.TransactionStatusCompleted, enums.TransactionStatusRefunded, enums.TransactionStatusDisputed},
		enums.TransactionTypeRefund, enums.TransactionStatusCompleted)
}

func (r *repository) scoped(ctx context.Context, filter Filter) *gorm.DB {
	q := r.DB(ctx).Model(&models.Transaction{}).Scopes(repo.Within("created_at", filter.From, filter.To))
	if filter.EducatorID != "" {
		q = q.Where("educator_id = ?", filter.EducatorID)
	}
	return q
}

func (r *repository) periodExpr(granularity Granularity) string {
	if r.Dialect() == "sqlite" {
		if granularity == Monthly {
			return "strftime('%Y-%m', created_at)"
		}
		return "strftime('%Y-%m-%d', created_at)"
	}
	if granularity == Monthly {
		return "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM')"
	}
	return "to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
}

type periodRow struct {
	Period     string
	Type       enums.TransactionType
	Count      int64
	Amount     decimal.Decimal
	Commission decimal.Decimal
	Earnings   decimal.Decimal
}

func (r *repository) PeriodTotals(ctx context.Context, granularity Granularity, filter Filter) ([]PeriodTotals, error) {
	expr := r.periodExpr(granularity)
	var rows []periodRow
	err := settled(r.scoped(ctx, filter)).
		Select(expr + " AS period, type, COUNT(*) AS count, " +
			"COALESCE(SUM(amount), 0) AS amount, " +
			"COALESCE(SUM(platform_commission), 0) AS commission, " +
			"COALESCE(SUM(educator_earnings), 0) AS earnings").
		Group(expr + ", type").
		Order("period ASC, type ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]PeriodTotals, 0, len(rows))
	for _, row := range rows {
		out = append(out, PeriodTotals{
			Period:     row.Period,
			Type:       row.Type,
			Count:      row.Count,
			Amount:     row.Amount.Round(2),
			Commission: row.Commission.Round(2),
			Earnings:   row.Earnings.Round(2),
		})
	}
	return out, nil
}

type statusRow struct {
	Type   enums.TransactionType
	Status enums.TransactionStatus
	Count  int64
	Amount decimal.Decimal
}

func (r *repository) StatusTotals(ctx context.Context, filter Filter) ([]StatusTotals, error) {
	var rows []statusRow
	err := r.scoped(ctx, filter).
		Select("type, status, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Group("type, status").
		Order("type ASC, status ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]StatusTotals, 0, len(rows))
	for _, row := range rows {
		out = append(out, StatusTotals{Type: row.Type, Status: row.Status, Count: row.Count, Amount: row.Amount.Round(2)})
	}
	return out, nil
}

type rankedRow struct {
	ID       string
	Revenue  decimal.Decimal
	Earnings decimal.Decimal
	Sales    int64
}

func (r *repository) TopCourses(ctx context.Context, filter Filter, limit int) ([]Ranked, error) {
	return r.ranked(ctx, filter, "course_id", limit)
}

func (r *repository) TopEducators(ctx context.Context, filter Filter, limit int) ([]Ranked, error) {
	return r.ranked(ctx, filter, "educator_id", limit)
}

// ranked orders by net revenue: refunds are subtracted from the payments they
// compensate, and only payments count as sales.
func (r *repository) ranked(ctx context.Context, filter Filter, column string, limit int) ([]Ranked, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []rankedRow
	err := settled(r.scoped(ctx, filter)).
		Select(column+" AS id, "+
			"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0) AS revenue, "+
			"COALESCE(SUM(educator_earnings), 0) AS earnings, "+
			"SUM(CASE WHEN type = ? THEN 1 ELSE 0 END) AS sales",
			enums.TransactionTypePayment, enums.TransactionTypePayment).
		Group(column).
		Order("revenue DESC, id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Ranked, 0, len(rows))
	for _, row := range rows {
		out = append(out, Ranked{ID: row.ID, Revenue: row.Revenue.Round(2), Earnings: row.Earnings.Round(2), Sales: row.Sales})
	}
	return out, nil
}

type tierRow struct {
	Tier       string
	Count      int64
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Earnings   decimal.Decimal
}

func (r *repository) TierTotals(ctx context.Context, filter Filter) ([]TierTotals, error) {
	const tierExpr = "CASE WHEN amount >= 500 THEN '" + TierHigh + "' WHEN amount >= 200 THEN '" + TierMid + "' ELSE '" + TierStandard + "' END"
	var rows []tierRow
	err := r.scoped(ctx, filter).
		Where("type = ? AND status IN ?", enums.TransactionTypePayment,
			[]enums.TransactionStatus{enums.TransactionStatusCompleted, enums.TransactionStatusRefunded, enums.TransactionStatusDisputed}).
		Select(tierExpr + " AS tier, COUNT(*) AS count, " +
			"COALESCE(SUM(amount), 0) AS gross, " +
			"COALESCE(SUM(platform_commission), 0) AS commission, " +
			"COALESCE(SUM(educator_earnings), 0) AS earnings").
		Group(tierExpr).
		Order("tier ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TierTotals, 0, len(rows))
	for _, row := range rows {
		out = append(out, TierTotals{
			Tier:       row.Tier,
			Count:      row.Count,
			Gross:      row.Gross.Round(2),
			Commission: row.Commission.Round(2),
			Earnings:   row.Earnings.Round(2),
		})
	}
	return out, nil
}

func (r *repository) OldestPending(ctx context.Context) (*time.Time, error) {
	var tx models.Transaction
	err := r.DB(ctx).
		Where("type = ? AND status = ?", enums.TransactionTypePayment, enums.TransactionStatusPending).
		Order("created_at ASC").
		First(&tx).Error
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	created := tx.CreatedAt.UTC()
	return &created, nil
}
