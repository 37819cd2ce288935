// Package statistics serves the admin dashboards: grouped ledger aggregates
// memoized in the stats:* cache namespace.
package statistics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay/internal/cache"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/redis"
)

const topN = 5

var hundred = decimal.NewFromInt(100)

type Bucket struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DayVolume struct {
	Date     string `json:"date"`
	Payments Bucket `json:"payments"`
	Refunds  Bucket `json:"refunds"`
}

type Volumes struct {
	Days  []DayVolume `json:"days"`
	Total Bucket      `json:"total"`
}

type Performance struct {
	Attempts      int64           `json:"attempts"`
	Successful    int64           `json:"successful"`
	Failed        int64           `json:"failed"`
	Pending       int64           `json:"pending"`
	Refunded      int64           `json:"refunded"`
	Disputed      int64           `json:"disputed"`
	SuccessRate   decimal.Decimal `json:"successRate"`
	FailureRate   decimal.Decimal `json:"failureRate"`
	RefundRate    decimal.Decimal `json:"refundRate"`
	AverageTicket decimal.Decimal `json:"averageTicket"`
}

type MonthFinancials struct {
	Month      string          `json:"month"`
	Gross      decimal.Decimal `json:"gross"`
	Refunds    decimal.Decimal `json:"refunds"`
	Net        decimal.Decimal `json:"net"`
	Commission decimal.Decimal `json:"commission"`
	Earnings   decimal.Decimal `json:"earnings"`
	Sales      int64           `json:"sales"`
}

type Financials struct {
	Gross      decimal.Decimal   `json:"gross"`
	Refunds    decimal.Decimal   `json:"refunds"`
	Net        decimal.Decimal   `json:"net"`
	Commission decimal.Decimal   `json:"commission"`
	Earnings   decimal.Decimal   `json:"earnings"`
	Sales      int64             `json:"sales"`
	Months     []MonthFinancials `json:"months"`
}

type Operations struct {
	ByStatus          []StatusTotals `json:"byStatus"`
	PendingCount      int64          `json:"pendingCount"`
	OldestPendingAt   *time.Time     `json:"oldestPendingAt,omitempty"`
	OldestPendingAgeS int64          `json:"oldestPendingAgeSeconds"`
}

type Dashboard struct {
	Financials   Financials  `json:"financials"`
	Performance  Performance `json:"performance"`
	TopCourses   []Ranked    `json:"topCourses"`
	TopEducators []Ranked    `json:"topEducators"`
}

type EducatorAnalytics struct {
	EducatorID  string      `json:"educatorId"`
	Financials  Financials  `json:"financials"`
	Performance Performance `json:"performance"`
	TopCourses  []Ranked    `json:"topCourses"`
}

type ServiceParams struct {
	Repo  Repository
	Cache *cache.Cache
	Clock func() time.Time
}

type Service struct {
	repo  Repository
	cache *cache.Cache
	now   func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "statistics repository required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: params.Repo, cache: params.Cache, now: clock}, nil
}

// CacheFilters renders a filter into the canonical key parts.
func CacheFilters(filter Filter) map[string]string {
	out := map[string]string{"educatorId": filter.EducatorID}
	if filter.From != nil {
		out["from"] = filter.From.UTC().Format(time.RFC3339)
	}
	if filter.To != nil {
		out["to"] = filter.To.UTC().Format(time.RFC3339)
	}
	return out
}

// ValidateFilter rejects inverted windows.
func ValidateFilter(filter Filter) error {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}
	return nil
}

func remember[T any](ctx context.Context, s *Service, op string, filter Filter, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if err := ValidateFilter(filter); err != nil {
		var zero T
		return zero, err
	}
	key := cache.Key(redis.StatsNamespace, op, CacheFilters(filter))
	out, err := cache.Remember(ctx, s.cache, key, ttl, compute)
	if err != nil && pkgerrors.As(err) == nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate "+op)
	}
	return out, err
}

func (s *Service) TransactionVolumes(ctx context.Context, filter Filter) (*Volumes, error) {
	return remember(ctx, s, "transaction-volumes", filter, s.cache.HighChurn(), func(ctx context.Context) (*Volumes, error) {
		rows, err := s.repo.PeriodTotals(ctx, Daily, filter)
		if err != nil {
			return nil, err
		}
		out := &Volumes{Days: []DayVolume{}, Total: Bucket{Amount: decimal.Zero}}
		index := map[string]int{}
		for _, row := range rows {
			i, ok := index[row.Period]
			if !ok {
				out.Days = append(out.Days, DayVolume{
					Date:     row.Period,
					Payments: Bucket{Amount: decimal.Zero},
					Refunds:  Bucket{Amount: decimal.Zero},
				})
				i = len(out.Days) - 1
				index[row.Period] = i
			}
			bucket := Bucket{Count: row.Count, Amount: row.Amount}
			if row.Type == enums.TransactionTypeRefund {
				out.Days[i].Refunds = bucket
				continue
			}
			out.Days[i].Payments = bucket
			out.Total.Count += row.Count
			out.Total.Amount = out.Total.Amount.Add(row.Amount)
		}
		return out, nil
	})
}

func (s *Service) PerformanceMetrics(ctx context.Context, filter Filter) (*Performance, error) {
	return remember(ctx, s, "performance-metrics", filter, s.cache.HighChurn(), func(ctx context.Context) (*Performance, error) {
		rows, err := s.repo.StatusTotals(ctx, filter)
		if err != nil {
			return nil, err
		}
		perf := BuildPerformance(rows)
		return &perf, nil
	})
}

func (s *Service) FinancialAnalysis(ctx context.Context, filter Filter) (*Financials, error) {
	return remember(ctx, s, "financial-analysis", filter, s.cache.LowChurn(), func(ctx context.Context) (*Financials, error) {
		rows, err := s.repo.PeriodTotals(ctx, Monthly, filter)
		if err != nil {
			return nil, err
		}
		fin := BuildFinancials(rows)
		return &fin, nil
	})
}

func (s *Service) PaymentOperations(ctx context.Context) (*Operations, error) {
	return remember(ctx, s, "payment-operations", Filter{}, s.cache.HighChurn(), func(ctx context.Context) (*Operations, error) {
		rows, err := s.repo.StatusTotals(ctx, Filter{})
		if err != nil {
			return nil, err
		}
		oldest, err := s.repo.OldestPending(ctx)
		if err != nil {
			return nil, err
		}
		out := &Operations{ByStatus: rows, OldestPendingAt: oldest}
		for _, row := range rows {
			if row.Type == enums.TransactionTypePayment && row.Status == enums.TransactionStatusPending {
				out.PendingCount += row.Count
			}
		}
		if oldest != nil {
			out.OldestPendingAgeS = int64(s.now().Sub(*oldest).Seconds())
		}
		return out, nil
	})
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	return remember(ctx, s, "dashboard", Filter{}, s.cache.HighChurn(), func(ctx context.Context) (*Dashboard, error) {
		periods, err := s.repo.PeriodTotals(ctx, Monthly, Filter{})
		if err != nil {
			return nil, err
		}
		statuses, err := s.repo.StatusTotals(ctx, Filter{})
		if err != nil {
			return nil, err
		}
		courses, err := s.repo.TopCourses(ctx, Filter{}, topN)
		if err != nil {
			return nil, err
		}
		educators, err := s.repo.TopEducators(ctx, Filter{}, topN)
		if err != nil {
			return nil, err
		}
		return &Dashboard{
			Financials:   BuildFinancials(periods),
			Performance:  BuildPerformance(statuses),
			TopCourses:   courses,
			TopEducators: educators,
		}, nil
	})
}

func (s *Service) EducatorPaymentAnalytics(ctx context.Context, educatorID string, filter Filter) (*EducatorAnalytics, error) {
	if educatorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "educatorId is required")
	}
	filter.EducatorID = educatorID
	return remember(ctx, s, "educator-payment-analytics", filter, s.cache.LowChurn(), func(ctx context.Context) (*EducatorAnalytics, error) {
		periods, err := s.repo.PeriodTotals(ctx, Monthly, filter)
		if err != nil {
			return nil, err
		}
		statuses, err := s.repo.StatusTotals(ctx, filter)
		if err != nil {
			return nil, err
		}
		courses, err := s.repo.TopCourses(ctx, filter, topN)
		if err != nil {
			return nil, err
		}
		return &EducatorAnalytics{
			EducatorID:  educatorID,
			Financials:  BuildFinancials(periods),
			Performance: BuildPerformance(statuses),
			TopCourses:  courses,
		}, nil
	})
}

// BuildFinancials folds monthly period totals into a gross/refund/net summary.
// Refund rows carry positive amounts and negated commission and earnings, so the
// commission and earnings sums are already net.
func BuildFinancials(rows []PeriodTotals) Financials {
	out := Financials{
		Gross:      decimal.Zero,
		Refunds:    decimal.Zero,
		Net:        decimal.Zero,
		Commission: decimal.Zero,
		Earnings:   decimal.Zero,
		Months:     []MonthFinancials{},
	}
	index := map[string]int{}
	for _, row := range rows {
		i, ok := index[row.Period]
		if !ok {
			out.Months = append(out.Months, MonthFinancials{
				Month:      row.Period,
				Gross:      decimal.Zero,
				Refunds:    decimal.Zero,
				Net:        decimal.Zero,
				Commission: decimal.Zero,
				Earnings:   decimal.Zero,
			})
			i = len(out.Months) - 1
			index[row.Period] = i
		}
		m := &out.Months[i]
		if row.Type == enums.TransactionTypeRefund {
			m.Refunds = m.Refunds.Add(row.Amount)
		} else {
			m.Gross = m.Gross.Add(row.Amount)
			m.Sales += row.Count
		}
		m.Commission = m.Commission.Add(row.Commission)
		m.Earnings = m.Earnings.Add(row.Earnings)
		m.Net = m.Gross.Sub(m.Refunds)
	}
	for _, m := range out.Months {
		out.Gross = out.Gross.Add(m.Gross)
		out.Refunds = out.Refunds.Add(m.Refunds)
		out.Commission = out.Commission.Add(m.Commission)
		out.Earnings = out.Earnings.Add(m.Earnings)
		out.Sales += m.Sales
	}
	out.Net = out.Gross.Sub(out.Refunds)
	return out
}

// BuildPerformance derives attempt outcome rates from status totals. Rates are
// percentages with two decimals; refunded and disputed payments count as
// successful captures.
func BuildPerformance(rows []StatusTotals) Performance {
	var out Performance
	captured := decimal.Zero
	for _, row := range rows {
		if row.Type != enums.TransactionTypePayment {
			continue
		}
		out.Attempts += row.Count
		switch row.Status {
		case enums.TransactionStatusCompleted:
			out.Successful += row.Count
			captured = captured.Add(row.Amount)
		case enums.TransactionStatusRefunded:
			out.Successful += row.Count
			out.Refunded += row.Count
			captured = captured.Add(row.Amount)
		case enums.TransactionStatusDisputed:
			out.Successful += row.Count
			out.Disputed += row.Count
			captured = captured.Add(row.Amount)
		case enums.TransactionStatusFailed:
			out.Failed += row.Count
		case enums.TransactionStatusPending:
			out.Pending += row.Count
		}
	}
	out.SuccessRate = percent(out.Successful, out.Attempts)
	out.FailureRate = percent(out.Failed, out.Attempts)
	out.RefundRate = percent(out.Refunded, out.Successful)
	out.AverageTicket = decimal.Zero
	if out.Successful > 0 {
		out.AverageTicket = captured.Div(decimal.NewFromInt(out.Successful)).Round(2)
	}
	return out
}

func percent(part, total int64) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
}
