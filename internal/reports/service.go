// Package reports builds the admin financial, educator earnings and commission
// reports on top of the statistics aggregates. Results live in the report:*
// cache namespace for the low-churn TTL.
package reports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coursepay/internal/cache"
	"github.com/angelmondragon/coursepay/internal/statistics"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/redis"
)

const (
	topCourses      = 10
	educatorCourses = 50
)

var hundred = decimal.NewFromInt(100)

// Range bounds a report on created_at. Either end may be open.
type Range struct {
	From *time.Time
	To   *time.Time
}

func (r Range) filter() statistics.Filter {
	return statistics.Filter{From: r.From, To: r.To}
}

type FinancialReport struct {
	From       *time.Time            `json:"from,omitempty"`
	To         *time.Time            `json:"to,omitempty"`
	Summary    statistics.Financials `json:"summary"`
	TopCourses []statistics.Ranked   `json:"topCourses"`
}

type EducatorEarningsReport struct {
	EducatorID string                `json:"educatorId"`
	From       *time.Time            `json:"from,omitempty"`
	To         *time.Time            `json:"to,omitempty"`
	Summary    statistics.Financials `json:"summary"`
	Courses    []statistics.Ranked   `json:"courses"`
}

type TierAnalysis struct {
	Tier           string          `json:"tier"`
	Count          int64           `json:"count"`
	Gross          decimal.Decimal `json:"gross"`
	Commission     decimal.Decimal `json:"commission"`
	Earnings       decimal.Decimal `json:"earnings"`
	ConfiguredRate decimal.Decimal `json:"configuredRate"`
	EffectiveRate  decimal.Decimal `json:"effectiveRate"`
}

type CommissionAnalysis struct {
	From          *time.Time      `json:"from,omitempty"`
	To            *time.Time      `json:"to,omitempty"`
	Tiers         []TierAnalysis  `json:"tiers"`
	Gross         decimal.Decimal `json:"gross"`
	Commission    decimal.Decimal `json:"commission"`
	EffectiveRate decimal.Decimal `json:"effectiveRate"`
}

// rateTable reports the configured commission percentage for an amount.
type rateTable interface {
	EffectiveRate(amount decimal.Decimal) decimal.Decimal
}

// tierFloors are representative amounts for each tier bucket.
var tierFloors = map[string]decimal.Decimal{
	statistics.TierStandard: decimal.Zero,
	statistics.TierMid:      decimal.NewFromInt(200),
	statistics.TierHigh:     decimal.NewFromInt(500),
}

var tierOrder = []string{statistics.TierStandard, statistics.TierMid, statistics.TierHigh}

type ServiceParams struct {
	Repo     statistics.Repository
	Cache    *cache.Cache
	Rates    rateTable
	Renderer PDFRenderer
	Logger   *logger.Logger
	Clock    func() time.Time
}

type Service struct {
	repo     statistics.Repository
	cache    *cache.Cache
	rates    rateTable
	renderer PDFRenderer
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "statistics repository required")
	}
	if params.Rates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission rates required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     params.Repo,
		cache:    params.Cache,
		rates:    params.Rates,
		renderer: params.Renderer,
		logg:     params.Logger,
		now:      clock,
	}, nil
}

func remember[T any](ctx context.Context, s *Service, op string, filter statistics.Filter, compute func(context.Context) (T, error)) (T, error) {
	if err := statistics.ValidateFilter(filter); err != nil {
		var zero T
		return zero, err
	}
	key := cache.Key(redis.ReportNamespace, op, statistics.CacheFilters(filter))
	out, err := cache.Remember(ctx, s.cache, key, s.cache.LowChurn(), compute)
	if err != nil && pkgerrors.As(err) == nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build report "+op)
	}
	return out, err
}

func (s *Service) FinancialReport(ctx context.Context, r Range) (*FinancialReport, error) {
	return remember(ctx, s, "financial", r.filter(), func(ctx context.Context) (*FinancialReport, error) {
		periods, err := s.repo.PeriodTotals(ctx, statistics.Monthly, r.filter())
		if err != nil {
			return nil, err
		}
		courses, err := s.repo.TopCourses(ctx, r.filter(), topCourses)
		if err != nil {
			return nil, err
		}
		return &FinancialReport{
			From:       r.From,
			To:         r.To,
			Summary:    statistics.BuildFinancials(periods),
			TopCourses: nonNil(courses),
		}, nil
	})
}

func (s *Service) EducatorEarnings(ctx context.Context, educatorID string, r Range) (*EducatorEarningsReport, error) {
	if educatorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "educatorId is required")
	}
	filter := r.filter()
	filter.EducatorID = educatorID
	return remember(ctx, s, "educator-earnings", filter, func(ctx context.Context) (*EducatorEarningsReport, error) {
		periods, err := s.repo.PeriodTotals(ctx, statistics.Monthly, filter)
		if err != nil {
			return nil, err
		}
		courses, err := s.repo.TopCourses(ctx, filter, educatorCourses)
		if err != nil {
			return nil, err
		}
		return &EducatorEarningsReport{
			EducatorID: educatorID,
			From:       r.From,
			To:         r.To,
			Summary:    statistics.BuildFinancials(periods),
			Courses:    nonNil(courses),
		}, nil
	})
}

func (s *Service) CommissionAnalysis(ctx context.Context, r Range) (*CommissionAnalysis, error) {
	return remember(ctx, s, "commission-analysis", r.filter(), func(ctx context.Context) (*CommissionAnalysis, error) {
		rows, err := s.repo.TierTotals(ctx, r.filter())
		if err != nil {
			return nil, err
		}
		byTier := make(map[string]statistics.TierTotals, len(rows))
		for _, row := range rows {
			byTier[row.Tier] = row
		}

		out := &CommissionAnalysis{
			From:       r.From,
			To:         r.To,
			Tiers:      make([]TierAnalysis, 0, len(tierOrder)),
			Gross:      decimal.Zero,
			Commission: decimal.Zero,
		}
		for _, tier := range tierOrder {
			row, ok := byTier[tier]
			if !ok {
				row = statistics.TierTotals{Tier: tier, Gross: decimal.Zero, Commission: decimal.Zero, Earnings: decimal.Zero}
			}
			out.Tiers = append(out.Tiers, TierAnalysis{
				Tier:           tier,
				Count:          row.Count,
				Gross:          row.Gross,
				Commission:     row.Commission,
				Earnings:       row.Earnings,
				ConfiguredRate: s.rates.EffectiveRate(tierFloors[tier]),
				EffectiveRate:  rate(row.Commission, row.Gross),
			})
			out.Gross = out.Gross.Add(row.Gross)
			out.Commission = out.Commission.Add(row.Commission)
		}
		out.EffectiveRate = rate(out.Commission, out.Gross)
		return out, nil
	})
}

// FinancialReportPDF renders FinancialReport for the same range as a PDF document.
func (s *Service) FinancialReportPDF(ctx context.Context, r Range) ([]byte, error) {
	if s.renderer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pdf rendering is disabled")
	}
	report, err := s.FinancialReport(ctx, r)
	if err != nil {
		return nil, err
	}
	html, err := renderFinancialHTML(report, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render financial report html")
	}

	started := s.now()
	pdf, err := s.renderer.Render(ctx, html)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "print financial report pdf")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"bytes":       len(pdf),
			"duration_ms": s.now().Sub(started).Milliseconds(),
		}), "financial report pdf rendered")
	}
	return pdf, nil
}

func rate(commission, gross decimal.Decimal) decimal.Decimal {
	if gross.IsZero() {
		return decimal.Zero
	}
	return commission.Mul(hundred).Div(gross).Round(2)
}

func nonNil(rows []statistics.Ranked) []statistics.Ranked {
	if rows == nil {
		return []statistics.Ranked{}
	}
	return rows
}
