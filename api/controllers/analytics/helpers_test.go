package analytics

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/coursepay/internal/reports"
	"github.com/angelmondragon/coursepay/internal/statistics"
)

type testStatisticsService struct {
	last       statistics.Filter
	educatorID string
	calls      int
	err        error
}

func (s *testStatisticsService) record(filter statistics.Filter) error {
	s.calls++
	s.last = filter
	return s.err
}

func (s *testStatisticsService) TransactionVolumes(_ context.Context, filter statistics.Filter) (*statistics.Volumes, error) {
	if err := s.record(filter); err != nil {
		return nil, err
	}
	return &statistics.Volumes{Days: []statistics.DayVolume{{Date: "2026-03-02", Payments: statistics.Bucket{Count: 3}}}}, nil
}

func (s *testStatisticsService) PerformanceMetrics(_ context.Context, filter statistics.Filter) (*statistics.Performance, error) {
	if err := s.record(filter); err != nil {
		return nil, err
	}
	return &statistics.Performance{Attempts: 10, Successful: 8}, nil
}

func (s *testStatisticsService) FinancialAnalysis(_ context.Context, filter statistics.Filter) (*statistics.Financials, error) {
	if err := s.record(filter); err != nil {
		return nil, err
	}
	return &statistics.Financials{Sales: 4}, nil
}

func (s *testStatisticsService) PaymentOperations(context.Context) (*statistics.Operations, error) {
	if err := s.record(statistics.Filter{}); err != nil {
		return nil, err
	}
	return &statistics.Operations{PendingCount: 2}, nil
}

func (s *testStatisticsService) Dashboard(context.Context) (*statistics.Dashboard, error) {
	if err := s.record(statistics.Filter{}); err != nil {
		return nil, err
	}
	return &statistics.Dashboard{}, nil
}

func (s *testStatisticsService) EducatorPaymentAnalytics(_ context.Context, educatorID string, filter statistics.Filter) (*statistics.EducatorAnalytics, error) {
	s.educatorID = educatorID
	if err := s.record(filter); err != nil {
		return nil, err
	}
	return &statistics.EducatorAnalytics{EducatorID: educatorID}, nil
}

type testReportService struct {
	last       reports.Range
	educatorID string
	calls      int
	pdf        []byte
	err        error
}

func (s *testReportService) FinancialReport(_ context.Context, r reports.Range) (*reports.FinancialReport, error) {
	s.calls++
	s.last = r
	if s.err != nil {
		return nil, s.err
	}
	return &reports.FinancialReport{From: r.From, To: r.To}, nil
}

func (s *testReportService) FinancialReportPDF(_ context.Context, r reports.Range) ([]byte, error) {
	s.calls++
	s.last = r
	return s.pdf, s.err
}

func (s *testReportService) EducatorEarnings(_ context.Context, educatorID string, r reports.Range) (*reports.EducatorEarningsReport, error) {
	s.calls++
	s.last = r
	s.educatorID = educatorID
	if s.err != nil {
		return nil, s.err
	}
	return &reports.EducatorEarningsReport{EducatorID: educatorID}, nil
}

func (s *testReportService) CommissionAnalysis(_ context.Context, r reports.Range) (*reports.CommissionAnalysis, error) {
	s.calls++
	s.last = r
	if s.err != nil {
		return nil, s.err
	}
	return &reports.CommissionAnalysis{Tiers: []reports.TierAnalysis{}}, nil
}

func withEducatorParam(req *http.Request, educatorID string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("educatorId", educatorID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}
