package analytics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/coursepay/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestTransactionVolumesOpenRangeByDefault(t *testing.T) {
	stub := &testStatisticsService{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics/transaction-volumes", nil)
	resp := httptest.NewRecorder()

	TransactionVolumes(stub, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.last.From != nil || stub.last.To != nil {
		t.Fatalf("expected open range, got %+v", stub.last)
	}

	var envelope struct {
		Data struct {
			Days []struct {
				Date     string `json:"date"`
				Payments struct {
					Count int64 `json:"count"`
				} `json:"payments"`
			} `json:"days"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Days) != 1 || envelope.Data.Days[0].Payments.Count != 3 {
		t.Fatalf("unexpected volumes: %+v", envelope.Data)
	}
}

func TestPerformanceMetricsUsesPreset(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	timeNowUTC = func() time.Time { return now }
	defer func() { timeNowUTC = func() time.Time { return time.Now().UTC() } }()

	stub := &testStatisticsService{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics/performance-metrics?preset=7d", nil)
	resp := httptest.NewRecorder()

	PerformanceMetrics(stub, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.last.From == nil || stub.last.To == nil {
		t.Fatalf("expected bounded range")
	}
	if got := stub.last.To.Sub(*stub.last.From); got != 7*24*time.Hour {
		t.Fatalf("expected 7d range, got %v", got)
	}
	if !stub.last.To.Equal(now) {
		t.Fatalf("expected range to end now, got %v", stub.last.To)
	}
}

func TestFinancialAnalysisExplicitDates(t *testing.T) {
	stub := &testStatisticsService{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/statistics/financial-analysis?startDate=2026-03-01&endDate=2026-03-31&preset=7d", nil)
	resp := httptest.NewRecorder()

	FinancialAnalysis(stub, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if stub.last.From == nil || !stub.last.From.Equal(want) {
		t.Fatalf("expected explicit start, got %v", stub.last.From)
	}
	if stub.last.To == nil || stub.last.To.Day() != 31 {
		t.Fatalf("expected inclusive end, got %v", stub.last.To)
	}
}

func TestStatisticsRejectsBadRange(t *testing.T) {
	cases := []string{
		"/api/v1/statistics/financial-analysis?preset=2w",
		"/api/v1/statistics/financial-analysis?startDate=2026-04-01&endDate=2026-03-01",
		"/api/v1/statistics/financial-analysis?startDate=yesterday",
	}
	for _, url := range cases {
		stub := &testStatisticsService{}
		resp := httptest.NewRecorder()
		FinancialAnalysis(stub, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, url, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", url, resp.Code)
		}
		if stub.calls != 0 {
			t.Fatalf("%s: service should not be invoked", url)
		}
	}
}

func TestOperationsAndDashboard(t *testing.T) {
	stub := &testStatisticsService{}
	resp := httptest.NewRecorder()
	PaymentOperations(stub, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	Dashboard(stub, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.calls != 2 {
		t.Fatalf("expected two service calls, got %d", stub.calls)
	}

	failing := &testStatisticsService{err: errors.New("redis down")}
	resp = httptest.NewRecorder()
	Dashboard(failing, testLogger()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for untyped failure, got %d", resp.Code)
	}
}

func TestEducatorPaymentAnalytics(t *testing.T) {
	stub := &testStatisticsService{}
	req := withEducatorParam(httptest.NewRequest(http.MethodGet, "/api/v1/statistics/educators/edu_1/payment-analytics", nil), "edu_1")
	resp := httptest.NewRecorder()

	EducatorPaymentAnalytics(stub, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.educatorID != "edu_1" {
		t.Fatalf("expected educator scope, got %q", stub.educatorID)
	}

	stub = &testStatisticsService{}
	req = withEducatorParam(httptest.NewRequest(http.MethodGet, "/", nil), "  ")
	resp = httptest.NewRecorder()
	EducatorPaymentAnalytics(stub, testLogger()).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest || stub.calls != 0 {
		t.Fatalf("expected 400 without call, got %d", resp.Code)
	}
}
