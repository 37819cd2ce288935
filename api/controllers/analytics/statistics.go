// Package analytics serves the admin statistics and report endpoints.
package analytics

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/internal/statistics"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// StatisticsService is the cached aggregate surface behind /statistics.
type StatisticsService interface {
	TransactionVolumes(ctx context.Context, filter statistics.Filter) (*statistics.Volumes, error)
	PerformanceMetrics(ctx context.Context, filter statistics.Filter) (*statistics.Performance, error)
	FinancialAnalysis(ctx context.Context, filter statistics.Filter) (*statistics.Financials, error)
	PaymentOperations(ctx context.Context) (*statistics.Operations, error)
	Dashboard(ctx context.Context) (*statistics.Dashboard, error)
	EducatorPaymentAnalytics(ctx context.Context, educatorID string, filter statistics.Filter) (*statistics.EducatorAnalytics, error)
}

func windowed[T any](logg *logger.Logger, run func(ctx context.Context, filter statistics.Filter) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		from, to, err := resolveRange(r, timeNowUTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := run(ctx, statistics.Filter{From: from, To: to})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func TransactionVolumes(svc StatisticsService, logg *logger.Logger) http.HandlerFunc {
	return windowed(logg, svc.TransactionVolumes)
}

func PerformanceMetrics(svc StatisticsService, logg *logger.Logger) http.HandlerFunc {
	return windowed(logg, svc.PerformanceMetrics)
}

func FinancialAnalysis(svc StatisticsService, logg *logger.Logger) http.HandlerFunc {
	return windowed(logg, svc.FinancialAnalysis)
}

func PaymentOperations(svc StatisticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.PaymentOperations(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Dashboard(svc StatisticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Dashboard(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func EducatorPaymentAnalytics(svc StatisticsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		educatorID, err := educatorParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		from, to, err := resolveRange(r, timeNowUTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithEducatorID(ctx, educatorID)
		}

		result, err := svc.EducatorPaymentAnalytics(ctx, educatorID, statistics.Filter{From: from, To: to})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func educatorParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "educatorId"))
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "educatorId is required")
	}
	return id, nil
}
