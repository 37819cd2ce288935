package analytics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/angelmondragon/coursepay/api/middleware"
	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/internal/reports"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// ReportService builds the cached financial reports.
type ReportService interface {
	FinancialReport(ctx context.Context, r reports.Range) (*reports.FinancialReport, error)
	FinancialReportPDF(ctx context.Context, r reports.Range) ([]byte, error)
	EducatorEarnings(ctx context.Context, educatorID string, r reports.Range) (*reports.EducatorEarningsReport, error)
	CommissionAnalysis(ctx context.Context, r reports.Range) (*reports.CommissionAnalysis, error)
}

func reportRange(r *http.Request) (reports.Range, error) {
	from, to, err := resolveRange(r, timeNowUTC())
	if err != nil {
		return reports.Range{}, err
	}
	return reports.Range{From: from, To: to}, nil
}

func FinancialReport(svc ReportService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rng, err := reportRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		report, err := svc.FinancialReport(ctx, rng)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// FinancialReportPDF streams the financial report as an attachment.
func FinancialReportPDF(svc ReportService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rng, err := reportRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		pdf, err := svc.FinancialReportPDF(ctx, rng)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="financial-report-`+timeNowUTC().Format("20060102")+`.pdf"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(pdf); err != nil && logg != nil {
			logg.Warn(ctx, "financial report pdf write failed")
		}
	}
}

// EducatorEarnings is open to admins and to the educator named in the path.
func EducatorEarnings(svc ReportService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		educatorID, err := educatorParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		role := middleware.RoleFromContext(ctx)
		if role != enums.RoleAdmin && !(role == enums.RoleEducator && middleware.UserIDFromContext(ctx) == educatorID) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to read this earnings report"))
			return
		}
		rng, err := reportRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		report, err := svc.EducatorEarnings(ctx, educatorID, rng)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func CommissionAnalysis(svc ReportService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rng, err := reportRange(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		analysis, err := svc.CommissionAnalysis(ctx, rng)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, analysis)
	}
}
