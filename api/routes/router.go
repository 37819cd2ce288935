package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/coursepay/api/controllers"
	analyticscontrollers "github.com/angelmondragon/coursepay/api/controllers/analytics"
	paymentcontrollers "github.com/angelmondragon/coursepay/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/coursepay/api/controllers/webhooks"
	"github.com/angelmondragon/coursepay/api/middleware"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// Dependencies carries everything the HTTP surface drives. Nil pingers are
// reported as disabled by the health endpoint.
type Dependencies struct {
	Pingers        map[string]controllers.Pinger
	Idempotency    middleware.ReplayStore
	Gatherer       prometheus.Gatherer
	Payments       paymentcontrollers.Service
	Accounts       paymentcontrollers.AccountService
	Statistics     analyticscontrollers.StatisticsService
	Reports        analyticscontrollers.ReportService
	Cache          controllers.CacheInvalidator
	StripeWebhooks webhookcontrollers.StripeWebhookService
	StripeClient   webhookcontrollers.EventVerifier
	WebhookGuard   webhookcontrollers.DeliveryGuard
	Tokens         middleware.TokenVerifier
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Get("/health", controllers.Health(cfg, deps.Pingers, logg))
	r.Get("/health/live", controllers.HealthLive(cfg))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.StripeClient, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1/internal", func(r chi.Router) {
		r.Use(middleware.InternalOnly(cfg.Internal.Secret, logg))
		r.Post("/cache/invalidate", controllers.InvalidateCache(deps.Cache, logg))
	})

	idempotentPayment := middleware.Idempotency(deps.Idempotency, middleware.PaymentReplayTTL, logg)
	idempotentAccount := middleware.Idempotency(deps.Idempotency, middleware.AccountReplayTTL, logg)
	educator := middleware.RequireRole(logg, enums.RoleEducator)
	admin := middleware.RequireRole(logg, enums.RoleAdmin)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, logg))

		r.Route("/payments", func(r chi.Router) {
			r.With(idempotentPayment).Post("/", paymentcontrollers.CreatePayment(deps.Payments, logg))
			r.With(idempotentPayment).Post("/refund", paymentcontrollers.CreateRefund(deps.Payments, logg))
			r.Get("/user", paymentcontrollers.ListUserTransactions(deps.Payments, logg))
			r.With(educator).Get("/total-earnings", paymentcontrollers.TotalEarnings(deps.Payments, logg))
			r.With(educator).Get("/current-balance", paymentcontrollers.CurrentBalance(deps.Payments, logg))
			r.Get("/enrollment/{courseId}", paymentcontrollers.EnrollmentStatus(deps.Payments, logg))
			r.Get("/enrollments", paymentcontrollers.ListEnrollments(deps.Payments, logg))

			r.Route("/accounts", func(r chi.Router) {
				r.Use(educator)
				r.With(idempotentAccount).Post("/", paymentcontrollers.CreateAccount(deps.Accounts, logg))
				r.Get("/me", paymentcontrollers.GetAccount(deps.Accounts, logg))
				r.Delete("/me", paymentcontrollers.DeleteAccount(deps.Accounts, logg))
			})

			r.Get("/{transactionId}", paymentcontrollers.GetTransaction(deps.Payments, logg))
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/educators/{educatorId}/earnings", analyticscontrollers.EducatorEarnings(deps.Reports, logg))
			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/financial", analyticscontrollers.FinancialReport(deps.Reports, logg))
				r.Get("/financial/pdf", analyticscontrollers.FinancialReportPDF(deps.Reports, logg))
				r.Get("/commission-analysis", analyticscontrollers.CommissionAnalysis(deps.Reports, logg))
			})
		})

		r.Route("/statistics", func(r chi.Router) {
			r.Use(admin)
			r.Get("/transaction-volumes", analyticscontrollers.TransactionVolumes(deps.Statistics, logg))
			r.Get("/performance-metrics", analyticscontrollers.PerformanceMetrics(deps.Statistics, logg))
			r.Get("/financial-analysis", analyticscontrollers.FinancialAnalysis(deps.Statistics, logg))
			r.Get("/payment-operations", analyticscontrollers.PaymentOperations(deps.Statistics, logg))
			r.Get("/dashboard", analyticscontrollers.Dashboard(deps.Statistics, logg))
			r.Get("/educators/{educatorId}/payment-analytics", analyticscontrollers.EducatorPaymentAnalytics(deps.Statistics, logg))
		})
	})

	return r
}
