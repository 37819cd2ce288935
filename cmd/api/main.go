// Command api serves the payment HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/coursepay/api/controllers"
	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/api/routes"
	"github.com/angelmondragon/coursepay/internal/app"
	"github.com/angelmondragon/coursepay/internal/reports"
	"github.com/angelmondragon/coursepay/internal/statistics"
	stripewebhook "github.com/angelmondragon/coursepay/internal/webhooks/stripe"
	"github.com/angelmondragon/coursepay/pkg/auth"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/migrate"
	"github.com/angelmondragon/coursepay/pkg/redis"
)

const (
	webhookReplayTTL = 72 * time.Hour
	shutdownTimeout  = 20 * time.Second
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "api: load config:", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	responses.ExposeErrorStack(!cfg.App.IsProd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "version": cfg.App.Version})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api failed", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer closeQuietly(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeQuietly(ctx, logg, "redis", redisClient.Close)

	core, err := app.BuildCore(ctx, cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("payment core: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := core.Close(closeCtx); err != nil {
			logg.Error(closeCtx, "payment core shutdown", err)
		}
	}()

	deps, err := dependencies(cfg, logg, core, dbClient, redisClient)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "addr", server.Addr), "starting api server")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info(gctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// dependencies assembles the read-side services and HTTP collaborators that sit
// next to the payment core.
func dependencies(cfg *config.Config, logg *logger.Logger, core *app.Core, dbClient *db.Client, redisClient *redis.Client) (routes.Dependencies, error) {
	statsRepo := statistics.NewRepository(dbClient.DB())
	statsService, err := statistics.NewService(statistics.ServiceParams{Repo: statsRepo, Cache: core.Cache})
	if err != nil {
		return routes.Dependencies{}, fmt.Errorf("statistics service: %w", err)
	}

	var renderer reports.PDFRenderer
	if cfg.Reports.PDFEnabled {
		renderer = reports.NewChromeRenderer(cfg.Reports.PDFTimeout)
	}
	reportService, err := reports.NewService(reports.ServiceParams{
		Repo:     statsRepo,
		Cache:    core.Cache,
		Rates:    core.Calculator,
		Renderer: renderer,
		Logger:   logg,
	})
	if err != nil {
		return routes.Dependencies{}, fmt.Errorf("report service: %w", err)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments: core.Payments,
		Accounts: core.Accounts,
		Audit:    core.Ledger,
		Logger:   logg,
	})
	if err != nil {
		return routes.Dependencies{}, fmt.Errorf("stripe webhook service: %w", err)
	}
	deliveries, err := stripewebhook.NewDeliveryLog(redisClient, webhookReplayTTL, "stripe-webhook")
	if err != nil {
		return routes.Dependencies{}, fmt.Errorf("stripe delivery log: %w", err)
	}

	tokens, err := auth.NewVerifier(cfg.JWT)
	if err != nil {
		return routes.Dependencies{}, fmt.Errorf("token verifier: %w", err)
	}

	pingers := map[string]controllers.Pinger{"db": dbClient, "redis": redisClient}
	if core.PubSub != nil {
		pingers["pubsub"] = core.PubSub
	}

	return routes.Dependencies{
		Pingers:        pingers,
		Idempotency:    redisClient,
		Gatherer:       prometheus.DefaultGatherer,
		Payments:       core.Payments,
		Accounts:       core.Accounts,
		Statistics:     statsService,
		Reports:        reportService,
		Cache:          core.Cache,
		StripeWebhooks: webhookService,
		StripeClient:   core.Stripe,
		WebhookGuard:   deliveries,
		Tokens:         tokens,
	}, nil
}

func closeQuietly(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(ctx, "resource", name), "close failed", err)
	}
}
