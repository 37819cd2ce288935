// Command cron-worker runs the scheduled payment jobs. Replicas share schedules
// through Redis leases, so any number may run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/coursepay/internal/app"
	"github.com/angelmondragon/coursepay/internal/cron"
	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/metrics"
	"github.com/angelmondragon/coursepay/pkg/migrate"
	"github.com/angelmondragon/coursepay/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	runOnce := flag.String("run", "", "run the named job once and exit")
	metricsAddr := flag.String("metrics-addr", ":9102", "serve /metrics here; empty disables it")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cron-worker: load config:", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if err := run(ctx, cfg, logg, *runOnce, *metricsAddr); err != nil {
		logg.Error(ctx, "cron worker failed", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker stopped")
}

// run owns every resource so deferred cleanup happens before main exits.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, runOnce, metricsAddr string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

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

	service, err := newScheduler(cfg, logg, core, redisClient)
	if err != nil {
		return err
	}
	if runOnce != "" {
		return service.RunJob(ctx, runOnce)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logg.WithField(gctx, "schedule", cfg.Reconcile.Schedule), "starting cron scheduler")
		if err := service.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, metricsAddr) })
	}
	return g.Wait()
}

func newScheduler(cfg *config.Config, logg *logger.Logger, core *app.Core, redisClient *redis.Client) (*cron.Service, error) {
	reconcile, err := cron.NewPendingPaymentReconcileJob(cron.PendingPaymentReconcileJobParams{
		Logger:     logg,
		Reconciler: core.Payments,
		MinAge:     cfg.Reconcile.MinAge,
		BatchSize:  cfg.Reconcile.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile job: %w", err)
	}
	registry := cron.NewRegistry()
	if err := registry.Register(cfg.Reconcile.Schedule, reconcile); err != nil {
		return nil, err
	}

	scope := cfg.App.Env
	if scope == "" {
		scope = "local"
	}
	leaser, err := cron.NewRedisLeaser(redisClient, scope, 0)
	if err != nil {
		return nil, fmt.Errorf("cron leaser: %w", err)
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Leaser:   leaser,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
