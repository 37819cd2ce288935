package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/pkg/config"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

const pingTimeout = 2 * time.Second

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthReport struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoursePay-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// Health pings every named dependency and answers 503 when any is down.
func Health(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-CoursePay-Env", cfg.App.Env)

		report := healthReport{Status: "ok", Version: cfg.App.Version, Checks: make(map[string]string, len(deps))}
		for name, dep := range deps {
			if dep == nil {
				report.Checks[name] = "disabled"
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := dep.Ping(pingCtx)
			cancel()
			if err != nil {
				report.Status = "degraded"
				report.Checks[name] = "down"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "health check failed", err)
				}
				continue
			}
			report.Checks[name] = "up"
		}

		if report.Status != "ok" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(report))
			return
		}
		responses.WriteSuccess(w, report)
	}
}
