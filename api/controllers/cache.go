package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/coursepay/api/responses"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// CacheInvalidator drops every cached statistics and report entry.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// InvalidateCache lets sibling services force fresh aggregates after bulk
// changes. The route is guarded by the internal shared secret.
func InvalidateCache(cache CacheInvalidator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cache == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "cache unavailable"))
			return
		}
		if err := cache.InvalidateAll(ctx); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalidate cache"))
			return
		}
		if logg != nil {
			logg.Info(ctx, "statistics and report caches invalidated")
		}
		responses.WriteSuccess(w, map[string]bool{"invalidated": true})
	}
}
