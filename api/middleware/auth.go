package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/pkg/auth"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Auth rejects requests without a valid identity-service token and puts the
// caller on the context for handlers and logs.
func Auth(verifier TokenVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if verifier == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token verification not configured"))
				return
			}
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			id, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx = withCaller(ctx, id)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, id.UserID), string(id.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withCaller(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}
