package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/coursepay/api/responses"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// InternalSecretHeader carries the shared secret sibling services present.
const InternalSecretHeader = "X-Internal-Secret"

// InternalOnly admits requests presenting the configured shared secret. An empty
// secret closes the route.
func InternalOnly(secret string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimSpace(r.Header.Get(InternalSecretHeader))
			if secret == "" || presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "internal credentials required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
