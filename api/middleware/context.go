package middleware

import (
	"context"

	"github.com/angelmondragon/coursepay/pkg/auth"
	"github.com/angelmondragon/coursepay/pkg/enums"
)

type callerKey struct{}

// CallerFromContext returns the identity Auth verified, if any.
func CallerFromContext(ctx context.Context) (auth.Identity, bool) {
	if ctx == nil {
		return auth.Identity{}, false
	}
	id, ok := ctx.Value(callerKey{}).(auth.Identity)
	return id, ok
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := CallerFromContext(ctx)
	return id.UserID
}

func RoleFromContext(ctx context.Context) enums.Role {
	id, _ := CallerFromContext(ctx)
	return id.Role
}

func EmailFromContext(ctx context.Context) string {
	id, _ := CallerFromContext(ctx)
	return id.Email
}

// WithIdentity sets the caller as Auth would after a valid token.
func WithIdentity(ctx context.Context, userID string, role enums.Role) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return withCaller(ctx, auth.Identity{UserID: userID, Role: role})
}
