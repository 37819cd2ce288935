package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/coursepay/api/middleware"
	"github.com/angelmondragon/coursepay/api/responses"
	"github.com/angelmondragon/coursepay/api/validators"
	"github.com/angelmondragon/coursepay/internal/accounts"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

// AccountService is the payout account surface the handlers drive.
type AccountService interface {
	Create(ctx context.Context, input accounts.CreateAccountInput) (*models.StripeAccount, error)
	Get(ctx context.Context, educatorID string) (*models.StripeAccount, error)
	Delete(ctx context.Context, educatorID, actorID string) error
}

type createAccountRequest struct {
	Email   string `json:"email" validate:"omitempty,email"`
	Country string `json:"country,omitempty" validate:"omitempty,len=2"`
}

// CreateAccount onboards the calling educator with a connected payout account.
// The email defaults to the one carried by the token.
func CreateAccount(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body createAccountRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		email := strings.TrimSpace(body.Email)
		if email == "" {
			email = middleware.EmailFromContext(ctx)
		}

		account, err := svc.Create(ctx, accounts.CreateAccountInput{
			EducatorID: actor.ID,
			Email:      email,
			Country:    strings.ToUpper(body.Country),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}

func GetAccount(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		account, err := svc.Get(ctx, actor.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

func DeleteAccount(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, err := actorFrom(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err := svc.Delete(ctx, actor.ID, actor.ID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"deleted": true})
	}
}
