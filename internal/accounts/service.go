// Package accounts manages educator payout (connected) accounts.
package accounts

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/gateway"
	"github.com/angelmondragon/coursepay/internal/ledger"
	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay/pkg/errors"
	"github.com/angelmondragon/coursepay/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the payout account lifecycle.
type Service interface {
	Create(ctx context.Context, input CreateAccountInput) (*models.StripeAccount, error)
	Get(ctx context.Context, educatorID string) (*models.StripeAccount, error)
	Delete(ctx context.Context, educatorID, actorID string) error
	Forget(ctx context.Context, stripeAccountID, actorID string) (bool, error)
}

type CreateAccountInput struct {
	EducatorID string
	Email      string
	Country    string
}

type ServiceParams struct {
	Repo              Repository
	Ledger            ledger.Repository
	Gateway           gateway.Gateway
	TransactionRunner txRunner
	Logger            *logger.Logger
}

type service struct {
	repo     Repository
	ledger   ledger.Repository
	gateway  gateway.Gateway
	txRunner txRunner
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("accounts repo required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repo required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		ledger:   params.Ledger,
		gateway:  params.Gateway,
		txRunner: params.TransactionRunner,
		logg:     params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateAccountInput) (*models.StripeAccount, error) {
	educatorID := strings.TrimSpace(input.EducatorID)
	email := strings.TrimSpace(input.Email)
	if educatorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "educator id is required")
	}
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	if _, err := s.repo.FindByEducator(ctx, educatorID); err == nil {
		return nil, pkgerrors.NewKind(pkgerrors.KindAccountAlreadyExists)
	} else if !repo.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payout account")
	}

	connected, err := s.gateway.CreateConnectedAccount(ctx, gateway.ConnectedAccountRequest{
		EducatorID: educatorID,
		Email:      email,
		Country:    input.Country,
	})
	if err != nil {
		return nil, pkgerrors.WrapKind(pkgerrors.KindGatewayUnavailable, err)
	}

	account := &models.StripeAccount{
		EducatorID:      educatorID,
		Email:           email,
		StripeAccountID: connected.ID,
	}
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, account); err != nil {
			return err
		}
		return s.ledger.WithTx(tx).AppendAudit(ctx, &models.AuditLog{
			Action:  enums.AuditActionAccountCreated,
			ActorID: educatorID,
			Details: map[string]any{"stripeAccountId": connected.ID, "email": email},
		})
	})
	if err != nil {
		// the row lost a race with a concurrent onboarding; drop the orphan account
		if delErr := s.gateway.DeleteConnectedAccount(ctx, connected.ID); delErr != nil {
			s.logg.Error(s.logg.WithEducatorID(ctx, educatorID), "orphaned connected account", delErr)
		}
		if db.IsUniqueViolation(err, "", "stripe_accounts.educator_id") {
			return nil, pkgerrors.NewKind(pkgerrors.KindAccountAlreadyExists)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist payout account")
	}

	s.logg.Info(s.logg.WithEducatorID(ctx, educatorID), "payout account created")
	return account, nil
}

func (s *service) Get(ctx context.Context, educatorID string) (*models.StripeAccount, error) {
	account, err := s.repo.FindByEducator(ctx, strings.TrimSpace(educatorID))
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payout account")
	}
	return account, nil
}

func (s *service) Delete(ctx context.Context, educatorID, actorID string) error {
	account, err := s.Get(ctx, educatorID)
	if err != nil {
		return err
	}
	if err := s.gateway.DeleteConnectedAccount(ctx, account.StripeAccountID); err != nil {
		return pkgerrors.WrapKind(pkgerrors.KindGatewayUnavailable, err)
	}
	return s.remove(ctx, account, actorID, "deleted")
}

// Forget drops the local record for an account the processor already detached
// (deauthorized). Returns false when no such account is known.
func (s *service) Forget(ctx context.Context, stripeAccountID, actorID string) (bool, error) {
	account, err := s.repo.FindByStripeAccountID(ctx, stripeAccountID)
	if err != nil {
		if repo.IsNotFound(err) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payout account")
	}
	if err := s.remove(ctx, account, actorID, "deauthorized"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *service) remove(ctx context.Context, account *models.StripeAccount, actorID, reason string) error {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Delete(ctx, account.ID); err != nil {
			return err
		}
		return s.ledger.WithTx(tx).AppendAudit(ctx, &models.AuditLog{
			Action:  enums.AuditActionAccountDeleted,
			ActorID: actorID,
			Details: map[string]any{
				"educatorId":      account.EducatorID,
				"stripeAccountId": account.StripeAccountID,
				"reason":          reason,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete payout account")
	}
	s.logg.Info(s.logg.WithEducatorID(ctx, account.EducatorID), "payout account removed")
	return nil
}
