package accounts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/internal/repo"
	"github.com/angelmondragon/coursepay/pkg/db/models"
)

// Repository persists educator payout accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.StripeAccount) error
	FindByEducator(ctx context.Context, educatorID string) (*models.StripeAccount, error)
	FindByStripeAccountID(ctx context.Context, stripeAccountID string) (*models.StripeAccount, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, account *models.StripeAccount) error {
	return r.DB(ctx).Create(account).Error
}

func (r *repository) FindByEducator(ctx context.Context, educatorID string) (*models.StripeAccount, error) {
	var account models.StripeAccount
	if err := r.DB(ctx).Where("educator_id = ?", educatorID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByStripeAccountID(ctx context.Context, stripeAccountID string) (*models.StripeAccount, error) {
	var account models.StripeAccount
	if err := r.DB(ctx).Where("stripe_account_id = ?", stripeAccountID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).Where("id = ?", id).Delete(&models.StripeAccount{}).Error
}
