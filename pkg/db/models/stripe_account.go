package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StripeAccount is an educator's connected payout account.
type StripeAccount struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EducatorID      string    `gorm:"column:educator_id;not null;unique" json:"educatorId"`
	Email           string    `gorm:"column:email;not null" json:"email"`
	StripeAccountID string    `gorm:"column:stripe_account_id;not null;unique" json:"stripeAccountId"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (StripeAccount) TableName() string { return "stripe_accounts" }

func (a *StripeAccount) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
