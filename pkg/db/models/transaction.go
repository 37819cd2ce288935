package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// MetadataOriginalTransactionID links a REFUND row back to the payment it compensates.
const MetadataOriginalTransactionID = "originalTransactionId"

// Transaction is the ledger row for a course payment or its compensating refund.
type Transaction struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GatewayChargeID    *string                 `gorm:"column:gateway_charge_id;unique" json:"gatewayChargeId,omitempty"`
	GatewayTransferID  *string                 `gorm:"column:gateway_transfer_id" json:"gatewayTransferId,omitempty"`
	Amount             decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency           string                  `gorm:"column:currency;not null;default:'USD'" json:"currency"`
	Status             enums.TransactionStatus `gorm:"column:status;not null" json:"status"`
	Type               enums.TransactionType   `gorm:"column:type;not null" json:"type"`
	PlatformCommission decimal.Decimal         `gorm:"column:platform_commission;type:numeric(12,2);not null" json:"platformCommission"`
	EducatorEarnings   decimal.Decimal         `gorm:"column:educator_earnings;type:numeric(12,2);not null" json:"educatorEarnings"`
	UserID             string                  `gorm:"column:user_id;not null" json:"userId"`
	CourseID           string                  `gorm:"column:course_id;not null" json:"courseId"`
	EducatorID         string                  `gorm:"column:educator_id;not null" json:"educatorId"`
	Description        *string                 `gorm:"column:description" json:"description,omitempty"`
	Metadata           types.JSONMap           `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	RefundID           *uuid.UUID              `gorm:"column:refund_id;type:uuid" json:"refundId,omitempty"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// OriginalTransactionID returns the payment a REFUND row compensates, if recorded.
func (t *Transaction) OriginalTransactionID() (uuid.UUID, bool) {
	raw := t.Metadata.String(MetadataOriginalTransactionID)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
