package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// Invoice is created alongside its Transaction in the same commit.
type Invoice struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InvoiceNumber string              `gorm:"column:invoice_number;not null;unique" json:"invoiceNumber"`
	TransactionID uuid.UUID           `gorm:"column:transaction_id;type:uuid;not null;unique" json:"transactionId"`
	Subtotal      decimal.Decimal     `gorm:"column:subtotal;type:numeric(12,2);not null" json:"subtotal"`
	Discount      decimal.Decimal     `gorm:"column:discount;type:numeric(12,2);not null" json:"discount"`
	Tax           decimal.Decimal     `gorm:"column:tax;type:numeric(12,2);not null" json:"tax"`
	Total         decimal.Decimal     `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	Status        enums.InvoiceStatus `gorm:"column:status;not null" json:"status"`
	BillingInfo   types.JSONMap       `gorm:"column:billing_info;type:jsonb" json:"billingInfo,omitempty"`
	IssueDate     time.Time           `gorm:"column:issue_date;not null" json:"issueDate"`
	PaidAt        *time.Time          `gorm:"column:paid_at" json:"paidAt,omitempty"`
	DueDate       *time.Time          `gorm:"column:due_date" json:"dueDate,omitempty"`
	Notes         *string             `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
