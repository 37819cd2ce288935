package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// AuditLog is append only.
type AuditLog struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Action        enums.AuditAction `gorm:"column:action;not null" json:"action"`
	ActorID       string            `gorm:"column:actor_id;not null" json:"actorId"`
	TransactionID *uuid.UUID        `gorm:"column:transaction_id;type:uuid" json:"transactionId,omitempty"`
	Details       types.JSONMap     `gorm:"column:details;type:jsonb" json:"details,omitempty"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func (a *AuditLog) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
