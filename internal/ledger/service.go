package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/coursepay/pkg/db/models"
	"github.com/angelmondragon/coursepay/pkg/enums"
	"github.com/angelmondragon/coursepay/pkg/types"
)

// Auditor appends audit entries for significant payment actions.
type Auditor interface {
	Record(ctx context.Context, input RecordAuditInput) (*models.AuditLog, error)
}

type auditor struct {
	repo Repository
}

// RecordAuditInput captures the immutable data an audit entry requires.
type RecordAuditInput struct {
	Action        enums.AuditAction `json:"action"`
	ActorID       string            `json:"actor_id"`
	TransactionID *uuid.UUID        `json:"transaction_id,omitempty"`
	Details       map[string]any    `json:"details,omitempty"`
}

// NewAuditor wires an auditor with the provided repository.
func NewAuditor(repo Repository) (Auditor, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &auditor{repo: repo}, nil
}

func (a *auditor) Record(ctx context.Context, input RecordAuditInput) (*models.AuditLog, error) {
	if !input.Action.IsValid() {
		return nil, fmt.Errorf("invalid audit action %q", input.Action)
	}
	actor := strings.TrimSpace(input.ActorID)
	if actor == "" {
		return nil, fmt.Errorf("actor id is required")
	}

	entry := &models.AuditLog{
		Action:        input.Action,
		ActorID:       actor,
		TransactionID: input.TransactionID,
		Details:       types.JSONMap(input.Details),
	}
	if err := a.repo.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}
