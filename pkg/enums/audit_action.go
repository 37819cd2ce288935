package enums

import "fmt"

// AuditAction names the actions written to the audit trail.
type AuditAction string

const (
	AuditActionPaymentProcessed AuditAction = "PAYMENT_PROCESSED"
	AuditActionPaymentFailed    AuditAction = "PAYMENT_FAILED"
	AuditActionRefundProcessed  AuditAction = "REFUND_PROCESSED"
	AuditActionAccountCreated   AuditAction = "ACCOUNT_CREATED"
	AuditActionAccountDeleted   AuditAction = "ACCOUNT_DELETED"
	AuditActionWebhookReceived  AuditAction = "WEBHOOK_RECEIVED"
)

var validAuditActions = []AuditAction{
	AuditActionPaymentProcessed,
	AuditActionPaymentFailed,
	AuditActionRefundProcessed,
	AuditActionAccountCreated,
	AuditActionAccountDeleted,
	AuditActionWebhookReceived,
}

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into a AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
