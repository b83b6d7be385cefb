package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntity names the kind of record an audit entry describes.
type AuditEntity string

const (
	AuditPayment AuditEntity = "payment"
	AuditEscrow  AuditEntity = "escrow"
	AuditPayout  AuditEntity = "payout"
	AuditVendor  AuditEntity = "vendor"
)

// AuditSource names what triggered a mutation.
type AuditSource string

const (
	SourceAPI       AuditSource = "api"
	SourceWebhook   AuditSource = "webhook"
	SourceScheduler AuditSource = "scheduler"
	SourceConsumer  AuditSource = "consumer"
)

// AuditEntry records a financial state change. It is written in the same transaction as
// the change it describes.
type AuditEntry struct {
	ID             uuid.UUID   `json:"id"`
	EntityType     AuditEntity `json:"entity_type"`
	EntityID       uuid.UUID   `json:"entity_id"`
	PreviousStatus string      `json:"previous_status"`
	NewStatus      string      `json:"new_status"`
	EventID        string      `json:"event_id,omitempty"`
	Source         AuditSource `json:"source"`
	Detail         string      `json:"detail,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// WebhookEventStatus tracks processing of a delivered processor event.
type WebhookEventStatus string

const (
	WebhookReceived  WebhookEventStatus = "received"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookFailed    WebhookEventStatus = "failed"
)
