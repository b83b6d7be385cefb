/**
 * @description
 * Typed processor events. The webhook parser turns every verified delivery into exactly one
 * of these variants; event types the service does not know become UnrecognizedEvent.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProcessorEvent is implemented by every variant below.
type ProcessorEvent interface {
	Meta() EventMeta
}

// EventMeta carries the delivery envelope shared by all variants.
type EventMeta struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	AccountID  string    `json:"account_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (m EventMeta) Meta() EventMeta { return m }

type PaymentSucceededEvent struct {
	EventMeta
	TransactionID string
	PaymentID     *uuid.UUID
	Amount        int64
}

type PaymentFailedEvent struct {
	EventMeta
	TransactionID string
	PaymentID     *uuid.UUID
	Reason        string
}

type PaymentRequiresActionEvent struct {
	EventMeta
	TransactionID string
	PaymentID     *uuid.UUID
	ClientSecret  string
}

// TransferCreatedEvent confirms funds landed in the vendor's connected account.
type TransferCreatedEvent struct {
	EventMeta
	TransferID string
	PayoutID   *uuid.UUID
	Amount     int64
}

type TransferFailedEvent struct {
	EventMeta
	TransferID string
	PayoutID   *uuid.UUID
	Reason     string
}

type AccountUpdatedEvent struct {
	EventMeta
	ProcessorAccountID string
	PayoutsEnabled     bool
	ChargesEnabled     bool
}

// VendorBankPayoutCreatedEvent and VendorBankPayoutFailedEvent describe the processor moving
// money from a vendor's connected account to their bank.
type VendorBankPayoutCreatedEvent struct {
	EventMeta
	ProcessorPayoutID string
	Amount            int64
}

type VendorBankPayoutFailedEvent struct {
	EventMeta
	ProcessorPayoutID string
	Reason            string
}

// UnrecognizedEvent is any verified event whose type is not handled.
type UnrecognizedEvent struct {
	EventMeta
}
