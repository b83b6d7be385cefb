/**
 * @description
 * Payment records and their lifecycle states.
 *
 * @notes
 * - Amounts are int64 minor units of the payment currency.
 * - A payment is never deleted; its audit entries reconstruct every status change.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the lifecycle state of a payment intent.
type PaymentStatus string

const (
	PaymentPending        PaymentStatus = "PENDING"
	PaymentProcessing     PaymentStatus = "PROCESSING"
	PaymentRequiresAction PaymentStatus = "REQUIRES_ACTION"
	PaymentCompleted      PaymentStatus = "COMPLETED"
	PaymentFailed         PaymentStatus = "FAILED"
	PaymentRefunded       PaymentStatus = "REFUNDED"
)

// Rank orders statuses by how far the processor-side flow has advanced. PROCESSING and
// REQUIRES_ACTION share a rank because a payment may move between them more than once.
func (s PaymentStatus) Rank() int {
	switch s {
	case PaymentPending:
		return 0
	case PaymentProcessing, PaymentRequiresAction:
		return 1
	case PaymentCompleted, PaymentFailed:
		return 2
	case PaymentRefunded:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether webhook events can no longer move the payment.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentRefunded
}

func (s PaymentStatus) Valid() bool {
	return s.Rank() >= 0
}

// PaymentRecord is one payment intent tied to a booking.
// It maps to the `payments` table.
type PaymentRecord struct {
	ID                    uuid.UUID     `json:"id"`
	BookingID             uuid.UUID     `json:"booking_id"`
	VendorID              uuid.UUID     `json:"vendor_id"`
	MilestoneID           *uuid.UUID    `json:"milestone_id,omitempty"`
	Category              string        `json:"category"`
	Amount                int64         `json:"amount"`
	Currency              string        `json:"currency"`
	Escrowed              bool          `json:"escrowed"`
	FeeAmount             int64         `json:"fee_amount"`
	NetAmount             int64         `json:"net_amount"`
	AppliedRate           string        `json:"applied_rate"`
	RefundedAmount        int64         `json:"refunded_amount"`
	PendingRefundAmount   int64         `json:"pending_refund_amount"`
	PendingRefundID       *uuid.UUID    `json:"pending_refund_id,omitempty"`
	Status                PaymentStatus `json:"status"`
	ExternalTransactionID *string       `json:"external_transaction_id,omitempty"`
	ClientSecret          *string       `json:"client_secret,omitempty"`
	IdempotencyKey        string        `json:"idempotency_key"`
	FailureReason         *string       `json:"failure_reason,omitempty"`
	RequiresActionAt      *time.Time    `json:"requires_action_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	ProcessedAt           *time.Time    `json:"processed_at,omitempty"`
}

// Refundable returns how much of the payment can still be refunded given the escrow
// amount already released to the vendor on its behalf. A reserved refund counts as spent.
func (p PaymentRecord) Refundable(released int64) int64 {
	remaining := p.Amount - released - p.RefundedAmount - p.PendingRefundAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CreatePaymentRequest is the DTO for POST /payments.
type CreatePaymentRequest struct {
	BookingID      uuid.UUID  `json:"booking_id"`
	MilestoneID    *uuid.UUID `json:"milestone_id,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// RefundRequest is the DTO for POST /payments/{id}/refunds.
type RefundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// PaymentQuery filters the payment history listing.
type PaymentQuery struct {
	BookingID *uuid.UUID
	VendorID  *uuid.UUID
	Status    *PaymentStatus
	Limit     int
}
