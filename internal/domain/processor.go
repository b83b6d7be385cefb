package domain

import "github.com/google/uuid"

// IntentStatus mirrors the processor's payment intent states that the service acts on.
type IntentStatus string

const (
	IntentProcessing     IntentStatus = "processing"
	IntentRequiresAction IntentStatus = "requires_action"
	IntentSucceeded      IntentStatus = "succeeded"
	IntentCanceled       IntentStatus = "canceled"
	IntentFailed         IntentStatus = "requires_payment_method"
	IntentAwaitingInput  IntentStatus = "requires_confirmation"
)

// PaymentIntentRequest asks the processor to collect a payment.
type PaymentIntentRequest struct {
	PaymentID      uuid.UUID
	BookingID      uuid.UUID
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// PaymentIntentResult is the processor's view of an intent.
type PaymentIntentResult struct {
	TransactionID string
	ClientSecret  string
	Status        IntentStatus
	FailureReason string
}

// RefundInstruction refunds part or all of a captured payment.
type RefundInstruction struct {
	TransactionID  string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// RefundResult is the processor's acknowledgement of a refund.
type RefundResult struct {
	RefundID string
	Status   string
}

// TransferRequest moves a vendor's earnings to their connected account.
type TransferRequest struct {
	PayoutID           uuid.UUID
	VendorID           uuid.UUID
	DestinationAccount string
	Amount             int64
	Currency           string
	IdempotencyKey     string
}

// TransferResult is the processor's acknowledgement of a transfer.
type TransferResult struct {
	TransferID string
}
