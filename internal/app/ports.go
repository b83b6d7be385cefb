/**
 * @description
 * Interfaces for the collaborators the payment engine depends on. The Postgres repository,
 * the Stripe client, the booking and compliance clients and the RabbitMQ producer satisfy
 * them in production; tests substitute in-memory fakes.
 */

package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
)

// PaymentRepository defines the payment storage operations.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p domain.PaymentRecord, audit []domain.AuditEntry) (*domain.PaymentRecord, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentRecord, error)
	GetPaymentByExternalID(ctx context.Context, transactionID string) (*domain.PaymentRecord, error)
	ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.PaymentRecord, error)
	ListStalePayments(ctx context.Context, status domain.PaymentStatus, olderThan time.Time, limit int) ([]domain.PaymentRecord, error)
	MutatePayment(ctx context.Context, id uuid.UUID, fn store.PaymentMutation) (*domain.PaymentRecord, error)
}

// EscrowRepository defines the escrow storage operations.
type EscrowRepository interface {
	CreateEscrow(ctx context.Context, view domain.EscrowView, ledger []domain.LedgerEntry, audit []domain.AuditEntry) (*domain.EscrowView, error)
	GetEscrow(ctx context.Context, id uuid.UUID) (*domain.EscrowView, error)
	GetEscrowByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.EscrowView, error)
	MutateEscrow(ctx context.Context, id uuid.UUID, fn store.EscrowMutation) (*domain.EscrowView, *domain.PayoutRecord, error)
	FindFundingPayment(ctx context.Context, bookingID, milestoneID uuid.UUID) (*domain.PaymentRecord, error)
}

// PayoutRepository defines the payout storage operations.
type PayoutRepository interface {
	CreatePayout(ctx context.Context, p domain.PayoutRecord, audit []domain.AuditEntry) (*domain.PayoutRecord, bool, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutRecord, error)
	GetPayoutByTransferID(ctx context.Context, transferID string) (*domain.PayoutRecord, error)
	ListVendorPayouts(ctx context.Context, vendorID uuid.UUID, limit int) ([]domain.PayoutRecord, error)
	ListVendorPayoutsByStatus(ctx context.Context, vendorID uuid.UUID, statuses ...domain.PayoutStatus) ([]domain.PayoutRecord, error)
	ListVendorsWithDuePayouts(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	MutatePayout(ctx context.Context, id uuid.UUID, fn store.PayoutMutation) (*domain.PayoutRecord, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	ListUnpaidDirectPayments(ctx context.Context, vendorID uuid.UUID) ([]domain.PaymentRecord, error)
}

// VendorRepository defines the vendor payout configuration storage operations.
type VendorRepository interface {
	GetVendorPayoutConfig(ctx context.Context, vendorID uuid.UUID) (*domain.VendorPayoutConfig, error)
	GetVendorPayoutConfigByAccount(ctx context.Context, processorAccountID string) (*domain.VendorPayoutConfig, error)
	UpsertVendorPayoutConfig(ctx context.Context, cfg domain.VendorPayoutConfig, audit []domain.AuditEntry) (*domain.VendorPayoutConfig, error)
	SetVendorPayoutsEnabled(ctx context.Context, processorAccountID string, enabled bool, at time.Time) (*domain.VendorPayoutConfig, error)
	SetManualPayoutRequested(ctx context.Context, vendorID uuid.UUID, at *time.Time) error
}

// WebhookEventRepository records processor event deliveries.
type WebhookEventRepository interface {
	BeginWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error)
	FinishWebhookEvent(ctx context.Context, eventID string, status domain.WebhookEventStatus, outcome, errText string) error
}

// AuditRepository writes audit entries outside a locked mutation.
type AuditRepository interface {
	RecordAudit(ctx context.Context, entries ...domain.AuditEntry) error
}

// PaymentProcessor defines the calls made to the external payment processor. Implementations
// return domain.ErrProcessorTimeout when the bounded call times out and a domain.CodeProcessor
// error when the processor rejects a request.
type PaymentProcessor interface {
	CreatePaymentIntent(ctx context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntentResult, error)
	GetPaymentIntent(ctx context.Context, transactionID string) (domain.PaymentIntentResult, error)
	CancelPaymentIntent(ctx context.Context, transactionID string) error
	Refund(ctx context.Context, req domain.RefundInstruction) (domain.RefundResult, error)
	CreateTransfer(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error)
}

// BookingClient defines the narrow contract with the booking system.
type BookingClient interface {
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID uuid.UUID, status string) error
}

// ComplianceVerifier decides whether a vendor may receive funds.
type ComplianceVerifier interface {
	CheckCompliance(ctx context.Context, vendorID uuid.UUID, category string) (domain.ComplianceResult, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Clock returns the current time. Services default to time.Now in UTC.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
