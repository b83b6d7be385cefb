package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"go.uber.org/zap"
)

// DefaultEventsExchange is the topic exchange domain events are published to.
const DefaultEventsExchange = "marketplace.events"

const (
	RoutingPaymentCompleted     = "payment.completed"
	RoutingPaymentFailed        = "payment.failed"
	RoutingPaymentRefunded      = "payment.refunded"
	RoutingMilestoneReleased    = "escrow.milestone_released"
	RoutingEscrowClosed         = "escrow.closed"
	RoutingPayoutProcessing     = "payout.processing"
	RoutingPayoutCompleted      = "payout.completed"
	RoutingPayoutFailed         = "payout.failed"
	RoutingPayoutHeld           = "payout.held"
	RoutingBankPayoutCreated    = "vendor.bank_payout.created"
	RoutingBankPayoutFailed     = "vendor.bank_payout.failed"
	RoutingBookingMilestoneDone = "booking.milestone.completed"
	RoutingBookingCancelled     = "booking.cancelled"
)

// PaymentEventPayload is published on payment.* routing keys.
type PaymentEventPayload struct {
	PaymentID      uuid.UUID            `json:"payment_id"`
	BookingID      uuid.UUID            `json:"booking_id"`
	VendorID       uuid.UUID            `json:"vendor_id"`
	MilestoneID    *uuid.UUID           `json:"milestone_id,omitempty"`
	Status         domain.PaymentStatus `json:"status"`
	Amount         int64                `json:"amount"`
	FeeAmount      int64                `json:"fee_amount"`
	NetAmount      int64                `json:"net_amount"`
	RefundedAmount int64                `json:"refunded_amount"`
	Currency       string               `json:"currency"`
	FailureReason  string               `json:"failure_reason,omitempty"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

// EscrowEventPayload is published on escrow.* routing keys.
type EscrowEventPayload struct {
	EscrowID       uuid.UUID           `json:"escrow_id"`
	BookingID      uuid.UUID           `json:"booking_id"`
	MilestoneID    *uuid.UUID          `json:"milestone_id,omitempty"`
	Status         domain.EscrowStatus `json:"status"`
	HeldAmount     int64               `json:"held_amount"`
	ReleasedAmount int64               `json:"released_amount"`
	OccurredAt     time.Time           `json:"occurred_at"`
}

// PayoutEventPayload is published on payout.* routing keys. Reasons are not included so
// processor details stay internal.
type PayoutEventPayload struct {
	PayoutID   uuid.UUID           `json:"payout_id"`
	VendorID   uuid.UUID           `json:"vendor_id"`
	PaymentID  uuid.UUID           `json:"payment_id"`
	Amount     int64               `json:"amount"`
	Currency   string              `json:"currency"`
	Status     domain.PayoutStatus `json:"status"`
	RetryCount int                 `json:"retry_count"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// BankPayoutEventPayload is published when the processor pays a vendor's bank account.
type BankPayoutEventPayload struct {
	VendorID          uuid.UUID `json:"vendor_id"`
	ProcessorPayoutID string    `json:"processor_payout_id"`
	Amount            int64     `json:"amount,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// eventSink publishes best-effort domain events. Failures are logged and never returned.
type eventSink struct {
	publisher EventPublisher
	exchange  string
	logger    *zap.Logger
}

func newEventSink(publisher EventPublisher, exchange string, logger *zap.Logger) eventSink {
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	return eventSink{publisher: publisher, exchange: exchange, logger: logger}
}

func (s eventSink) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, body); err != nil {
		s.logger.Warn("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}

func paymentPayload(p domain.PaymentRecord) PaymentEventPayload {
	payload := PaymentEventPayload{
		PaymentID:      p.ID,
		BookingID:      p.BookingID,
		VendorID:       p.VendorID,
		MilestoneID:    p.MilestoneID,
		Status:         p.Status,
		Amount:         p.Amount,
		FeeAmount:      p.FeeAmount,
		NetAmount:      p.NetAmount,
		RefundedAmount: p.RefundedAmount,
		Currency:       p.Currency,
		OccurredAt:     p.UpdatedAt,
	}
	if p.FailureReason != nil {
		payload.FailureReason = *p.FailureReason
	}
	return payload
}

func escrowPayload(a domain.EscrowAccount, milestoneID *uuid.UUID) EscrowEventPayload {
	return EscrowEventPayload{
		EscrowID:       a.ID,
		BookingID:      a.BookingID,
		MilestoneID:    milestoneID,
		Status:         a.Status,
		HeldAmount:     a.HeldAmount,
		ReleasedAmount: a.ReleasedAmount,
		OccurredAt:     a.UpdatedAt,
	}
}

func payoutPayload(p domain.PayoutRecord) PayoutEventPayload {
	return PayoutEventPayload{
		PayoutID:   p.ID,
		VendorID:   p.VendorID,
		PaymentID:  p.PaymentID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Status:     p.Status,
		RetryCount: p.RetryCount,
		OccurredAt: p.UpdatedAt,
	}
}
