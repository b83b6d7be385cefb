package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"go.uber.org/zap"
)

const bookingEventTimeout = 30 * time.Second

// BookingEventConsumer applies booking system events to escrow.
type BookingEventConsumer struct {
	payments *PaymentService
	escrow   *EscrowLedger
	logger   *zap.Logger
}

func NewBookingEventConsumer(payments *PaymentService, escrow *EscrowLedger, logger *zap.Logger) *BookingEventConsumer {
	return &BookingEventConsumer{
		payments: payments,
		escrow:   escrow,
		logger:   logger.With(zap.String("component", "booking_consumer")),
	}
}

// HandleMilestoneCompleted returns false when the message should be redelivered.
func (c *BookingEventConsumer) HandleMilestoneCompleted(body []byte) bool {
	var event domain.MilestoneCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal milestone completed event", zap.Error(err))
		return true
	}
	if event.BookingID == uuid.Nil || event.MilestoneID == uuid.Nil {
		c.logger.Warn("milestone completed event missing ids", zap.String("event_id", event.EventID))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), bookingEventTimeout)
	defer cancel()

	eventID := consumerEventID(event.EventID, "milestone-completed:"+event.MilestoneID.String())
	view, err := c.escrow.CompleteBookingMilestone(ctx, event.BookingID, event.MilestoneID, eventID)
	if err != nil {
		return c.settle("milestone completed", event.BookingID, err)
	}

	c.logger.Info("milestone completed from booking event",
		zap.String("escrow_id", view.ID.String()),
		zap.String("milestone_id", event.MilestoneID.String()),
	)
	return true
}

// HandleBookingCancelled refunds the booking's escrowed payments and closes its escrow.
func (c *BookingEventConsumer) HandleBookingCancelled(body []byte) bool {
	var event domain.BookingCancelledEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal booking cancelled event", zap.Error(err))
		return true
	}
	if event.BookingID == uuid.Nil {
		c.logger.Warn("booking cancelled event missing booking id", zap.String("event_id", event.EventID))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), bookingEventTimeout)
	defer cancel()

	eventID := consumerEventID(event.EventID, "booking-cancelled:"+event.BookingID.String())
	refunded, err := c.payments.RefundBookingPayments(ctx, event.BookingID, event.Reason, eventID)
	if err != nil {
		return c.settle("booking cancelled", event.BookingID, err)
	}

	view, err := c.escrow.CancelBooking(ctx, event.BookingID, event.Reason, eventID)
	if err != nil {
		return c.settle("booking cancelled", event.BookingID, err)
	}

	c.logger.Info("booking cancellation applied",
		zap.String("escrow_id", view.ID.String()),
		zap.Int("payments_refunded", refunded),
		zap.String("status", string(view.Status)),
	)
	return true
}

// settle acknowledges permanent failures and requeues the rest.
func (c *BookingEventConsumer) settle(kind string, bookingID uuid.UUID, err error) bool {
	if isPermanent(err) {
		c.logger.Warn("booking event not applied",
			zap.String("kind", kind),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
		return true
	}
	c.logger.Error("booking event failed; requeueing",
		zap.String("kind", kind),
		zap.String("booking_id", bookingID.String()),
		zap.Error(err),
	)
	return false
}

func consumerEventID(eventID, fallback string) string {
	if eventID != "" {
		return eventID
	}
	return fallback
}
