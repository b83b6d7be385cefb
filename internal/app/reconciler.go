/**
 * @description
 * The webhook reconciler. It takes verified, parsed processor events and routes them to the
 * payment state machine or the payout scheduler.
 *
 * @notes
 * - Deliveries are at least once and unordered. Event ids are recorded so a processed event is
 *   acknowledged without running again; everything downstream is also idempotent by state.
 * - Permanent problems (unknown records, rejected transitions) are acknowledged and logged.
 *   Storage failures are returned so the HTTP layer answers 500 and the processor redelivers.
 */

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
	"go.uber.org/zap"
)

// ReconcileResult describes what a delivery did.
type ReconcileResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

// Reconciler applies processor events.
type Reconciler struct {
	events   WebhookEventRepository
	payments *PaymentService
	payouts  *PayoutScheduler
	logger   *zap.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(events WebhookEventRepository, payments *PaymentService, payouts *PayoutScheduler, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		events:   events,
		payments: payments,
		payouts:  payouts,
		logger:   logger.With(zap.String("component", "reconciler")),
	}
}

// Reconcile processes one event. A returned error means the delivery should be retried.
func (r *Reconciler) Reconcile(ctx context.Context, ev domain.ProcessorEvent) (result ReconcileResult, err error) {
	meta := ev.Meta()
	result = ReconcileResult{EventID: meta.ID, EventType: meta.Type}
	log := r.logger.With(zap.String("event_id", meta.ID), zap.String("event_type", meta.Type))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic while reconciling event", zap.Any("panic", rec), zap.Stack("stack"))
			err = domain.NewError(domain.CodeInternal, "reconciliation failed")
			r.finish(ctx, meta.ID, domain.WebhookFailed, "", err)
		}
	}()

	processed, err := r.events.BeginWebhookEvent(ctx, meta.ID, meta.Type)
	if err != nil {
		log.Error("failed to record webhook event", zap.Error(err))
		return result, err
	}
	if processed {
		log.Info("webhook event already processed")
		result.Outcome = "duplicate"
		return result, nil
	}

	outcome, err := r.dispatch(ctx, ev)
	if err != nil && isPermanent(err) {
		log.Warn("webhook event not applied", zap.Error(err))
		outcome = fmt.Sprintf("ignored: %s", domain.CodeOf(err))
		err = nil
	}
	if err != nil {
		log.Error("webhook event failed; processor will redeliver", zap.Error(err))
		r.finish(ctx, meta.ID, domain.WebhookFailed, outcome, err)
		return result, err
	}

	log.Info("webhook event reconciled", zap.String("outcome", outcome))
	result.Outcome = outcome
	r.finish(ctx, meta.ID, domain.WebhookProcessed, outcome, nil)
	return result, nil
}

func (r *Reconciler) finish(ctx context.Context, eventID string, status domain.WebhookEventStatus, outcome string, cause error) {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	if err := r.events.FinishWebhookEvent(ctx, eventID, status, outcome, errText); err != nil {
		r.logger.Warn("failed to record webhook event outcome", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (r *Reconciler) dispatch(ctx context.Context, ev domain.ProcessorEvent) (string, error) {
	switch e := ev.(type) {
	case domain.PaymentSucceededEvent:
		return r.applyPayment(ctx, e.EventMeta, e.PaymentID, e.TransactionID, func(p domain.PaymentRecord) (PaymentEvent, string) {
			if e.Amount > 0 && e.Amount != p.Amount {
				return nil, fmt.Sprintf("processor amount %d does not match payment amount %d", e.Amount, p.Amount)
			}
			return PaymentSucceeded{TransactionID: e.TransactionID}, ""
		})
	case domain.PaymentFailedEvent:
		return r.applyPayment(ctx, e.EventMeta, e.PaymentID, e.TransactionID, func(domain.PaymentRecord) (PaymentEvent, string) {
			return PaymentFailed{TransactionID: e.TransactionID, Reason: e.Reason}, ""
		})
	case domain.PaymentRequiresActionEvent:
		return r.applyPayment(ctx, e.EventMeta, e.PaymentID, e.TransactionID, func(domain.PaymentRecord) (PaymentEvent, string) {
			return ActionRequired{TransactionID: e.TransactionID, ClientSecret: e.ClientSecret}, ""
		})
	case domain.TransferCreatedEvent:
		return r.payouts.HandleTransferCreated(ctx, e)
	case domain.TransferFailedEvent:
		return r.payouts.HandleTransferFailed(ctx, e)
	case domain.AccountUpdatedEvent:
		return r.payouts.HandleAccountUpdated(ctx, e)
	case domain.VendorBankPayoutCreatedEvent:
		return r.payouts.HandleBankPayout(ctx, e.EventMeta, e.ProcessorPayoutID, e.Amount, "")
	case domain.VendorBankPayoutFailedEvent:
		return r.payouts.HandleBankPayout(ctx, e.EventMeta, e.ProcessorPayoutID, 0, e.Reason)
	case domain.UnrecognizedEvent:
		r.logger.Info("ignoring unrecognized processor event", zap.String("event_id", e.ID), zap.String("event_type", e.Type))
		return "unrecognized", nil
	default:
		r.logger.Warn("unhandled processor event variant", zap.String("event_type", ev.Meta().Type))
		return "unhandled", nil
	}
}

// applyPayment resolves the payment an event refers to and runs the mapped state machine
// event. A non-empty review message stops the event and flags the payment for review.
func (r *Reconciler) applyPayment(
	ctx context.Context,
	meta domain.EventMeta,
	paymentID *uuid.UUID,
	transactionID string,
	toEvent func(domain.PaymentRecord) (PaymentEvent, string),
) (string, error) {
	p, err := r.resolvePayment(ctx, paymentID, transactionID)
	if err != nil {
		if isNotFound(err) {
			r.logger.Warn("processor event for unknown payment",
				zap.String("event_id", meta.ID),
				zap.String("transaction_id", transactionID),
			)
			return "unknown payment", nil
		}
		return "", err
	}

	ec := EventContext{EventID: meta.ID, Source: domain.SourceWebhook}
	event, review := toEvent(*p)
	if review != "" {
		r.logger.Error("payment event requires manual review",
			zap.String("payment_id", p.ID.String()),
			zap.String("event_id", meta.ID),
			zap.String("reason", review),
		)
		r.payments.recordReview(ctx, *p, ec, review)
		return "manual review", nil
	}

	updated, decision, err := r.payments.ApplyEvent(ctx, p.ID, event, ec)
	if err != nil {
		return "", err
	}
	if decision.Outcome == OutcomeRejected {
		return string(decision.Outcome), decision.Err
	}
	return fmt.Sprintf("%s (%s)", decision.Outcome, updated.Status), nil
}

func (r *Reconciler) resolvePayment(ctx context.Context, paymentID *uuid.UUID, transactionID string) (*domain.PaymentRecord, error) {
	if paymentID != nil {
		p, err := r.payments.repo.GetPayment(ctx, *paymentID)
		if err == nil || !errors.Is(err, store.ErrPaymentNotFound) {
			return p, err
		}
	}
	if transactionID == "" {
		return nil, store.ErrPaymentNotFound
	}
	return r.payments.repo.GetPaymentByExternalID(ctx, transactionID)
}
