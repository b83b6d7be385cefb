/**
 * @description
 * The payment service: creates payment intents for bookings, applies state machine events
 * under a row lock and runs the resulting effects.
 *
 * @notes
 * - DecidePayment runs inside MutatePayment's callback, so decisions always see the locked
 *   row. Effects run after commit.
 * - A processor timeout never advances the record. The caller retries with the same
 *   idempotency key, which re-drives the same record with the same processor key.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
	"go.uber.org/zap"
)

const (
	expiredActionReason     = "authentication not completed before expiry"
	unfinishedPaymentReason = "payment was not completed"
	maxPaymentPageSize      = 100
)

// PaymentConfig tunes the payment sweeps.
type PaymentConfig struct {
	RequiresActionTTL    time.Duration
	ProcessingStaleAfter time.Duration
	SweepBatchSize       int
	StatusQueryAttempts  int
	StatusQueryBackoff   time.Duration
}

// EventContext identifies what triggered a state machine event.
type EventContext struct {
	EventID string
	Source  domain.AuditSource
}

// PaymentService owns the payment lifecycle.
type PaymentService struct {
	repo       PaymentRepository
	vendors    VendorRepository
	audit      AuditRepository
	bookings   BookingClient
	processor  PaymentProcessor
	commission *CommissionCalculator
	escrow     *EscrowLedger
	payouts    *PayoutScheduler
	events     eventSink
	cfg        PaymentConfig
	logger     *zap.Logger
	now        Clock
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	repo PaymentRepository,
	vendors VendorRepository,
	audit AuditRepository,
	bookings BookingClient,
	processor PaymentProcessor,
	commission *CommissionCalculator,
	escrow *EscrowLedger,
	payouts *PayoutScheduler,
	publisher EventPublisher,
	exchange string,
	cfg PaymentConfig,
	logger *zap.Logger,
) *PaymentService {
	if cfg.RequiresActionTTL <= 0 {
		cfg.RequiresActionTTL = 24 * time.Hour
	}
	if cfg.ProcessingStaleAfter <= 0 {
		cfg.ProcessingStaleAfter = 30 * time.Minute
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.StatusQueryAttempts <= 0 {
		cfg.StatusQueryAttempts = 3
	}
	logger = logger.With(zap.String("component", "payments"))
	return &PaymentService{
		repo:       repo,
		vendors:    vendors,
		audit:      audit,
		bookings:   bookings,
		processor:  processor,
		commission: commission,
		escrow:     escrow,
		payouts:    payouts,
		events:     newEventSink(publisher, exchange, logger),
		cfg:        cfg,
		logger:     logger,
		now:        systemClock,
	}
}

// CreatePayment starts collecting a booking's amount, or the amount of one of its milestones.
// Repeating a call with the same idempotency key returns the same payment.
func (s *PaymentService) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.PaymentRecord, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return nil, domain.NewError(domain.CodeValidation, "idempotency key is required")
	}
	if req.BookingID == uuid.Nil {
		return nil, domain.NewError(domain.CodeValidation, "booking_id is required")
	}

	existing, err := s.repo.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		if existing.BookingID != req.BookingID {
			return nil, domain.NewError(domain.CodeValidation, "idempotency key was used for another booking")
		}
		return s.driveIntent(ctx, *existing, req.IdempotencyKey)
	case !errors.Is(err, store.ErrPaymentNotFound):
		return nil, err
	}

	booking, err := s.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	amount := booking.Amount
	if req.MilestoneID != nil {
		m, ok := booking.Milestone(*req.MilestoneID)
		if !ok {
			return nil, domain.NewError(domain.CodeNotFound, "milestone not found on booking")
		}
		amount = m.Amount
	}

	fee, err := s.commission.CalculateFee(booking.Category, amount)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := domain.PaymentRecord{
		ID:             uuid.New(),
		BookingID:      booking.ID,
		VendorID:       booking.VendorID,
		MilestoneID:    req.MilestoneID,
		Category:       booking.Category,
		Amount:         amount,
		Currency:       booking.Currency,
		Escrowed:       len(booking.Milestones) > 0,
		FeeAmount:      fee.FeeAmount,
		NetAmount:      fee.NetAmount,
		AppliedRate:    fee.AppliedRate.String(),
		Status:         domain.PaymentPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	audit := []domain.AuditEntry{{
		ID:         uuid.New(),
		EntityType: domain.AuditPayment,
		EntityID:   record.ID,
		NewStatus:  string(domain.PaymentPending),
		EventID:    req.IdempotencyKey,
		Source:     domain.SourceAPI,
		Detail:     fmt.Sprintf("fee %d at rate %s", fee.FeeAmount, record.AppliedRate),
		CreatedAt:  now,
	}}

	created, err := s.repo.CreatePayment(ctx, record, audit)
	if err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			created, err = s.repo.GetPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("payment created",
		zap.String("payment_id", created.ID.String()),
		zap.String("booking_id", created.BookingID.String()),
		zap.Int64("amount", created.Amount),
		zap.Int64("fee", created.FeeAmount),
	)
	return s.driveIntent(ctx, *created, req.IdempotencyKey)
}

// driveIntent asks the processor for an intent when the payment has none yet.
func (s *PaymentService) driveIntent(ctx context.Context, p domain.PaymentRecord, eventID string) (*domain.PaymentRecord, error) {
	if p.Status != domain.PaymentPending {
		return &p, nil
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, domain.PaymentIntentRequest{
		PaymentID:      p.ID,
		BookingID:      p.BookingID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		IdempotencyKey: "payment-intent-" + p.ID.String(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrProcessorTimeout) {
			s.logger.Warn("payment intent creation timed out", zap.String("payment_id", p.ID.String()))
			return nil, err
		}
		reason := processorReason(err)
		updated, _, applyErr := s.ApplyEvent(ctx, p.ID, PaymentFailed{Reason: reason}, EventContext{EventID: eventID, Source: domain.SourceAPI})
		if applyErr != nil {
			return nil, applyErr
		}
		s.logger.Warn("payment intent rejected", zap.String("payment_id", p.ID.String()), zap.String("reason", reason))
		return updated, domain.WrapError(domain.CodeProcessor, reason, err)
	}

	meta := EventContext{EventID: eventID, Source: domain.SourceAPI}
	updated, decision, err := s.ApplyEvent(ctx, p.ID, IntentAccepted{
		TransactionID:  intent.TransactionID,
		ClientSecret:   intent.ClientSecret,
		RequiresAction: intent.Status == domain.IntentRequiresAction,
	}, meta)
	if err != nil {
		return nil, err
	}
	if decision.Outcome == OutcomeRejected {
		return nil, decision.Err
	}

	switch intent.Status {
	case domain.IntentSucceeded:
		updated, _, err = s.ApplyEvent(ctx, p.ID, PaymentSucceeded{TransactionID: intent.TransactionID}, meta)
	case domain.IntentCanceled, domain.IntentFailed:
		reason := intent.FailureReason
		if reason == "" {
			reason = unfinishedPaymentReason
		}
		updated, _, err = s.ApplyEvent(ctx, p.ID, PaymentFailed{TransactionID: intent.TransactionID, Reason: reason}, meta)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// processorReason extracts the human-readable reason from a processor error.
func processorReason(err error) string {
	var coded *domain.Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "payment processor rejected the request"
}

// ApplyEvent runs a state machine event against the locked payment, persists the decision
// and executes its effects. Rejected decisions are returned with a nil error; callers decide
// how to surface decision.Err.
func (s *PaymentService) ApplyEvent(ctx context.Context, paymentID uuid.UUID, event PaymentEvent, meta EventContext) (*domain.PaymentRecord, PaymentDecision, error) {
	current, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, PaymentDecision{}, translateStoreError(err)
	}
	opts := TransitionOptions{Now: s.now(), AutoPayout: s.autoPayout(ctx, current.VendorID)}

	var decision PaymentDecision
	updated, err := s.repo.MutatePayment(ctx, paymentID, func(locked domain.PaymentRecord) (domain.PaymentRecord, []domain.AuditEntry, error) {
		decision = DecidePayment(locked, event, opts)
		if !decision.Changed() {
			return locked, nil, store.ErrNoChange
		}
		return decision.Next, decision.AuditTrail(meta.EventID, meta.Source, decision.Reason), nil
	})
	if err != nil {
		return nil, decision, translateStoreError(err)
	}

	log := s.logger.With(
		zap.String("payment_id", paymentID.String()),
		zap.String("event_id", meta.EventID),
		zap.String("outcome", string(decision.Outcome)),
	)
	switch decision.Outcome {
	case OutcomeApplied:
		log.Info("payment transitioned",
			zap.String("from", string(decision.Previous)),
			zap.String("to", string(updated.Status)),
		)
	case OutcomeDuplicate:
		log.Debug("payment event already applied", zap.String("status", string(updated.Status)))
	case OutcomeStale:
		log.Warn("stale payment event dropped", zap.String("status", string(updated.Status)), zap.String("reason", decision.Reason))
	case OutcomeRejected:
		log.Warn("payment event rejected", zap.String("status", string(updated.Status)), zap.Error(decision.Err))
	}
	if decision.NeedsReview {
		log.Error("payment requires manual review", zap.String("reason", decision.Reason))
		s.recordReview(ctx, *updated, meta, decision.Reason)
	}

	if err := s.runEffects(ctx, *updated, decision.Effects, meta); err != nil {
		return updated, decision, err
	}
	return updated, decision, nil
}

func (s *PaymentService) autoPayout(ctx context.Context, vendorID uuid.UUID) bool {
	cfg, err := s.vendors.GetVendorPayoutConfig(ctx, vendorID)
	if err != nil {
		if !errors.Is(err, store.ErrVendorConfigNotFound) {
			s.logger.Warn("failed to load vendor payout config", zap.String("vendor_id", vendorID.String()), zap.Error(err))
		}
		return false
	}
	return cfg.AutoPayout
}

func (s *PaymentService) recordReview(ctx context.Context, p domain.PaymentRecord, meta EventContext, reason string) {
	if s.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		ID:             uuid.New(),
		EntityType:     domain.AuditPayment,
		EntityID:       p.ID,
		PreviousStatus: string(p.Status),
		NewStatus:      string(p.Status),
		EventID:        meta.EventID,
		Source:         meta.Source,
		Detail:         "manual review: " + reason,
		CreatedAt:      s.now(),
	}
	if err := s.audit.RecordAudit(ctx, entry); err != nil {
		s.logger.Warn("failed to record review audit entry", zap.String("payment_id", p.ID.String()), zap.Error(err))
	}
}

// runEffects executes decision effects. Booking updates and events are best effort; escrow
// and payout effects return their error so the triggering delivery is retried.
func (s *PaymentService) runEffects(ctx context.Context, p domain.PaymentRecord, effects []Effect, meta EventContext) error {
	var durableErr error
	for _, effect := range effects {
		switch e := effect.(type) {
		case ConfirmBookingEffect:
			if err := s.bookings.UpdateBookingStatus(ctx, e.BookingID, domain.BookingConfirmed); err != nil {
				s.logger.Warn("failed to confirm booking", zap.String("booking_id", e.BookingID.String()), zap.Error(err))
			}
		case RevertBookingEffect:
			if err := s.bookings.UpdateBookingStatus(ctx, e.BookingID, e.Status); err != nil {
				s.logger.Warn("failed to revert booking", zap.String("booking_id", e.BookingID.String()), zap.Error(err))
			}
		case CreditEscrowEffect:
			if err := s.escrow.CreditPayment(ctx, e, meta.EventID); err != nil {
				s.logger.Error("failed to credit escrow", zap.String("payment_id", e.PaymentID.String()), zap.Error(err))
				durableErr = errors.Join(durableErr, err)
			}
		case RefundEscrowEffect:
			if err := s.escrow.RefundPayment(ctx, e, meta.EventID); err != nil {
				s.logger.Error("failed to refund escrow; pending manual review", zap.String("payment_id", e.PaymentID.String()), zap.Error(err))
				durableErr = errors.Join(durableErr, err)
			}
		case EnqueuePayoutEffect:
			if err := s.payouts.EnqueuePaymentPayout(ctx, p, meta.Source, meta.EventID); err != nil {
				s.logger.Error("failed to enqueue payout", zap.String("payment_id", e.PaymentID.String()), zap.Error(err))
				durableErr = errors.Join(durableErr, err)
			}
		case PublishEffect:
			s.events.publish(ctx, e.RoutingKey, paymentPayload(p))
		}
	}
	return durableErr
}

// GetPayment returns a payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return p, nil
}

// ListPayments returns payment history for a booking or vendor.
func (s *PaymentService) ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.PaymentRecord, error) {
	if q.BookingID == nil && q.VendorID == nil {
		return nil, domain.NewError(domain.CodeValidation, "booking_id or vendor_id is required")
	}
	if q.Limit <= 0 || q.Limit > maxPaymentPageSize {
		q.Limit = maxPaymentPageSize
	}
	if q.Status != nil && !q.Status.Valid() {
		return nil, domain.Errorf(domain.CodeValidation, "unknown payment status %q", *q.Status)
	}
	payments, err := s.repo.ListPayments(ctx, q)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []domain.PaymentRecord{}
	}
	return payments, nil
}

// ResumePayment moves a payment back to PROCESSING after the payer completed authentication.
func (s *PaymentService) ResumePayment(ctx context.Context, id uuid.UUID, requestID string) (*domain.PaymentRecord, error) {
	updated, decision, err := s.ApplyEvent(ctx, id, ResumeRequested{}, EventContext{EventID: requestID, Source: domain.SourceAPI})
	if err != nil {
		return nil, err
	}
	if decision.Outcome == OutcomeRejected {
		return nil, decision.Err
	}
	return updated, nil
}

// RefundPayment refunds part or all of a completed payment through the processor.
func (s *PaymentService) RefundPayment(ctx context.Context, id uuid.UUID, req domain.RefundRequest, requestID string) (*domain.PaymentRecord, error) {
	return s.refund(ctx, id, req, EventContext{EventID: requestID, Source: domain.SourceAPI})
}

// refund reserves the amount on the payment and in escrow, asks the processor for it and
// records the confirmed refund. While a reservation is open other refunds of the payment are
// refused; retrying the same amount resumes it with the same processor idempotency key.
func (s *PaymentService) refund(ctx context.Context, id uuid.UUID, req domain.RefundRequest, meta EventContext) (*domain.PaymentRecord, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if p.ExternalTransactionID == nil && (p.Status == domain.PaymentCompleted || p.Status == domain.PaymentRefunded) {
		return nil, domain.NewError(domain.CodeInvalidTransition, "payment has no processor transaction")
	}

	reservationID := uuid.New()
	resumed := p.PendingRefundID != nil && p.PendingRefundAmount == req.Amount
	if resumed {
		reservationID = *p.PendingRefundID
	} else {
		var released int64
		if p.Escrowed {
			if released, _, err = s.escrow.Exposure(ctx, *p); err != nil {
				return nil, err
			}
		}
		_, decision, err := s.ApplyEvent(ctx, id, RefundRequested{ReservationID: reservationID, Amount: req.Amount, Released: released}, meta)
		if err != nil {
			return nil, err
		}
		if decision.Outcome == OutcomeRejected {
			return nil, decision.Err
		}
	}

	log := s.logger.With(
		zap.String("payment_id", id.String()),
		zap.String("reservation_id", reservationID.String()),
		zap.Int64("amount", req.Amount),
	)
	if p.Escrowed {
		if err := s.escrow.ReserveRefund(ctx, *p, reservationID, req.Amount, meta.EventID); err != nil {
			log.Warn("escrow could not reserve refund", zap.Error(err))
			s.abandonRefund(ctx, *p, reservationID, req.Amount, false, meta)
			return nil, err
		}
	}

	refund, err := s.processor.Refund(ctx, domain.RefundInstruction{
		TransactionID:  *p.ExternalTransactionID,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: "refund-" + reservationID.String(),
	})
	if err != nil {
		if errors.Is(err, domain.ErrProcessorTimeout) {
			log.Warn("refund timed out; reservation kept for retry", zap.Bool("resumed", resumed))
			return nil, err
		}
		log.Warn("processor rejected refund", zap.Error(err))
		s.abandonRefund(ctx, *p, reservationID, req.Amount, p.Escrowed, meta)
		return nil, err
	}

	updated, decision, err := s.ApplyEvent(ctx, id, RefundIssued{ReservationID: reservationID, Amount: req.Amount, Reason: req.Reason}, meta)
	if err != nil {
		return updated, err
	}
	if decision.Outcome == OutcomeRejected {
		log.Error("processor refunded but local refund was rejected; pending manual review",
			zap.String("refund_id", refund.RefundID),
			zap.Error(decision.Err),
		)
		return nil, decision.Err
	}
	return updated, nil
}

// abandonRefund drops the reservations of a refund the processor will not perform.
func (s *PaymentService) abandonRefund(ctx context.Context, p domain.PaymentRecord, reservationID uuid.UUID, amount int64, escrowReserved bool, meta EventContext) {
	if escrowReserved {
		if err := s.escrow.UnreserveRefund(ctx, p, reservationID, amount, meta.EventID); err != nil {
			s.logger.Error("failed to release escrow refund reservation; pending manual review",
				zap.String("payment_id", p.ID.String()),
				zap.String("reservation_id", reservationID.String()),
				zap.Error(err),
			)
		}
	}
	if _, _, err := s.ApplyEvent(ctx, p.ID, RefundAbandoned{ReservationID: reservationID}, meta); err != nil {
		s.logger.Error("failed to drop payment refund reservation",
			zap.String("payment_id", p.ID.String()),
			zap.String("reservation_id", reservationID.String()),
			zap.Error(err),
		)
	}
}

// RefundEscrow refunds held escrow funds to the payer. The amount is spread over the
// booking's escrowed payments, oldest first, and each share is refunded through the
// processor like a payment refund.
func (s *PaymentService) RefundEscrow(ctx context.Context, escrowID uuid.UUID, req domain.EscrowRefundRequest, requestID string) (*domain.EscrowView, error) {
	if req.Amount <= 0 {
		return nil, domain.NewError(domain.CodeInvalidAmount, "refund amount must be greater than zero")
	}
	view, err := s.escrow.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if available := view.Available(); req.Amount > available {
		return nil, domain.Errorf(domain.CodeRefundExceedsHeld, "refund %d exceeds held escrow %d", req.Amount, available)
	}

	payments, err := s.repo.ListPayments(ctx, domain.PaymentQuery{BookingID: &view.BookingID, Limit: maxPaymentPageSize})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })

	type share struct {
		id     uuid.UUID
		amount int64
	}
	var shares []share
	remaining := req.Amount
	for _, p := range payments {
		if remaining == 0 {
			break
		}
		if !p.Escrowed || (p.Status != domain.PaymentCompleted && p.Status != domain.PaymentRefunded) {
			continue
		}
		released, _, err := s.escrow.Exposure(ctx, p)
		if err != nil {
			return nil, err
		}
		if amount := min(p.Refundable(released), remaining); amount > 0 {
			shares = append(shares, share{id: p.ID, amount: amount})
			remaining -= amount
		}
	}
	if remaining > 0 {
		return nil, domain.Errorf(domain.CodeRefundExceedsRefundable, "refund %d exceeds refundable payments by %d", req.Amount, remaining)
	}

	meta := EventContext{EventID: requestID, Source: domain.SourceAPI}
	for i, sh := range shares {
		if requestID != "" {
			meta.EventID = fmt.Sprintf("%s:%d", requestID, i)
		}
		if _, err := s.refund(ctx, sh.id, domain.RefundRequest{Amount: sh.amount, Reason: req.Reason}, meta); err != nil {
			return nil, fmt.Errorf("refund payment %s: %w", sh.id, err)
		}
	}
	return s.escrow.GetEscrow(ctx, escrowID)
}

// RefundBookingPayments refunds what escrow still holds for each completed escrowed payment
// of a cancelled booking. Payments already refunded up to their exposure are skipped, so a
// redelivered cancellation refunds nothing twice, and a refund left pending by a processor
// timeout is resumed first.
func (s *PaymentService) RefundBookingPayments(ctx context.Context, bookingID uuid.UUID, reason, eventID string) (int, error) {
	payments, err := s.repo.ListPayments(ctx, domain.PaymentQuery{BookingID: &bookingID, Limit: maxPaymentPageSize})
	if err != nil {
		return 0, err
	}
	if reason == "" {
		reason = "booking cancelled"
	}

	refunded := 0
	for _, p := range payments {
		if !p.Escrowed || (p.Status != domain.PaymentCompleted && p.Status != domain.PaymentRefunded) {
			continue
		}
		meta := EventContext{EventID: eventID, Source: domain.SourceConsumer}
		resumed := false
		if p.PendingRefundID != nil {
			updated, err := s.refund(ctx, p.ID, domain.RefundRequest{Amount: p.PendingRefundAmount, Reason: reason}, meta)
			if err != nil {
				return refunded, fmt.Errorf("resume refund of payment %s: %w", p.ID, err)
			}
			p, resumed = *updated, true
		}

		released, available, err := s.escrow.Exposure(ctx, p)
		if err != nil {
			return refunded, err
		}
		amount := min(p.Refundable(released), available)
		if amount > 0 {
			if _, err := s.refund(ctx, p.ID, domain.RefundRequest{Amount: amount, Reason: reason}, meta); err != nil {
				return refunded, fmt.Errorf("refund payment %s: %w", p.ID, err)
			}
		}
		if resumed || amount > 0 {
			refunded++
		}
	}
	return refunded, nil
}

// ExpireStaleActions fails payments that have waited for authentication longer than the
// configured TTL, unless the processor reports they succeeded meanwhile.
func (s *PaymentService) ExpireStaleActions(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.RequiresActionTTL)
	payments, err := s.repo.ListStalePayments(ctx, domain.PaymentRequiresAction, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, p := range payments {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		meta := EventContext{EventID: "expiry-" + p.ID.String(), Source: domain.SourceScheduler}

		if p.ExternalTransactionID != nil {
			intent, err := s.queryIntent(ctx, *p.ExternalTransactionID)
			if err != nil {
				s.logger.Warn("could not query expiring payment", zap.String("payment_id", p.ID.String()), zap.Error(err))
				continue
			}
			if intent.Status == domain.IntentSucceeded {
				if _, _, err := s.ApplyEvent(ctx, p.ID, PaymentSucceeded{TransactionID: intent.TransactionID}, meta); err != nil {
					s.logger.Error("failed to apply late success", zap.String("payment_id", p.ID.String()), zap.Error(err))
				}
				continue
			}
			if err := s.processor.CancelPaymentIntent(ctx, *p.ExternalTransactionID); err != nil {
				s.logger.Warn("failed to cancel expired intent", zap.String("payment_id", p.ID.String()), zap.Error(err))
				continue
			}
		}

		_, decision, err := s.ApplyEvent(ctx, p.ID, ActionExpired{Reason: expiredActionReason}, meta)
		if err != nil {
			s.logger.Error("failed to expire payment", zap.String("payment_id", p.ID.String()), zap.Error(err))
			continue
		}
		if decision.Outcome == OutcomeApplied {
			expired++
		}
	}
	return expired, nil
}

// RecheckStaleProcessing asks the processor about payments stuck in PROCESSING and applies
// what it reports.
func (s *PaymentService) RecheckStaleProcessing(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.ProcessingStaleAfter)
	payments, err := s.repo.ListStalePayments(ctx, domain.PaymentProcessing, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, p := range payments {
		if ctx.Err() != nil {
			return advanced, ctx.Err()
		}
		if p.ExternalTransactionID == nil {
			continue
		}
		intent, err := s.queryIntent(ctx, *p.ExternalTransactionID)
		if err != nil {
			s.logger.Warn("could not query stale payment", zap.String("payment_id", p.ID.String()), zap.Error(err))
			continue
		}

		var event PaymentEvent
		switch intent.Status {
		case domain.IntentSucceeded:
			event = PaymentSucceeded{TransactionID: intent.TransactionID}
		case domain.IntentRequiresAction:
			event = ActionRequired{TransactionID: intent.TransactionID, ClientSecret: intent.ClientSecret}
		case domain.IntentCanceled, domain.IntentFailed:
			reason := intent.FailureReason
			if reason == "" {
				reason = unfinishedPaymentReason
			}
			event = PaymentFailed{TransactionID: intent.TransactionID, Reason: reason}
		default:
			continue
		}

		_, decision, err := s.ApplyEvent(ctx, p.ID, event, EventContext{EventID: "recheck-" + p.ID.String(), Source: domain.SourceScheduler})
		if err != nil {
			s.logger.Error("failed to apply rechecked status", zap.String("payment_id", p.ID.String()), zap.Error(err))
			continue
		}
		if decision.Outcome == OutcomeApplied {
			advanced++
		}
	}
	return advanced, nil
}

// queryIntent reads an intent's status, retrying timeouts with backoff. Status queries are
// safe to repeat.
func (s *PaymentService) queryIntent(ctx context.Context, transactionID string) (domain.PaymentIntentResult, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.StatusQueryAttempts; attempt++ {
		if attempt > 0 {
			wait := PayoutBackoff(attempt-1, s.cfg.StatusQueryBackoff, 0)
			select {
			case <-ctx.Done():
				return domain.PaymentIntentResult{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		intent, err := s.processor.GetPaymentIntent(ctx, transactionID)
		if err == nil {
			return intent, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrProcessorTimeout) {
			break
		}
	}
	return domain.PaymentIntentResult{}, lastErr
}
