/**
 * @description
 * The escrow ledger service. Holds booking funds until milestones are completed and released,
 * and turns every release into a vendor payout net of commission.
 *
 * @notes
 * - All balance changes go through EscrowRepository.MutateEscrow, which locks the escrow row
 *   for the duration of the read-modify-write.
 * - Ledger references make credits and refunds idempotent: replaying a credit for the same
 *   payment is a no-op.
 * - Payment refunds reserve held funds before the processor is called and settle the
 *   reservation once it confirms. Releases only draw on unreserved funds.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
	"go.uber.org/zap"
)

// EscrowLedger owns escrow account lifecycle and milestone release.
type EscrowLedger struct {
	repo       EscrowRepository
	vendors    VendorRepository
	bookings   BookingClient
	commission *CommissionCalculator
	signal     *PayoutSignal
	events     eventSink
	logger     *zap.Logger
	now        Clock
}

// NewEscrowLedger creates a new EscrowLedger.
func NewEscrowLedger(
	repo EscrowRepository,
	vendors VendorRepository,
	bookings BookingClient,
	commission *CommissionCalculator,
	signal *PayoutSignal,
	publisher EventPublisher,
	exchange string,
	logger *zap.Logger,
) *EscrowLedger {
	logger = logger.With(zap.String("component", "escrow_ledger"))
	return &EscrowLedger{
		repo:       repo,
		vendors:    vendors,
		bookings:   bookings,
		commission: commission,
		signal:     signal,
		events:     newEventSink(publisher, exchange, logger),
		logger:     logger,
		now:        systemClock,
	}
}

// CreateEscrow opens an escrow for a milestone-based booking, importing its milestones.
// totalAmount is the amount already collected for the booking and may be zero when the
// escrow will be funded by payments.
func (l *EscrowLedger) CreateEscrow(ctx context.Context, req domain.CreateEscrowRequest, requestID string) (*domain.EscrowView, error) {
	if req.BookingID == uuid.Nil {
		return nil, domain.NewError(domain.CodeValidation, "booking_id is required")
	}
	if req.TotalAmount < 0 {
		return nil, domain.NewError(domain.CodeInvalidAmount, "total amount must not be negative")
	}

	booking, err := l.bookings.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if len(booking.Milestones) == 0 {
		return nil, domain.NewError(domain.CodeValidation, "booking has no milestones")
	}
	if req.TotalAmount > booking.Amount {
		return nil, domain.Errorf(domain.CodeInvalidAmount, "total amount %d exceeds booking amount %d", req.TotalAmount, booking.Amount)
	}

	return l.openEscrow(ctx, *booking, req.TotalAmount, domain.SourceAPI, requestID)
}

func (l *EscrowLedger) openEscrow(ctx context.Context, booking domain.Booking, total int64, source domain.AuditSource, eventID string) (*domain.EscrowView, error) {
	var milestoneSum int64
	for _, m := range booking.Milestones {
		if m.Amount <= 0 {
			return nil, domain.Errorf(domain.CodeValidation, "milestone %s has no amount", m.ID)
		}
		milestoneSum += m.Amount
	}
	if milestoneSum > booking.Amount {
		return nil, domain.Errorf(domain.CodeValidation, "milestones total %d exceeds booking amount %d", milestoneSum, booking.Amount)
	}

	now := l.now()
	view := domain.EscrowView{
		EscrowAccount: domain.EscrowAccount{
			ID:          uuid.New(),
			BookingID:   booking.ID,
			Currency:    booking.Currency,
			TotalAmount: total,
			HeldAmount:  total,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	view.Milestones = make([]domain.Milestone, 0, len(booking.Milestones))
	for _, bm := range booking.Milestones {
		m := domain.Milestone{
			ID:        bm.ID,
			BookingID: booking.ID,
			EscrowID:  view.ID,
			Amount:    bm.Amount,
			Status:    importedMilestoneStatus(bm.Status),
		}
		if m.Status == domain.MilestoneCompleted {
			m.CompletedAt = &now
		}
		view.Milestones = append(view.Milestones, m)
	}
	view.Recompute(view.Milestones)

	var ledger []domain.LedgerEntry
	if total > 0 {
		ledger = append(ledger, domain.LedgerEntry{
			ID:        uuid.New(),
			EscrowID:  view.ID,
			Kind:      domain.LedgerCredit,
			Amount:    total,
			Reference: "escrow-open:" + booking.ID.String(),
			Reason:    "opening balance",
			CreatedAt: now,
		})
	}
	audit := []domain.AuditEntry{escrowAudit(view.EscrowAccount, "", source, eventID, fmt.Sprintf("escrow opened with %d milestones", len(view.Milestones)))}

	created, err := l.repo.CreateEscrow(ctx, view, ledger, audit)
	if err != nil {
		return nil, translateStoreError(err)
	}
	l.logger.Info("escrow opened",
		zap.String("escrow_id", created.ID.String()),
		zap.String("booking_id", booking.ID.String()),
		zap.Int64("total_amount", total),
	)
	return created, nil
}

func importedMilestoneStatus(status string) domain.MilestoneStatus {
	switch domain.MilestoneStatus(status) {
	case domain.MilestoneCompleted:
		return domain.MilestoneCompleted
	case domain.MilestoneCancelled:
		return domain.MilestoneCancelled
	default:
		return domain.MilestonePending
	}
}

// GetEscrow returns an escrow with its milestones.
func (l *EscrowLedger) GetEscrow(ctx context.Context, id uuid.UUID) (*domain.EscrowView, error) {
	view, err := l.repo.GetEscrow(ctx, id)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return view, nil
}

// ReleaseMilestone moves a completed milestone's amount from held to released and queues the
// vendor payout for it.
func (l *EscrowLedger) ReleaseMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, source domain.AuditSource, eventID string) (*domain.ReleaseResult, error) {
	current, err := l.repo.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	milestone, ok := findMilestone(current.Milestones, milestoneID)
	if !ok {
		return nil, domain.NewError(domain.CodeNotFound, "milestone not found")
	}

	now := l.now()
	payout, err := l.milestonePayout(ctx, current.EscrowAccount, *milestone, now)
	if err != nil {
		return nil, err
	}

	var released domain.Milestone
	view, createdPayout, err := l.repo.MutateEscrow(ctx, escrowID, func(v *domain.EscrowView) (store.EscrowChange, error) {
		m, ok := findMilestone(v.Milestones, milestoneID)
		if !ok {
			return store.EscrowChange{}, domain.NewError(domain.CodeNotFound, "milestone not found")
		}
		before := v.EscrowAccount
		if err := v.Release(m, now); err != nil {
			return store.EscrowChange{}, err
		}
		v.Recompute(v.Milestones)
		v.UpdatedAt = now
		released = *m

		change := store.EscrowChange{
			Ledger: []domain.LedgerEntry{{
				ID:        uuid.New(),
				EscrowID:  v.ID,
				Kind:      domain.LedgerRelease,
				Amount:    m.Amount,
				Reference: m.ID.String(),
				Reason:    "milestone released",
				CreatedAt: now,
			}},
			Audit: []domain.AuditEntry{escrowAudit(v.EscrowAccount, before.Status, source, eventID, fmt.Sprintf("milestone %s released %d", m.ID, m.Amount))},
		}
		if payout != nil {
			change.Payout = payout
			change.PayoutAudit = []domain.AuditEntry{payoutAudit(*payout, "", source, eventID, "queued from milestone release")}
		}
		return change, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			return nil, domain.Errorf(domain.CodeMilestoneNotCompleted, "milestone %s already released", milestoneID)
		}
		return nil, l.reportEscrowError(escrowID, "release", translateStoreError(err))
	}

	l.logger.Info("milestone released",
		zap.String("escrow_id", escrowID.String()),
		zap.String("milestone_id", milestoneID.String()),
		zap.Int64("amount", released.Amount),
		zap.String("escrow_status", string(view.Status)),
	)
	l.events.publish(ctx, RoutingMilestoneReleased, escrowPayload(view.EscrowAccount, &released.ID))
	if view.Status == domain.EscrowClosed {
		l.events.publish(ctx, RoutingEscrowClosed, escrowPayload(view.EscrowAccount, nil))
	}
	if createdPayout != nil {
		l.signal.Notify()
	}

	return &domain.ReleaseResult{Escrow: view.EscrowAccount, Milestone: released, Payout: createdPayout}, nil
}

// milestonePayout builds the payout a release creates: the milestone amount less commission,
// paid to the vendor of the payment that funded it.
func (l *EscrowLedger) milestonePayout(ctx context.Context, escrow domain.EscrowAccount, m domain.Milestone, now time.Time) (*domain.PayoutRecord, error) {
	funding, err := l.repo.FindFundingPayment(ctx, escrow.BookingID, m.ID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			l.logger.Warn("no funding payment for milestone; payout requires manual review",
				zap.String("escrow_id", escrow.ID.String()),
				zap.String("milestone_id", m.ID.String()),
			)
			return nil, nil
		}
		return nil, err
	}

	fee, err := l.commission.CalculateFee(funding.Category, m.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			l.logger.Warn("milestone amount does not cover commission; no payout queued",
				zap.String("milestone_id", m.ID.String()),
				zap.Int64("amount", m.Amount),
			)
			return nil, nil
		}
		return nil, err
	}

	eligibleAt := now
	cfg, err := l.vendors.GetVendorPayoutConfig(ctx, funding.VendorID)
	switch {
	case err == nil:
		eligibleAt = now.Add(cfg.PayoutDelay)
	case !errors.Is(err, store.ErrVendorConfigNotFound):
		return nil, err
	}

	milestoneID := m.ID
	return &domain.PayoutRecord{
		ID:          uuid.New(),
		VendorID:    funding.VendorID,
		PaymentID:   funding.ID,
		MilestoneID: &milestoneID,
		SourceRef:   domain.MilestoneSourceRef(m.ID),
		Amount:      fee.NetAmount,
		Currency:    funding.Currency,
		Status:      domain.PayoutPending,
		EligibleAt:  eligibleAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// adjust applies one ledger-backed balance change under the escrow row lock. A replayed
// reference returns the current escrow unchanged.
func (l *EscrowLedger) adjust(ctx context.Context, escrowID uuid.UUID, entry domain.LedgerEntry, source domain.AuditSource, eventID string, apply func(*domain.EscrowAccount) error) (*domain.EscrowView, error) {
	if entry.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := l.now()
	view, _, err := l.repo.MutateEscrow(ctx, escrowID, func(v *domain.EscrowView) (store.EscrowChange, error) {
		before := v.EscrowAccount
		if err := apply(&v.EscrowAccount); err != nil {
			return store.EscrowChange{}, err
		}
		v.Recompute(v.Milestones)
		v.UpdatedAt = now
		entry.ID = uuid.New()
		entry.EscrowID = v.ID
		entry.CreatedAt = now
		detail := fmt.Sprintf("%s %d: %s", strings.ToLower(string(entry.Kind)), entry.Amount, entry.Reason)
		return store.EscrowChange{
			Ledger: []domain.LedgerEntry{entry},
			Audit:  []domain.AuditEntry{escrowAudit(v.EscrowAccount, before.Status, source, eventID, detail)},
		}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			return l.GetEscrow(ctx, escrowID)
		}
		return nil, l.reportEscrowError(escrowID, strings.ToLower(string(entry.Kind)), translateStoreError(err))
	}
	return view, nil
}

// ReserveRefund sets aside held funds for a refund the processor has not confirmed yet.
// Reserved funds cannot be released or reserved again.
func (l *EscrowLedger) ReserveRefund(ctx context.Context, p domain.PaymentRecord, reservationID uuid.UUID, amount int64, eventID string) error {
	view, err := l.repo.GetEscrowByBooking(ctx, p.BookingID)
	if err != nil {
		return translateStoreError(err)
	}
	entry := domain.LedgerEntry{
		Kind:      domain.LedgerReserve,
		Amount:    amount,
		Reference: "refund-reserve:" + reservationID.String(),
		Reason:    "refund of payment " + p.ID.String() + " requested",
	}
	_, err = l.adjust(ctx, view.ID, entry, domain.SourceAPI, eventID, func(a *domain.EscrowAccount) error {
		return a.Reserve(amount)
	})
	return err
}

// UnreserveRefund returns a reservation the processor rejected to the available balance.
func (l *EscrowLedger) UnreserveRefund(ctx context.Context, p domain.PaymentRecord, reservationID uuid.UUID, amount int64, eventID string) error {
	view, err := l.repo.GetEscrowByBooking(ctx, p.BookingID)
	if err != nil {
		return translateStoreError(err)
	}
	entry := domain.LedgerEntry{
		Kind:      domain.LedgerUnreserve,
		Amount:    amount,
		Reference: "refund-release:" + reservationID.String(),
		Reason:    "refund of payment " + p.ID.String() + " rejected",
	}
	_, err = l.adjust(ctx, view.ID, entry, domain.SourceAPI, eventID, func(a *domain.EscrowAccount) error {
		a.Unreserve(amount)
		return nil
	})
	return err
}

// CreditPayment adds a completed escrowed payment to its booking's escrow, opening the
// escrow first if needed. Crediting the same payment twice is a no-op. The escrow never
// collects more than the booking amount: an opening balance already covers the payments it
// represents, so the surplus is left out of the escrow and flagged for review.
func (l *EscrowLedger) CreditPayment(ctx context.Context, effect CreditEscrowEffect, eventID string) error {
	booking, err := l.bookings.GetBooking(ctx, effect.BookingID)
	if err != nil {
		return err
	}
	view, err := l.repo.GetEscrowByBooking(ctx, effect.BookingID)
	if errors.Is(err, store.ErrEscrowNotFound) {
		view, err = l.openEscrow(ctx, *booking, 0, domain.SourceWebhook, eventID)
		if errors.Is(err, domain.ErrDuplicateEscrow) {
			view, err = l.repo.GetEscrowByBooking(ctx, effect.BookingID)
		}
	}
	if err != nil {
		return translateStoreError(err)
	}

	now := l.now()
	var credited int64
	_, _, err = l.repo.MutateEscrow(ctx, view.ID, func(v *domain.EscrowView) (store.EscrowChange, error) {
		before := v.EscrowAccount
		collected := v.TotalAmount + v.RefundedAmount
		credited = min(effect.Amount, booking.Amount-collected)
		detail := fmt.Sprintf("credited %d from payment %s", credited, effect.PaymentID)
		if credited < effect.Amount {
			detail = fmt.Sprintf("manual review: payment %s of %d exceeds the uncollected booking amount; credited %d",
				effect.PaymentID, effect.Amount, max(credited, 0))
		}
		entry := domain.LedgerEntry{
			ID:        uuid.New(),
			EscrowID:  v.ID,
			Kind:      domain.LedgerCredit,
			Amount:    credited,
			Reference: effect.PaymentID.String(),
			Reason:    "payment completed",
			CreatedAt: now,
		}
		if credited <= 0 {
			// Record the reference without moving funds so a replay is still detected.
			credited = 0
			entry.Amount = 0
		} else {
			if err := v.Credit(credited); err != nil {
				return store.EscrowChange{}, err
			}
			v.Recompute(v.Milestones)
		}
		v.UpdatedAt = now
		return store.EscrowChange{
			Ledger: []domain.LedgerEntry{entry},
			Audit:  []domain.AuditEntry{escrowAudit(v.EscrowAccount, before.Status, domain.SourceWebhook, eventID, detail)},
		}, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			l.logger.Debug("escrow credit already recorded", zap.String("payment_id", effect.PaymentID.String()))
			return nil
		}
		return err
	}

	log := l.logger.With(
		zap.String("escrow_id", view.ID.String()),
		zap.String("payment_id", effect.PaymentID.String()),
		zap.Int64("amount", credited),
	)
	if credited < effect.Amount {
		log.Error("payment exceeds uncollected booking amount; requires manual review",
			zap.Int64("payment_amount", effect.Amount),
			zap.Int64("booking_amount", booking.Amount),
		)
		return nil
	}
	log.Info("escrow credited")
	return nil
}

// RefundPayment settles the escrow reservation of a processor-confirmed refund, removing the
// amount from the escrow. The reservation id keys the ledger entry so a replay is a no-op.
func (l *EscrowLedger) RefundPayment(ctx context.Context, effect RefundEscrowEffect, eventID string) error {
	view, err := l.repo.GetEscrowByBooking(ctx, effect.BookingID)
	if err != nil {
		return translateStoreError(err)
	}
	reason := effect.Reason
	if reason == "" {
		reason = "payment " + effect.PaymentID.String() + " refunded"
	}
	entry := domain.LedgerEntry{
		Kind:      domain.LedgerRefund,
		Amount:    effect.Amount,
		Reference: "payment-refund:" + effect.ReservationID.String(),
		Reason:    reason,
	}
	updated, err := l.adjust(ctx, view.ID, entry, domain.SourceAPI, eventID, func(a *domain.EscrowAccount) error {
		return a.SettleReserved(effect.Amount)
	})
	if err != nil {
		return err
	}

	l.logger.Info("escrow refunded",
		zap.String("escrow_id", updated.ID.String()),
		zap.String("payment_id", effect.PaymentID.String()),
		zap.Int64("amount", effect.Amount),
		zap.String("escrow_status", string(updated.Status)),
	)
	if updated.Status == domain.EscrowClosed && view.Status != domain.EscrowClosed {
		l.events.publish(ctx, RoutingEscrowClosed, escrowPayload(updated.EscrowAccount, nil))
	}
	return nil
}

// Exposure returns how much of a payment's escrow has been released to the vendor and how
// much the escrow holds that is not already reserved for a refund.
func (l *EscrowLedger) Exposure(ctx context.Context, p domain.PaymentRecord) (released, available int64, err error) {
	view, err := l.repo.GetEscrowByBooking(ctx, p.BookingID)
	if err != nil {
		if errors.Is(err, store.ErrEscrowNotFound) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	if p.MilestoneID != nil {
		if m, ok := findMilestone(view.Milestones, *p.MilestoneID); ok && m.Status == domain.MilestoneReleased {
			released = min(m.Amount, p.Amount)
		}
	} else {
		released = min(view.ReleasedAmount, p.Amount)
	}
	return released, view.Available(), nil
}

// CompleteMilestone marks a milestone as completed so its funds can be released.
func (l *EscrowLedger) CompleteMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, source domain.AuditSource, eventID string) (*domain.EscrowView, error) {
	now := l.now()
	view, _, err := l.repo.MutateEscrow(ctx, escrowID, func(v *domain.EscrowView) (store.EscrowChange, error) {
		m, ok := findMilestone(v.Milestones, milestoneID)
		if !ok {
			return store.EscrowChange{}, domain.NewError(domain.CodeNotFound, "milestone not found")
		}
		switch m.Status {
		case domain.MilestoneCompleted, domain.MilestoneReleased:
			return store.EscrowChange{}, store.ErrNoChange
		case domain.MilestoneCancelled:
			return store.EscrowChange{}, domain.Errorf(domain.CodeInvalidTransition, "milestone %s is cancelled", m.ID)
		}
		m.Status = domain.MilestoneCompleted
		m.CompletedAt = &now
		v.UpdatedAt = now
		return store.EscrowChange{
			Audit: []domain.AuditEntry{escrowAudit(v.EscrowAccount, v.Status, source, eventID, fmt.Sprintf("milestone %s completed", m.ID))},
		}, nil
	})
	if err != nil {
		return nil, translateStoreError(err)
	}
	return view, nil
}

// CompleteBookingMilestone resolves the escrow of a booking and completes the milestone.
func (l *EscrowLedger) CompleteBookingMilestone(ctx context.Context, bookingID, milestoneID uuid.UUID, eventID string) (*domain.EscrowView, error) {
	view, err := l.repo.GetEscrowByBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return l.CompleteMilestone(ctx, view.ID, milestoneID, domain.SourceConsumer, eventID)
}

// CancelBooking cancels every unreleased milestone and refunds whatever the escrow still holds
// outside pending refund reservations.
func (l *EscrowLedger) CancelBooking(ctx context.Context, bookingID uuid.UUID, reason, eventID string) (*domain.EscrowView, error) {
	current, err := l.repo.GetEscrowByBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	if reason == "" {
		reason = "booking cancelled"
	}

	now := l.now()
	view, _, err := l.repo.MutateEscrow(ctx, current.ID, func(v *domain.EscrowView) (store.EscrowChange, error) {
		before := v.EscrowAccount
		cancelled := 0
		for i := range v.Milestones {
			switch v.Milestones[i].Status {
			case domain.MilestonePending, domain.MilestoneCompleted:
				v.Milestones[i].Status = domain.MilestoneCancelled
				cancelled++
			}
		}

		var change store.EscrowChange
		refunded := v.Available()
		if refunded > 0 {
			if err := v.EscrowAccount.Refund(refunded); err != nil {
				return store.EscrowChange{}, err
			}
			change.Ledger = append(change.Ledger, domain.LedgerEntry{
				ID:        uuid.New(),
				EscrowID:  v.ID,
				Kind:      domain.LedgerRefund,
				Amount:    refunded,
				Reference: "booking-cancelled:" + bookingID.String(),
				Reason:    reason,
				CreatedAt: now,
			})
		}
		if cancelled == 0 && refunded == 0 {
			return store.EscrowChange{}, store.ErrNoChange
		}

		v.Recompute(v.Milestones)
		v.UpdatedAt = now
		change.Audit = []domain.AuditEntry{escrowAudit(v.EscrowAccount, before.Status, domain.SourceConsumer, eventID,
			fmt.Sprintf("booking cancelled: %d milestones cancelled, %d refunded", cancelled, refunded))}
		return change, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			return l.GetEscrow(ctx, current.ID)
		}
		return nil, l.reportEscrowError(current.ID, "cancel", translateStoreError(err))
	}

	if view.Status == domain.EscrowClosed && current.Status != domain.EscrowClosed {
		l.events.publish(ctx, RoutingEscrowClosed, escrowPayload(view.EscrowAccount, nil))
	}
	return view, nil
}

// reportEscrowError logs escrow failures that need an operator and passes coded errors through.
func (l *EscrowLedger) reportEscrowError(escrowID uuid.UUID, op string, err error) error {
	switch domain.CodeOf(err) {
	case domain.CodeInsufficientHeldFunds, domain.CodeRefundExceedsHeld:
		l.logger.Error("escrow operation requires manual review",
			zap.String("escrow_id", escrowID.String()),
			zap.String("operation", op),
			zap.Error(err),
		)
	}
	return err
}

func findMilestone(milestones []domain.Milestone, id uuid.UUID) (*domain.Milestone, bool) {
	for i := range milestones {
		if milestones[i].ID == id {
			return &milestones[i], true
		}
	}
	return nil, false
}

func escrowAudit(a domain.EscrowAccount, previous domain.EscrowStatus, source domain.AuditSource, eventID, detail string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:             uuid.New(),
		EntityType:     domain.AuditEscrow,
		EntityID:       a.ID,
		PreviousStatus: string(previous),
		NewStatus:      string(a.Status),
		EventID:        eventID,
		Source:         source,
		Detail:         detail,
		CreatedAt:      a.UpdatedAt,
	}
}
