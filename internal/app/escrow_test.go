package app

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalled(s *PayoutSignal) bool {
	select {
	case <-s.C():
		return true
	default:
		return false
	}
}

// ledgerHeld recomputes the held balance from ledger entries.
func ledgerHeld(entries []domain.LedgerEntry) int64 {
	var held int64
	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerCredit:
			held += e.Amount
		case domain.LedgerRelease, domain.LedgerRefund:
			held -= e.Amount
		}
	}
	return held
}

func openEscrow(t *testing.T, h *harness, booking domain.Booking, total int64) domain.EscrowView {
	t.Helper()
	view, err := h.escrow.CreateEscrow(context.Background(), domain.CreateEscrowRequest{BookingID: booking.ID, TotalAmount: total}, "req-open")
	require.NoError(t, err)
	return *view
}

func TestReleaseWithInsufficientHeldFunds(t *testing.T) {
	t.Run("account arithmetic", func(t *testing.T) {
		account := domain.EscrowAccount{TotalAmount: 500, HeldAmount: 500}
		milestone := domain.Milestone{ID: uuid.New(), Amount: 700, Status: domain.MilestoneCompleted}

		err := account.Release(&milestone, time.Now())
		require.Error(t, err)
		assert.Equal(t, domain.CodeInsufficientHeldFunds, domain.CodeOf(err))
		assert.Equal(t, int64(500), account.HeldAmount)
		assert.Equal(t, domain.MilestoneCompleted, milestone.Status)
	})

	t.Run("ledger leaves the escrow untouched", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		booking := h.addBooking("VENUE", 1000, 700, 300)
		view := openEscrow(t, h, booking, 500)
		milestoneID := booking.Milestones[0].ID

		_, err := h.escrow.CompleteMilestone(ctx, view.ID, milestoneID, domain.SourceAPI, "complete-1")
		require.NoError(t, err)

		_, err = h.escrow.ReleaseMilestone(ctx, view.ID, milestoneID, domain.SourceAPI, "release-1")
		require.ErrorIs(t, err, domain.ErrInsufficientHeldFunds)

		after := h.escrowFor(t, booking.ID)
		assert.Equal(t, int64(500), after.HeldAmount)
		assert.Equal(t, int64(0), after.ReleasedAmount)
		m, ok := findMilestone(after.Milestones, milestoneID)
		require.True(t, ok)
		assert.Equal(t, domain.MilestoneCompleted, m.Status)
		assert.Empty(t, h.store.vendorPayouts(booking.VendorID))
	})
}

func TestReleaseMilestoneQueuesNetPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 10000, 4000, 6000)
	first, second := booking.Milestones[0].ID, booking.Milestones[1].ID

	payment := h.completePayment(t, booking, nil)
	require.True(t, payment.Escrowed)

	view := h.escrowFor(t, booking.ID)
	assert.Equal(t, int64(10000), view.TotalAmount)
	assert.Equal(t, int64(10000), view.HeldAmount)
	assert.Equal(t, domain.EscrowOpen, view.Status)
	signalled(h.signal)

	_, err := h.escrow.CompleteMilestone(ctx, view.ID, first, domain.SourceAPI, "complete-1")
	require.NoError(t, err)
	result, err := h.escrow.ReleaseMilestone(ctx, view.ID, first, domain.SourceAPI, "release-1")
	require.NoError(t, err)

	assert.Equal(t, int64(6000), result.Escrow.HeldAmount)
	assert.Equal(t, int64(4000), result.Escrow.ReleasedAmount)
	assert.Equal(t, domain.EscrowPartiallyReleased, result.Escrow.Status)
	assert.Equal(t, domain.MilestoneReleased, result.Milestone.Status)
	require.NotNil(t, result.Payout)
	assert.Equal(t, int64(3880), result.Payout.Amount)
	assert.Equal(t, payment.ID, result.Payout.PaymentID)
	assert.Equal(t, domain.MilestoneSourceRef(first), result.Payout.SourceRef)
	assert.True(t, signalled(h.signal))

	_, err = h.escrow.ReleaseMilestone(ctx, view.ID, first, domain.SourceAPI, "release-1-again")
	require.ErrorIs(t, err, domain.ErrMilestoneNotCompleted)

	_, err = h.escrow.ReleaseMilestone(ctx, view.ID, second, domain.SourceAPI, "release-2-early")
	require.ErrorIs(t, err, domain.ErrMilestoneNotCompleted)

	_, err = h.escrow.CompleteMilestone(ctx, view.ID, second, domain.SourceAPI, "complete-2")
	require.NoError(t, err)
	result, err = h.escrow.ReleaseMilestone(ctx, view.ID, second, domain.SourceAPI, "release-2")
	require.NoError(t, err)
	require.NotNil(t, result.Payout)
	assert.Equal(t, int64(5820), result.Payout.Amount)
	assert.Equal(t, domain.EscrowClosed, result.Escrow.Status)
	assert.Equal(t, int64(0), result.Escrow.HeldAmount)

	assert.Equal(t, 2, h.publisher.count(RoutingMilestoneReleased))
	assert.Equal(t, 1, h.publisher.count(RoutingEscrowClosed))
	assert.Len(t, h.store.vendorPayouts(booking.VendorID), 2)
	assert.Equal(t, int64(0), ledgerHeld(h.store.ledgerEntries(view.ID)))
}

func TestReleaseUsesVendorPayoutDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("PHOTOGRAPHY", 5000, 5000)
	delay := 48
	auto := true
	_, err := h.payouts.UpsertVendorPayoutConfig(ctx, booking.VendorID, domain.PayoutConfigRequest{
		ProcessorAccountID: "acct_delay",
		AutoPayout:         &auto,
		PayoutDelayHours:   &delay,
	}, "setup")
	require.NoError(t, err)

	h.completePayment(t, booking, nil)
	view := h.escrowFor(t, booking.ID)
	_, err = h.escrow.CompleteMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "complete")
	require.NoError(t, err)
	result, err := h.escrow.ReleaseMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "release")
	require.NoError(t, err)

	require.NotNil(t, result.Payout)
	assert.Equal(t, h.clock.Now().Add(48*time.Hour), result.Payout.EligibleAt)
}

func TestCreditPaymentIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("DECOR", 3000, 1000, 2000)
	effect := CreditEscrowEffect{BookingID: booking.ID, PaymentID: uuid.New(), Amount: 1000, Currency: "usd"}

	require.NoError(t, h.escrow.CreditPayment(ctx, effect, "evt_1"))
	require.NoError(t, h.escrow.CreditPayment(ctx, effect, "evt_1"))
	require.NoError(t, h.escrow.CreditPayment(ctx, effect, "evt_2"))

	view := h.escrowFor(t, booking.ID)
	assert.Equal(t, int64(1000), view.TotalAmount)
	assert.Equal(t, int64(1000), view.HeldAmount)
	assert.Len(t, view.Milestones, 2)
}

func TestCreditPaymentStopsAtBookingAmount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 10000, 4000, 6000)
	openEscrow(t, h, booking, 10000)

	p := h.completePayment(t, booking, nil)
	assert.Equal(t, domain.PaymentCompleted, p.Status)

	view := h.escrowFor(t, booking.ID)
	assert.Equal(t, int64(10000), view.TotalAmount)
	assert.Equal(t, int64(10000), view.HeldAmount)
	assert.True(t, view.Balanced())
	assert.Equal(t, int64(10000), ledgerHeld(h.store.ledgerEntries(view.ID)))

	partial := h.addBooking("VENUE", 10000, 4000, 6000)
	openEscrow(t, h, partial, 7000)
	require.NoError(t, h.escrow.CreditPayment(ctx, CreditEscrowEffect{BookingID: partial.ID, PaymentID: uuid.New(), Amount: 5000}, "evt_over"))
	assert.Equal(t, int64(10000), h.escrowFor(t, partial.ID).TotalAmount)
}

func TestRefundReservationHoldsFundsAgainstRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 1000, 600, 400)
	view := openEscrow(t, h, booking, 1000)
	p := domain.PaymentRecord{ID: uuid.New(), BookingID: booking.ID}
	first, second := uuid.New(), uuid.New()

	require.NoError(t, h.escrow.ReserveRefund(ctx, p, first, 500, "req-1"))
	err := h.escrow.ReserveRefund(ctx, p, second, 600, "req-2")
	require.ErrorIs(t, err, domain.ErrRefundExceedsHeld)

	_, err = h.escrow.CompleteMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "complete")
	require.NoError(t, err)
	_, err = h.escrow.ReleaseMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "release")
	require.ErrorIs(t, err, domain.ErrInsufficientHeldFunds)

	require.NoError(t, h.escrow.UnreserveRefund(ctx, p, first, 500, "req-1"))
	result, err := h.escrow.ReleaseMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "release")
	require.NoError(t, err)
	assert.Nil(t, result.Payout, "no funding payment means no automatic payout")

	require.ErrorIs(t, h.escrow.ReserveRefund(ctx, p, second, 500, "req-2"), domain.ErrRefundExceedsHeld)
	require.NoError(t, h.escrow.ReserveRefund(ctx, p, second, 100, "req-2"))
	require.NoError(t, h.escrow.ReserveRefund(ctx, p, second, 100, "req-2"))
	assert.Equal(t, int64(100), h.escrowFor(t, booking.ID).ReservedAmount)

	settle := RefundEscrowEffect{BookingID: booking.ID, PaymentID: p.ID, ReservationID: second, Amount: 100, Reason: "partial"}
	require.NoError(t, h.escrow.RefundPayment(ctx, settle, "evt_refund"))
	require.NoError(t, h.escrow.RefundPayment(ctx, settle, "evt_refund"))

	refunded := h.escrowFor(t, booking.ID)
	assert.Equal(t, int64(300), refunded.HeldAmount)
	assert.Equal(t, int64(900), refunded.TotalAmount)
	assert.Equal(t, int64(600), refunded.ReleasedAmount)
	assert.Equal(t, int64(100), refunded.RefundedAmount)
	assert.Zero(t, refunded.ReservedAmount)
	assert.Equal(t, domain.EscrowPartiallyReleased, refunded.Status)
	assert.True(t, refunded.Balanced())
	assert.Equal(t, int64(300), ledgerHeld(h.store.ledgerEntries(view.ID)))
}

func TestCreateEscrowValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	withMilestones := h.addBooking("VENUE", 1000, 600, 400)
	withoutMilestones := h.addBooking("VENUE", 1000)
	oversized := h.addBooking("VENUE", 1000, 800, 400)

	tests := []struct {
		name string
		req  domain.CreateEscrowRequest
		code domain.ErrorCode
	}{
		{name: "missing booking", req: domain.CreateEscrowRequest{}, code: domain.CodeValidation},
		{name: "unknown booking", req: domain.CreateEscrowRequest{BookingID: uuid.New()}, code: domain.CodeNotFound},
		{name: "booking without milestones", req: domain.CreateEscrowRequest{BookingID: withoutMilestones.ID}, code: domain.CodeValidation},
		{name: "milestones exceed booking", req: domain.CreateEscrowRequest{BookingID: oversized.ID}, code: domain.CodeValidation},
		{name: "total above booking amount", req: domain.CreateEscrowRequest{BookingID: withMilestones.ID, TotalAmount: 2000}, code: domain.CodeInvalidAmount},
		{name: "negative total", req: domain.CreateEscrowRequest{BookingID: withMilestones.ID, TotalAmount: -1}, code: domain.CodeInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.escrow.CreateEscrow(ctx, tt.req, "req")
			require.Error(t, err)
			assert.Equal(t, tt.code, domain.CodeOf(err))
		})
	}

	view, err := h.escrow.CreateEscrow(ctx, domain.CreateEscrowRequest{BookingID: withMilestones.ID, TotalAmount: 1000}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowOpen, view.Status)
	require.Len(t, view.Milestones, 2)
	assert.Equal(t, domain.MilestonePending, view.Milestones[0].Status)

	_, err = h.escrow.CreateEscrow(ctx, domain.CreateEscrowRequest{BookingID: withMilestones.ID, TotalAmount: 1000}, "req-2")
	require.ErrorIs(t, err, domain.ErrDuplicateEscrow)
}

func TestCompleteMilestone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 1000, 600, 400)
	view := openEscrow(t, h, booking, 1000)
	milestoneID := booking.Milestones[0].ID

	for i := 0; i < 2; i++ {
		updated, err := h.escrow.CompleteMilestone(ctx, view.ID, milestoneID, domain.SourceConsumer, "evt-complete")
		require.NoError(t, err)
		m, _ := findMilestone(updated.Milestones, milestoneID)
		assert.Equal(t, domain.MilestoneCompleted, m.Status)
	}

	completions := 0
	for _, entry := range h.store.auditFor(view.ID) {
		if entry.EventID == "evt-complete" {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	_, err := h.escrow.CompleteMilestone(ctx, view.ID, uuid.New(), domain.SourceAPI, "evt")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.escrow.CompleteBookingMilestone(ctx, uuid.New(), milestoneID, "evt")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelBooking(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 1000, 600, 400)
	view := openEscrow(t, h, booking, 1000)
	first, second := booking.Milestones[0].ID, booking.Milestones[1].ID

	_, err := h.escrow.CompleteMilestone(ctx, view.ID, first, domain.SourceAPI, "complete")
	require.NoError(t, err)
	_, err = h.escrow.ReleaseMilestone(ctx, view.ID, first, domain.SourceAPI, "release")
	require.NoError(t, err)

	cancelled, err := h.escrow.CancelBooking(ctx, booking.ID, "", "evt-cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowClosed, cancelled.Status)
	assert.Equal(t, int64(0), cancelled.HeldAmount)
	assert.Equal(t, int64(600), cancelled.ReleasedAmount)
	assert.Equal(t, int64(400), cancelled.RefundedAmount)
	assert.True(t, cancelled.Balanced())
	m, _ := findMilestone(cancelled.Milestones, second)
	assert.Equal(t, domain.MilestoneCancelled, m.Status)
	m, _ = findMilestone(cancelled.Milestones, first)
	assert.Equal(t, domain.MilestoneReleased, m.Status)

	again, err := h.escrow.CancelBooking(ctx, booking.ID, "", "evt-cancel")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowClosed, again.Status)
	assert.Equal(t, 1, h.publisher.count(RoutingEscrowClosed))

	_, err = h.escrow.CompleteMilestone(ctx, view.ID, second, domain.SourceAPI, "late")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestEscrowBalancesHoldUnderRandomOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("DECOR", 100000, 10000, 15000, 20000, 25000, 30000)
	view := openEscrow(t, h, booking, 20000)
	payer := domain.PaymentRecord{ID: uuid.New(), BookingID: booking.ID}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		milestoneID := booking.Milestones[rng.Intn(len(booking.Milestones))].ID
		switch rng.Intn(4) {
		case 0:
			_ = h.escrow.CreditPayment(ctx, CreditEscrowEffect{BookingID: booking.ID, PaymentID: uuid.New(), Amount: int64(rng.Intn(8000) + 1)}, "credit")
		case 1:
			_, _ = h.escrow.CompleteMilestone(ctx, view.ID, milestoneID, domain.SourceAPI, "complete")
		case 2:
			_, _ = h.escrow.ReleaseMilestone(ctx, view.ID, milestoneID, domain.SourceAPI, "release")
		case 3:
			reservation := uuid.New()
			amount := int64(rng.Intn(5000) + 1)
			if h.escrow.ReserveRefund(ctx, payer, reservation, amount, "reserve") != nil {
				continue
			}
			if rng.Intn(2) == 0 {
				require.NoError(t, h.escrow.UnreserveRefund(ctx, payer, reservation, amount, "unreserve"))
			} else {
				effect := RefundEscrowEffect{BookingID: booking.ID, PaymentID: payer.ID, ReservationID: reservation, Amount: amount}
				require.NoError(t, h.escrow.RefundPayment(ctx, effect, "refund"))
			}
		}

		current := h.escrowFor(t, booking.ID)
		require.True(t, current.Balanced(), "step %d: %+v", i, current.EscrowAccount)
		require.Equal(t, current.HeldAmount, ledgerHeld(h.store.ledgerEntries(view.ID)), "step %d", i)
	}
}
