package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayoutBackoff(t *testing.T) {
	tests := []struct {
		name  string
		retry int
		base  time.Duration
		limit time.Duration
		want  time.Duration
	}{
		{name: "first retry waits the base delay", retry: 0, base: time.Minute, limit: time.Hour, want: time.Minute},
		{name: "doubles per retry", retry: 1, base: time.Minute, limit: time.Hour, want: 2 * time.Minute},
		{name: "third doubling", retry: 3, base: time.Minute, limit: time.Hour, want: 8 * time.Minute},
		{name: "capped at the limit", retry: 10, base: time.Minute, limit: time.Hour, want: time.Hour},
		{name: "zero base never waits", retry: 4, base: 0, limit: time.Hour, want: 0},
		{name: "zero limit is uncapped", retry: 5, base: time.Minute, limit: 0, want: 32 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PayoutBackoff(tt.retry, tt.base, tt.limit))
		})
	}
}

func TestApplyTransferFailureExhaustsRetries(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	p := domain.PayoutRecord{ID: uuid.New(), Status: domain.PayoutPending, Amount: 9800}

	var changed bool
	p, changed = ApplyTransferFailure(p, "insufficient platform balance", now, testPayoutConfig)
	require.True(t, changed)
	assert.Equal(t, domain.PayoutPending, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	require.NotNil(t, p.NextAttemptAt)
	assert.Equal(t, now.Add(2*time.Minute), *p.NextAttemptAt)

	p, _ = ApplyTransferFailure(p, "insufficient platform balance", now, testPayoutConfig)
	assert.Equal(t, domain.PayoutPending, p.Status)
	assert.Equal(t, now.Add(4*time.Minute), *p.NextAttemptAt)

	p, changed = ApplyTransferFailure(p, "insufficient platform balance", now, testPayoutConfig)
	require.True(t, changed)
	assert.Equal(t, domain.PayoutFailed, p.Status)
	assert.Equal(t, 3, p.RetryCount)
	assert.Nil(t, p.NextAttemptAt)
	require.NotNil(t, p.FailureReason)
	assert.Equal(t, "insufficient platform balance", *p.FailureReason)

	_, changed = ApplyTransferFailure(p, "again", now, testPayoutConfig)
	assert.False(t, changed)
}

func TestApplyTransferSuccess(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	transfer := func(id string) *string { return &id }

	tests := []struct {
		name       string
		payout     domain.PayoutRecord
		transferID string
		want       bool
	}{
		{name: "processing with matching transfer", payout: domain.PayoutRecord{Status: domain.PayoutProcessing, ExternalTransferID: transfer("tr_1")}, transferID: "tr_1", want: true},
		{name: "processing with another transfer", payout: domain.PayoutRecord{Status: domain.PayoutProcessing, ExternalTransferID: transfer("tr_1")}, transferID: "tr_2", want: false},
		{name: "pending after a timed out request", payout: domain.PayoutRecord{Status: domain.PayoutPending}, transferID: "tr_3", want: true},
		{name: "already completed", payout: domain.PayoutRecord{Status: domain.PayoutCompleted, ExternalTransferID: transfer("tr_1")}, transferID: "tr_1", want: false},
		{name: "failed payouts stay failed", payout: domain.PayoutRecord{Status: domain.PayoutFailed}, transferID: "tr_4", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := ApplyTransferSuccess(tt.payout, tt.transferID, now)
			assert.Equal(t, tt.want, changed)
			if !tt.want {
				assert.Equal(t, tt.payout, got)
				return
			}
			assert.Equal(t, domain.PayoutCompleted, got.Status)
			require.NotNil(t, got.ExternalTransferID)
			assert.Equal(t, tt.transferID, *got.ExternalTransferID)
			require.NotNil(t, got.CompletedAt)
			assert.Equal(t, now, *got.CompletedAt)
		})
	}
}

// queuedPayout completes a direct payment for an auto-payout vendor and returns its payout.
func queuedPayout(t *testing.T, h *harness, minimum int64) (domain.Booking, domain.PayoutRecord) {
	t.Helper()
	booking := h.addBooking("VENUE", 10000)
	h.configureVendor(t, booking.VendorID, true, minimum)
	h.completePayment(t, booking, nil)
	payouts := h.store.vendorPayouts(booking.VendorID)
	require.Len(t, payouts, 1)
	return booking, payouts[0]
}

func transferKeys(h *harness) []string {
	var keys []string
	for _, req := range h.processor.transferCalls() {
		keys = append(keys, req.IdempotencyKey)
	}
	return keys
}

func TestRunOnceTransfersDuePayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking, payout := queuedPayout(t, h, 0)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutRunResult{Vendors: 1, Attempted: 1, Accepted: 1}, result)

	calls := h.processor.transferCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "payout-"+payout.ID.String()+"-0", calls[0].IdempotencyKey)
	assert.Equal(t, "acct_"+booking.VendorID.String()[:8], calls[0].DestinationAccount)
	assert.Equal(t, int64(9800), calls[0].Amount)

	processing := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutProcessing, processing.Status)
	require.NotNil(t, processing.ExternalTransferID)
	assert.Equal(t, 1, h.publisher.count(RoutingPayoutProcessing))

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Vendors)
	assert.Len(t, h.processor.transferCalls(), 1)

	outcome, err := h.payouts.HandleTransferCreated(ctx, domain.TransferCreatedEvent{
		EventMeta:  domain.EventMeta{ID: "evt_tr_created"},
		TransferID: *processing.ExternalTransferID,
	})
	require.NoError(t, err)
	assert.Equal(t, "payout completed", outcome)
	assert.Equal(t, domain.PayoutCompleted, h.payoutByID(t, payout.ID).Status)

	outcome, err = h.payouts.HandleTransferCreated(ctx, domain.TransferCreatedEvent{
		EventMeta:  domain.EventMeta{ID: "evt_tr_created_again"},
		TransferID: *processing.ExternalTransferID,
	})
	require.NoError(t, err)
	assert.Equal(t, "no-op", outcome)
	assert.Equal(t, 1, h.publisher.count(RoutingPayoutCompleted))
}

func TestRunOnceKeepsOneTransferInFlightPerVendor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.addBooking("VENUE", 10000)
	second := h.addBooking("VENUE", 10000)
	second.VendorID = first.VendorID
	h.bookings.mu.Lock()
	h.bookings.bookings[second.ID] = second
	h.bookings.mu.Unlock()
	h.configureVendor(t, first.VendorID, true, 0)
	h.completePayment(t, first, nil)
	h.completePayment(t, second, nil)
	require.Len(t, h.store.vendorPayouts(first.VendorID), 2)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutRunResult{Vendors: 1, Attempted: 1, Accepted: 1}, result)
	calls := h.processor.transferCalls()
	require.Len(t, calls, 1)

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutRunResult{Vendors: 1, Skipped: 1}, result)
	assert.Len(t, h.processor.transferCalls(), 1)

	inFlight := h.payoutByID(t, calls[0].PayoutID)
	require.Equal(t, domain.PayoutProcessing, inFlight.Status)
	signalled(h.signal)
	_, err = h.payouts.HandleTransferCreated(ctx, domain.TransferCreatedEvent{
		EventMeta:  domain.EventMeta{ID: "evt_tr_created"},
		TransferID: *inFlight.ExternalTransferID,
	})
	require.NoError(t, err)
	assert.True(t, signalled(h.signal))

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	calls = h.processor.transferCalls()
	require.Len(t, calls, 2)
	assert.NotEqual(t, calls[0].PayoutID, calls[1].PayoutID)
	assert.Equal(t, domain.PayoutCompleted, h.payoutByID(t, calls[0].PayoutID).Status)
	assert.Equal(t, domain.PayoutProcessing, h.payoutByID(t, calls[1].PayoutID).Status)

	cfg, err := h.store.GetVendorPayoutConfig(ctx, first.VendorID)
	require.NoError(t, err)
	assert.Nil(t, cfg.ManualPayoutRequestedAt)
}

func TestRunOnceRetriesWithBackoffUntilFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payout := queuedPayout(t, h, 0)
	h.processor.alwaysFailing = domain.NewError(domain.CodeProcessor, "destination account closed")

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	first := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutPending, first.Status)
	assert.Equal(t, 1, first.RetryCount)
	require.NotNil(t, first.NextAttemptAt)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), *first.NextAttemptAt)

	_, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, h.processor.transferCalls(), 1, "retry is not due yet")

	h.clock.Advance(2 * time.Minute)
	_, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.payoutByID(t, payout.ID).RetryCount)

	h.clock.Advance(4 * time.Minute)
	_, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)

	failed := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutFailed, failed.Status)
	assert.Equal(t, 3, failed.RetryCount)
	assert.Equal(t, 1, h.publisher.count(RoutingPayoutFailed))

	h.clock.Advance(time.Hour)
	_, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)

	prefix := "payout-" + payout.ID.String()
	assert.Equal(t, []string{prefix + "-0", prefix + "-1", prefix + "-2"}, transferKeys(h))
}

func TestRunOnceTimeoutReusesIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payout := queuedPayout(t, h, 0)
	h.processor.transferErrs = []error{domain.ErrProcessorTimeout}

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	pending := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutPending, pending.Status)
	assert.Equal(t, 0, pending.RetryCount)

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)

	key := "payout-" + payout.ID.String() + "-0"
	assert.Equal(t, []string{key, key}, transferKeys(h))
	assert.Equal(t, domain.PayoutProcessing, h.payoutByID(t, payout.ID).Status)
}

func TestRunOnceHoldsNonCompliantVendor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking, payout := queuedPayout(t, h, 0)
	h.compliance.setMissing(booking.VendorID, domain.DocInsuranceCertificate)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Held)
	held := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutHeld, held.Status)
	require.NotNil(t, held.HeldReason)
	assert.Contains(t, *held.HeldReason, string(domain.DocInsuranceCertificate))
	assert.Empty(t, h.processor.transferCalls())

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Held)
	assert.Equal(t, 1, h.publisher.count(RoutingPayoutHeld))

	h.compliance.setMissing(booking.VendorID)
	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	resumed := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutProcessing, resumed.Status)
	assert.Nil(t, resumed.HeldReason)
}

func TestRunOnceHoldsDisabledAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking, payout := queuedPayout(t, h, 0)
	cfg, err := h.store.GetVendorPayoutConfig(ctx, booking.VendorID)
	require.NoError(t, err)

	outcome, err := h.payouts.HandleAccountUpdated(ctx, domain.AccountUpdatedEvent{
		EventMeta:          domain.EventMeta{ID: "evt_acct"},
		ProcessorAccountID: cfg.ProcessorAccountID,
		PayoutsEnabled:     false,
	})
	require.NoError(t, err)
	assert.Equal(t, "payouts_disabled", outcome)

	_, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	held := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutHeld, held.Status)
	assert.Equal(t, "payouts disabled on processor account", *held.HeldReason)

	outcome, err = h.payouts.HandleAccountUpdated(ctx, domain.AccountUpdatedEvent{ProcessorAccountID: "acct_unknown"})
	require.NoError(t, err)
	assert.Equal(t, "unknown account", outcome)
}

func TestRunOnceHoldsPayoutWithoutVendorConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 10000, 10000)
	h.completePayment(t, booking, nil)
	view := h.escrowFor(t, booking.ID)
	_, err := h.escrow.CompleteMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "complete")
	require.NoError(t, err)
	released, err := h.escrow.ReleaseMilestone(ctx, view.ID, booking.Milestones[0].ID, domain.SourceAPI, "release")
	require.NoError(t, err)
	require.NotNil(t, released.Payout)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Held)
	held := h.payoutByID(t, released.Payout.ID)
	assert.Equal(t, "vendor payout configuration missing", *held.HeldReason)
}

func TestMinimumPayoutDefersUntilManualRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking, payout := queuedPayout(t, h, 20000)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deferred)
	assert.Empty(t, h.processor.transferCalls())

	cfg, err := h.payouts.RequestManualPayout(ctx, booking.VendorID, "req-manual")
	require.NoError(t, err)
	require.NotNil(t, cfg.ManualPayoutRequestedAt)

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, domain.PayoutProcessing, h.payoutByID(t, payout.ID).Status)

	after, err := h.store.GetVendorPayoutConfig(ctx, booking.VendorID)
	require.NoError(t, err)
	assert.Nil(t, after.ManualPayoutRequestedAt)
}

func TestManualPayoutForVendorWithoutAutoPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 10000)
	h.configureVendor(t, booking.VendorID, false, 0)
	p := h.completePayment(t, booking, nil)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Vendors)

	_, err = h.payouts.RequestManualPayout(ctx, booking.VendorID, "req-manual")
	require.NoError(t, err)
	payouts := h.store.vendorPayouts(booking.VendorID)
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.PaymentSourceRef(p.ID), payouts[0].SourceRef)
	assert.True(t, signalled(h.signal))

	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, []string{"payout-" + payouts[0].ID.String() + "-0"}, transferKeys(h))

	_, err = h.payouts.RequestManualPayout(ctx, uuid.New(), "req-unknown")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunOnceSkipsLeasedVendor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking, _ := queuedPayout(t, h, 0)

	release, ok, err := h.lease.Acquire(ctx, booking.VendorID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, h.processor.transferCalls())

	release()
	result, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
}

func TestRunOnceProcessesVendorsIndependently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var vendors []uuid.UUID
	for i := 0; i < 5; i++ {
		booking, _ := queuedPayout(t, h, 0)
		vendors = append(vendors, booking.VendorID)
	}
	h.compliance.setMissing(vendors[0], domain.DocBusinessLicense)

	result, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Vendors)
	assert.Equal(t, 4, result.Accepted)
	assert.Equal(t, 1, result.Held)
	assert.Len(t, h.processor.transferCalls(), 4)
}

func TestEnqueuePaymentPayoutRespectsEntitlement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 10000)
	h.configureVendor(t, booking.VendorID, false, 0)
	p := h.completePayment(t, booking, nil)

	_, err := h.payments.RefundPayment(ctx, p.ID, domain.RefundRequest{Amount: 10000}, "req-refund")
	require.NoError(t, err)

	require.NoError(t, h.payouts.EnqueuePaymentPayout(ctx, h.payment(t, p.ID), domain.SourceAPI, "req"))
	assert.Empty(t, h.store.vendorPayouts(booking.VendorID))
}

func TestEnqueuePaymentPayoutIsKeyedByPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.addBooking("VENUE", 10000)
	h.configureVendor(t, booking.VendorID, false, 0)
	p := h.completePayment(t, booking, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.payouts.EnqueuePaymentPayout(ctx, p, domain.SourceAPI, "req"))
	}
	payouts := h.store.vendorPayouts(booking.VendorID)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(9800), payouts[0].Amount)
}

func TestHandleTransferFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payout := queuedPayout(t, h, 0)
	_, err := h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	transferID := *h.payoutByID(t, payout.ID).ExternalTransferID

	outcome, err := h.payouts.HandleTransferFailed(ctx, domain.TransferFailedEvent{TransferID: "tr_unknown"})
	require.NoError(t, err)
	assert.Equal(t, "unknown payout", outcome)

	outcome, err = h.payouts.HandleTransferFailed(ctx, domain.TransferFailedEvent{TransferID: "tr_unknown", PayoutID: &payout.ID})
	require.NoError(t, err)
	assert.Equal(t, "no-op", outcome)

	outcome, err = h.payouts.HandleTransferFailed(ctx, domain.TransferFailedEvent{
		EventMeta:  domain.EventMeta{ID: "evt_tr_failed"},
		TransferID: transferID,
		Reason:     "bank rejected",
	})
	require.NoError(t, err)
	assert.Equal(t, "payout retry scheduled", outcome)

	retrying := h.payoutByID(t, payout.ID)
	assert.Equal(t, domain.PayoutPending, retrying.Status)
	assert.Equal(t, 1, retrying.RetryCount)
	require.NotNil(t, retrying.NextAttemptAt)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), *retrying.NextAttemptAt)

	h.clock.Advance(2 * time.Minute)
	_, err = h.payouts.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "payout-"+payout.ID.String()+"-1", transferKeys(h)[1])
}

func TestHandleBankPayout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendorID := uuid.New()
	cfg := h.configureVendor(t, vendorID, true, 0)

	outcome, err := h.payouts.HandleBankPayout(ctx, domain.EventMeta{ID: "evt_po", AccountID: cfg.ProcessorAccountID}, "po_1", 5000, "")
	require.NoError(t, err)
	assert.Equal(t, "bank payout created", outcome)
	assert.Equal(t, 1, h.publisher.count(RoutingBankPayoutCreated))

	outcome, err = h.payouts.HandleBankPayout(ctx, domain.EventMeta{ID: "evt_po_failed", AccountID: cfg.ProcessorAccountID}, "po_2", 0, "account frozen")
	require.NoError(t, err)
	assert.Equal(t, "bank payout failed", outcome)
	assert.Equal(t, 1, h.publisher.count(RoutingBankPayoutFailed))

	outcome, err = h.payouts.HandleBankPayout(ctx, domain.EventMeta{AccountID: "acct_missing"}, "po_3", 100, "")
	require.NoError(t, err)
	assert.Equal(t, "unknown account", outcome)
}

func TestUpsertVendorPayoutConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendorID := uuid.New()
	negative := -1
	negativeMinimum := int64(-5)

	_, err := h.payouts.UpsertVendorPayoutConfig(ctx, vendorID, domain.PayoutConfigRequest{}, "req")
	require.ErrorIs(t, err, domain.NewError(domain.CodeValidation, ""))

	created, err := h.payouts.UpsertVendorPayoutConfig(ctx, vendorID, domain.PayoutConfigRequest{ProcessorAccountID: " acct_1 "}, "req")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", created.ProcessorAccountID)
	assert.True(t, created.AutoPayout)
	assert.True(t, created.PayoutsEnabled)
	assert.Equal(t, time.Duration(0), created.PayoutDelay)
	assert.Equal(t, int64(0), created.MinimumPayoutAmount)

	_, err = h.payouts.UpsertVendorPayoutConfig(ctx, vendorID, domain.PayoutConfigRequest{PayoutDelayHours: &negative}, "req")
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	_, err = h.payouts.UpsertVendorPayoutConfig(ctx, vendorID, domain.PayoutConfigRequest{MinimumPayoutAmount: &negativeMinimum}, "req")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	delay := 24
	auto := false
	updated, err := h.payouts.UpsertVendorPayoutConfig(ctx, vendorID, domain.PayoutConfigRequest{AutoPayout: &auto, PayoutDelayHours: &delay}, "req")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", updated.ProcessorAccountID)
	assert.False(t, updated.AutoPayout)
	assert.Equal(t, 24*time.Hour, updated.PayoutDelay)

	_, err = h.payouts.GetVendorPayoutConfig(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListVendorPayoutsNeverNil(t *testing.T) {
	h := newHarness(t)

	payouts, err := h.payouts.ListVendorPayouts(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.NotNil(t, payouts)
	assert.Empty(t, payouts)
}
