/**
 * @description
 * Vendor payout scheduling. Creates payouts from completed payments, gates them on compliance
 * and vendor configuration, initiates transfers and applies transfer outcomes reported by the
 * processor.
 *
 * @notes
 * - Each vendor is processed under a VendorLease, and transfers inside a lease go out one at
 *   a time, so a vendor never has two transfer requests racing for the same payout.
 * - A transfer's idempotency key is derived from the payout id and retry count. A timed-out
 *   attempt leaves the payout PENDING and the next attempt reuses the same key.
 * - Failed transfers retry with exponential backoff until MaxRetries, then stay FAILED.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
	"go.uber.org/zap"
)

// PayoutConfig tunes retries and concurrency of the payout scheduler.
type PayoutConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Workers     int
	LeaseTTL    time.Duration
}

// PayoutBackoff returns min(base × 2^retryCount, limit). A zero limit means uncapped.
func PayoutBackoff(retryCount int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if limit > 0 && delay >= limit {
			return limit
		}
		delay *= 2
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

// ApplyTransferFailure records a failed transfer attempt. The payout returns to PENDING with
// a backoff, or becomes FAILED once retries are exhausted. Settled payouts are unchanged.
func ApplyTransferFailure(p domain.PayoutRecord, reason string, now time.Time, cfg PayoutConfig) (domain.PayoutRecord, bool) {
	if p.Status == domain.PayoutCompleted || p.Status == domain.PayoutFailed {
		return p, false
	}

	p.RetryCount++
	p.FailureReason = &reason
	p.UpdatedAt = now
	if p.RetryCount >= cfg.MaxRetries {
		p.Status = domain.PayoutFailed
		p.NextAttemptAt = nil
		return p, true
	}

	next := now.Add(PayoutBackoff(p.RetryCount, cfg.BaseBackoff, cfg.MaxBackoff))
	p.Status = domain.PayoutPending
	p.NextAttemptAt = &next
	return p, true
}

// ApplyTransferSuccess completes a payout whose transfer the processor confirmed. A payout
// completes at most once; confirmations for other transfers are ignored.
func ApplyTransferSuccess(p domain.PayoutRecord, transferID string, now time.Time) (domain.PayoutRecord, bool) {
	switch p.Status {
	case domain.PayoutProcessing:
		if p.ExternalTransferID != nil && *p.ExternalTransferID != transferID {
			return p, false
		}
	case domain.PayoutPending, domain.PayoutHeld:
		// A timed-out request the processor went on to accept.
		if p.ExternalTransferID != nil {
			return p, false
		}
	default:
		return p, false
	}

	p.Status = domain.PayoutCompleted
	p.ExternalTransferID = &transferID
	p.HeldReason = nil
	p.NextAttemptAt = nil
	p.CompletedAt = &now
	p.UpdatedAt = now
	return p, true
}

// PayoutScheduler initiates vendor transfers and tracks their outcome.
type PayoutScheduler struct {
	repo       PayoutRepository
	vendors    VendorRepository
	compliance ComplianceVerifier
	processor  PaymentProcessor
	lease      VendorLease
	audit      AuditRepository
	signal     *PayoutSignal
	events     eventSink
	cfg        PayoutConfig
	logger     *zap.Logger
	now        Clock
}

// NewPayoutScheduler creates a new PayoutScheduler.
func NewPayoutScheduler(
	repo PayoutRepository,
	vendors VendorRepository,
	compliance ComplianceVerifier,
	processor PaymentProcessor,
	lease VendorLease,
	audit AuditRepository,
	signal *PayoutSignal,
	publisher EventPublisher,
	exchange string,
	cfg PayoutConfig,
	logger *zap.Logger,
) *PayoutScheduler {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	logger = logger.With(zap.String("component", "payout_scheduler"))
	return &PayoutScheduler{
		repo:       repo,
		vendors:    vendors,
		compliance: compliance,
		processor:  processor,
		lease:      lease,
		audit:      audit,
		signal:     signal,
		events:     newEventSink(publisher, exchange, logger),
		cfg:        cfg,
		logger:     logger,
		now:        systemClock,
	}
}

// RunOnce processes every vendor with due or held payouts.
func (s *PayoutScheduler) RunOnce(ctx context.Context) (domain.PayoutRunResult, error) {
	var result domain.PayoutRunResult

	vendorIDs, err := s.repo.ListVendorsWithDuePayouts(ctx, s.now())
	if err != nil {
		return result, fmt.Errorf("list vendors with due payouts: %w", err)
	}
	result.Vendors = len(vendorIDs)
	if len(vendorIDs) == 0 {
		return result, nil
	}

	workers := min(s.cfg.Workers, len(vendorIDs))
	jobs := make(chan uuid.UUID)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for vendorID := range jobs {
				r := s.processVendor(ctx, vendorID)
				mu.Lock()
				addRunResult(&result, r)
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, vendorID := range vendorIDs {
		select {
		case jobs <- vendorID:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("payout run finished",
		zap.Int("vendors", result.Vendors),
		zap.Int("attempted", result.Attempted),
		zap.Int("accepted", result.Accepted),
		zap.Int("failed", result.Failed),
		zap.Int("held", result.Held),
		zap.Int("deferred", result.Deferred),
		zap.Int("skipped", result.Skipped),
	)
	return result, ctx.Err()
}

func addRunResult(total *domain.PayoutRunResult, r domain.PayoutRunResult) {
	total.Attempted += r.Attempted
	total.Accepted += r.Accepted
	total.Failed += r.Failed
	total.Held += r.Held
	total.Deferred += r.Deferred
	total.Skipped += r.Skipped
}

func (s *PayoutScheduler) processVendor(ctx context.Context, vendorID uuid.UUID) domain.PayoutRunResult {
	var r domain.PayoutRunResult
	log := s.logger.With(zap.String("vendor_id", vendorID.String()))

	release, acquired, err := s.lease.Acquire(ctx, vendorID, s.cfg.LeaseTTL)
	if err != nil {
		log.Warn("failed to acquire vendor payout lease", zap.Error(err))
		r.Skipped++
		return r
	}
	if !acquired {
		log.Debug("vendor payouts held by another worker")
		r.Skipped++
		return r
	}
	defer release()

	cfg, err := s.vendors.GetVendorPayoutConfig(ctx, vendorID)
	if err != nil && !errors.Is(err, store.ErrVendorConfigNotFound) {
		log.Error("failed to load vendor payout config", zap.Error(err))
		r.Skipped++
		return r
	}
	if err != nil {
		cfg = nil
	}

	inFlight, err := s.repo.ListVendorPayoutsByStatus(ctx, vendorID, domain.PayoutProcessing)
	if err != nil {
		log.Error("failed to list in-flight payouts", zap.Error(err))
		r.Skipped++
		return r
	}
	if len(inFlight) > 0 {
		log.Debug("vendor has a transfer in flight", zap.String("payout_id", inFlight[0].ID.String()))
		r.Skipped++
		return r
	}

	payouts, err := s.repo.ListVendorPayoutsByStatus(ctx, vendorID, domain.PayoutPending, domain.PayoutHeld)
	if err != nil {
		log.Error("failed to list vendor payouts", zap.Error(err))
		r.Skipped++
		return r
	}

	now := s.now()
	checks := make(map[string]domain.ComplianceResult)
	var eligible []domain.PayoutRecord
	for _, p := range payouts {
		if p.Status == domain.PayoutPending && p.DueAt().After(now) {
			continue
		}

		reason, err := s.holdReason(ctx, p, cfg, checks)
		if err != nil {
			log.Warn("could not evaluate payout", zap.String("payout_id", p.ID.String()), zap.Error(err))
			r.Skipped++
			continue
		}
		if reason != "" {
			if s.hold(ctx, p, reason) {
				r.Held++
			}
			continue
		}

		if p.Status == domain.PayoutHeld {
			resumed, err := s.resume(ctx, p)
			if err != nil {
				log.Error("failed to resume held payout", zap.String("payout_id", p.ID.String()), zap.Error(err))
				r.Skipped++
				continue
			}
			p = *resumed
			if p.Status != domain.PayoutPending || p.DueAt().After(now) {
				continue
			}
		}
		eligible = append(eligible, p)
	}

	manual := cfg != nil && cfg.ManualPayoutRequestedAt != nil
	if len(eligible) == 0 {
		if manual {
			s.clearManualRequest(ctx, vendorID)
		}
		return r
	}

	if !cfg.AutoPayout && !manual {
		r.Deferred += len(eligible)
		return r
	}
	var balance int64
	for _, p := range eligible {
		balance += p.Amount
	}
	if balance < cfg.MinimumPayoutAmount && !manual {
		log.Debug("vendor balance below payout minimum",
			zap.Int64("balance", balance),
			zap.Int64("minimum", cfg.MinimumPayoutAmount),
		)
		r.Deferred += len(eligible)
		return r
	}

	// One transfer in flight per vendor: the run ends at the first accepted or timed out
	// transfer and the transfer.created webhook wakes the worker for the next one.
	drained := true
transfers:
	for i, p := range eligible {
		if ctx.Err() != nil {
			break
		}
		r.Attempted++
		switch s.attempt(ctx, p, *cfg) {
		case attemptAccepted:
			r.Accepted++
			if i < len(eligible)-1 {
				drained = false
				if !manual {
					// The balance already cleared the minimum; keep draining it.
					now := s.now()
					if err := s.vendors.SetManualPayoutRequested(ctx, vendorID, &now); err != nil {
						log.Warn("failed to mark vendor balance for draining", zap.Error(err))
					}
				}
			}
			break transfers
		case attemptFailed:
			r.Failed++
		case attemptDeferred:
			// A timed out transfer may still land; retry it before starting another.
			r.Deferred++
			drained = false
			break transfers
		}
	}

	if manual && drained {
		s.clearManualRequest(ctx, vendorID)
	}
	return r
}

// holdReason returns why a payout may not be transferred yet, or "" when it may.
func (s *PayoutScheduler) holdReason(ctx context.Context, p domain.PayoutRecord, cfg *domain.VendorPayoutConfig, checks map[string]domain.ComplianceResult) (string, error) {
	switch {
	case cfg == nil:
		return "vendor payout configuration missing", nil
	case cfg.ProcessorAccountID == "":
		return "vendor has no processor account", nil
	case !cfg.PayoutsEnabled:
		return "payouts disabled on processor account", nil
	}

	payment, err := s.repo.GetPayment(ctx, p.PaymentID)
	if err != nil {
		return "", err
	}
	if payment.Status != domain.PaymentCompleted {
		return "source payment is " + strings.ToLower(string(payment.Status)), nil
	}

	check, ok := checks[payment.Category]
	if !ok {
		check, err = s.compliance.CheckCompliance(ctx, p.VendorID, payment.Category)
		if err != nil {
			return "", err
		}
		checks[payment.Category] = check
	}
	if !check.Compliant {
		missing := make([]string, len(check.MissingRequirements))
		for i, doc := range check.MissingRequirements {
			missing[i] = string(doc)
		}
		return "missing compliance documents: " + strings.Join(missing, ", "), nil
	}
	return "", nil
}

// hold moves a payout to HELD and reports whether anything changed.
func (s *PayoutScheduler) hold(ctx context.Context, p domain.PayoutRecord, reason string) bool {
	if p.Status == domain.PayoutHeld && p.HeldReason != nil && *p.HeldReason == reason {
		return false
	}

	now := s.now()
	changed := false
	updated, err := s.repo.MutatePayout(ctx, p.ID, func(cur domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error) {
		if cur.Status != domain.PayoutPending && cur.Status != domain.PayoutHeld {
			return cur, nil, store.ErrNoChange
		}
		previous := cur.Status
		cur.Status = domain.PayoutHeld
		cur.HeldReason = &reason
		cur.UpdatedAt = now
		changed = true
		return cur, []domain.AuditEntry{payoutAudit(cur, previous, domain.SourceScheduler, "", reason)}, nil
	})
	if err != nil {
		s.logger.Error("failed to hold payout", zap.String("payout_id", p.ID.String()), zap.Error(err))
		return false
	}
	if !changed {
		return false
	}

	s.logger.Warn("payout held",
		zap.String("payout_id", p.ID.String()),
		zap.String("vendor_id", p.VendorID.String()),
		zap.String("reason", reason),
	)
	if p.Status != domain.PayoutHeld {
		s.events.publish(ctx, RoutingPayoutHeld, payoutPayload(*updated))
	}
	return true
}

func (s *PayoutScheduler) resume(ctx context.Context, p domain.PayoutRecord) (*domain.PayoutRecord, error) {
	now := s.now()
	return s.repo.MutatePayout(ctx, p.ID, func(cur domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error) {
		if cur.Status != domain.PayoutHeld {
			return cur, nil, store.ErrNoChange
		}
		cur.Status = domain.PayoutPending
		cur.HeldReason = nil
		cur.UpdatedAt = now
		return cur, []domain.AuditEntry{payoutAudit(cur, domain.PayoutHeld, domain.SourceScheduler, "", "hold cleared")}, nil
	})
}

type attemptOutcome int

const (
	attemptAccepted attemptOutcome = iota
	attemptFailed
	attemptDeferred
)

func (s *PayoutScheduler) attempt(ctx context.Context, p domain.PayoutRecord, cfg domain.VendorPayoutConfig) attemptOutcome {
	log := s.logger.With(zap.String("payout_id", p.ID.String()), zap.String("vendor_id", p.VendorID.String()))

	result, err := s.processor.CreateTransfer(ctx, domain.TransferRequest{
		PayoutID:           p.ID,
		VendorID:           p.VendorID,
		DestinationAccount: cfg.ProcessorAccountID,
		Amount:             p.Amount,
		Currency:           p.Currency,
		IdempotencyKey:     fmt.Sprintf("payout-%s-%d", p.ID, p.RetryCount),
	})
	now := s.now()

	if err != nil {
		if errors.Is(err, domain.ErrProcessorTimeout) {
			log.Warn("transfer request timed out; payout stays pending", zap.Error(err))
			return attemptDeferred
		}

		reason := err.Error()
		var next domain.PayoutRecord
		_, mErr := s.repo.MutatePayout(ctx, p.ID, func(cur domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error) {
			if cur.Status != domain.PayoutPending {
				return cur, nil, store.ErrNoChange
			}
			cur.LastAttemptAt = &now
			updated, changed := ApplyTransferFailure(cur, reason, now, s.cfg)
			if !changed {
				return cur, nil, store.ErrNoChange
			}
			next = updated
			return updated, []domain.AuditEntry{payoutAudit(updated, cur.Status, domain.SourceScheduler, "", "transfer rejected: "+reason)}, nil
		})
		if mErr != nil {
			log.Error("failed to record rejected transfer", zap.Error(mErr))
			return attemptFailed
		}
		log.Warn("transfer rejected", zap.Int("retry_count", next.RetryCount), zap.Error(err))
		if next.Status == domain.PayoutFailed {
			log.Error("payout failed after exhausting retries; pending manual review")
			s.events.publish(ctx, RoutingPayoutFailed, payoutPayload(next))
		}
		return attemptFailed
	}

	updated, err := s.repo.MutatePayout(ctx, p.ID, func(cur domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error) {
		if cur.Status != domain.PayoutPending {
			return cur, nil, store.ErrNoChange
		}
		previous := cur.Status
		transferID := result.TransferID
		cur.Status = domain.PayoutProcessing
		cur.ExternalTransferID = &transferID
		cur.LastAttemptAt = &now
		cur.NextAttemptAt = nil
		cur.UpdatedAt = now
		return cur, []domain.AuditEntry{payoutAudit(cur, previous, domain.SourceScheduler, "", "transfer "+transferID+" accepted")}, nil
	})
	if err != nil {
		// The processor holds the transfer; the transfer.created webhook carries the payout id
		// and completes the record.
		log.Error("transfer accepted but not recorded", zap.String("transfer_id", result.TransferID), zap.Error(err))
		return attemptAccepted
	}

	log.Info("transfer accepted", zap.String("transfer_id", result.TransferID), zap.Int64("amount", p.Amount))
	s.events.publish(ctx, RoutingPayoutProcessing, payoutPayload(*updated))
	return attemptAccepted
}

func (s *PayoutScheduler) clearManualRequest(ctx context.Context, vendorID uuid.UUID) {
	remaining, err := s.repo.ListVendorPayoutsByStatus(ctx, vendorID, domain.PayoutPending)
	if err != nil {
		s.logger.Warn("failed to check remaining payouts", zap.String("vendor_id", vendorID.String()), zap.Error(err))
		return
	}
	now := s.now()
	for _, p := range remaining {
		if !p.DueAt().After(now) {
			return
		}
	}
	if err := s.vendors.SetManualPayoutRequested(ctx, vendorID, nil); err != nil {
		s.logger.Warn("failed to clear manual payout request", zap.String("vendor_id", vendorID.String()), zap.Error(err))
	}
}

// findPayout locates the payout a transfer event refers to.
func (s *PayoutScheduler) findPayout(ctx context.Context, transferID string, payoutID *uuid.UUID) (*domain.PayoutRecord, error) {
	if transferID != "" {
		p, err := s.repo.GetPayoutByTransferID(ctx, transferID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrPayoutNotFound) {
			return nil, err
		}
	}
	if payoutID != nil {
		return s.repo.GetPayout(ctx, *payoutID)
	}
	return nil, store.ErrPayoutNotFound
}

// HandleTransferCreated completes the payout of a confirmed transfer.
func (s *PayoutScheduler) HandleTransferCreated(ctx context.Context, ev domain.TransferCreatedEvent) (string, error) {
	p, err := s.findPayout(ctx, ev.TransferID, ev.PayoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			s.logger.Warn("transfer event for unknown payout", zap.String("transfer_id", ev.TransferID))
			return "unknown payout", nil
		}
		return "", err
	}

	now := s.now()
	changed := false
	updated, err := s.repo.MutatePayout(ctx, p.ID, func(cur domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error) {
		next, ok := ApplyTransferSuccess(cur, ev.TransferID, now)
		if !ok {
			return cur, nil, store.ErrNoChange
		}
		changed = true
		return next, []domain.AuditEntry{payoutAudit(next, cur.Status, domain.SourceWebhook, ev.ID, "transfer "+ev.TransferID+" confirmed")}, nil
	})
	if err != nil {
		return "", err
	}
	if !changed {
		s.logger.Info("transfer confirmation ignored",
			zap.String("payout_id", p.ID.String()),
			zap.String("status", string(updated.Status)),
		)
		return "no-op", nil
	}

	s.logger.Info("payout completed", zap.String("payout_id", p.ID.String()), zap.String("transfer_id", ev.TransferID))
	s.events.publish(ctx, RoutingPayoutCompleted, payoutPayload(*updated))
	s.signal.Notify()
	return "payout completed", nil
}

// HandleTransferFailed records a failed transfer and schedules the retry.
func (s *PayoutScheduler) HandleTransferFailed(ctx context.Context, ev domain.TransferFailedEvent) (string, error) {
	p, err := s.findPayout(ctx, ev.TransferID, ev.PayoutID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			s.logger.Warn("transfer failure for unknown payout", zap.String("transfer_id", ev.TransferID))
			return "unknown payout", nil
		}
		return "", err
	}

	reason := ev.Reason
	if reason == "" {
		reason = "transfer failed"
	}
	now := s.now()
	changed := false
	updated, err := s.repo.MutatePayout(ctx, p.ID, func(cur domain.PayoutRecord) (domain.PayoutRecord, []domain.AuditEntry, error) {
		if cur.Status != domain.PayoutProcessing || cur.ExternalTransferID == nil || *cur.ExternalTransferID != ev.TransferID {
			return cur, nil, store.ErrNoChange
		}
		next, ok := ApplyTransferFailure(cur, reason, now, s.cfg)
		if !ok {
			return cur, nil, store.ErrNoChange
		}
		changed = true
		return next, []domain.AuditEntry{payoutAudit(next, cur.Status, domain.SourceWebhook, ev.ID, "transfer failed: "+reason)}, nil
	})
	if err != nil {
		return "", err
	}
	if !changed {
		return "no-op", nil
	}

	if updated.Status == domain.PayoutFailed {
		s.logger.Error("payout failed after exhausting retries; pending manual review",
			zap.String("payout_id", p.ID.String()),
			zap.Int("retry_count", updated.RetryCount),
			zap.String("reason", reason),
		)
		s.events.publish(ctx, RoutingPayoutFailed, payoutPayload(*updated))
		return "payout failed", nil
	}
	s.logger.Warn("payout transfer failed; retry scheduled",
		zap.String("payout_id", p.ID.String()),
		zap.Int("retry_count", updated.RetryCount),
		zap.Timep("next_attempt_at", updated.NextAttemptAt),
	)
	return "payout retry scheduled", nil
}

// HandleAccountUpdated mirrors the processor's payouts_enabled flag onto the vendor.
func (s *PayoutScheduler) HandleAccountUpdated(ctx context.Context, ev domain.AccountUpdatedEvent) (string, error) {
	cfg, err := s.vendors.SetVendorPayoutsEnabled(ctx, ev.ProcessorAccountID, ev.PayoutsEnabled, s.now())
	if err != nil {
		if errors.Is(err, store.ErrVendorConfigNotFound) {
			return "unknown account", nil
		}
		return "", err
	}

	status := "payouts_disabled"
	if ev.PayoutsEnabled {
		status = "payouts_enabled"
	}
	s.recordVendorAudit(ctx, cfg.VendorID, status, domain.SourceWebhook, ev.ID, "processor account "+ev.ProcessorAccountID+" updated")
	if ev.PayoutsEnabled {
		s.signal.Notify()
	}
	return status, nil
}

// HandleBankPayout records the processor paying out a vendor's connected account balance.
func (s *PayoutScheduler) HandleBankPayout(ctx context.Context, meta domain.EventMeta, processorPayoutID string, amount int64, failureReason string) (string, error) {
	cfg, err := s.vendors.GetVendorPayoutConfigByAccount(ctx, meta.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrVendorConfigNotFound) {
			return "unknown account", nil
		}
		return "", err
	}

	payload := BankPayoutEventPayload{
		VendorID:          cfg.VendorID,
		ProcessorPayoutID: processorPayoutID,
		Amount:            amount,
		OccurredAt:        s.now(),
	}
	if failureReason != "" {
		s.logger.Warn("vendor bank payout failed",
			zap.String("vendor_id", cfg.VendorID.String()),
			zap.String("processor_payout_id", processorPayoutID),
			zap.String("reason", failureReason),
		)
		s.recordVendorAudit(ctx, cfg.VendorID, "bank_payout_failed", domain.SourceWebhook, meta.ID, failureReason)
		s.events.publish(ctx, RoutingBankPayoutFailed, payload)
		return "bank payout failed", nil
	}

	s.recordVendorAudit(ctx, cfg.VendorID, "bank_payout_created", domain.SourceWebhook, meta.ID, processorPayoutID)
	s.events.publish(ctx, RoutingBankPayoutCreated, payload)
	return "bank payout created", nil
}

// EnqueuePaymentPayout creates the payout for a completed direct payment. It is keyed by
// payment id, so repeating it is a no-op.
func (s *PayoutScheduler) EnqueuePaymentPayout(ctx context.Context, payment domain.PaymentRecord, source domain.AuditSource, eventID string) error {
	cfg, err := s.vendors.GetVendorPayoutConfig(ctx, payment.VendorID)
	if err != nil && !errors.Is(err, store.ErrVendorConfigNotFound) {
		return err
	}

	now := s.now()
	eligibleAt := now
	if cfg != nil && err == nil {
		eligibleAt = now.Add(cfg.PayoutDelay)
	}
	payout := domain.PayoutRecord{
		ID:         uuid.New(),
		VendorID:   payment.VendorID,
		PaymentID:  payment.ID,
		SourceRef:  domain.PaymentSourceRef(payment.ID),
		Amount:     payment.NetAmount,
		Currency:   payment.Currency,
		Status:     domain.PayoutPending,
		EligibleAt: eligibleAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, isNew, err := s.repo.CreatePayout(ctx, payout, []domain.AuditEntry{payoutAudit(payout, "", source, eventID, "queued from payment "+payment.ID.String())})
	if err != nil {
		if errors.Is(err, store.ErrPayoutExceedsEntitlement) {
			s.logger.Warn("payment has no remaining vendor entitlement", zap.String("payment_id", payment.ID.String()))
			return nil
		}
		return err
	}
	if isNew {
		s.logger.Info("payout queued",
			zap.String("payout_id", created.ID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Int64("amount", created.Amount),
		)
		s.signal.Notify()
	}
	return nil
}

// RequestManualPayout lets a vendor bypass the minimum threshold and the auto-payout flag for
// everything currently owed to them.
func (s *PayoutScheduler) RequestManualPayout(ctx context.Context, vendorID uuid.UUID, requestID string) (*domain.VendorPayoutConfig, error) {
	cfg, err := s.vendors.GetVendorPayoutConfig(ctx, vendorID)
	if err != nil {
		return nil, translateStoreError(err)
	}

	if !cfg.AutoPayout {
		payments, err := s.repo.ListUnpaidDirectPayments(ctx, vendorID)
		if err != nil {
			return nil, err
		}
		for _, payment := range payments {
			if err := s.EnqueuePaymentPayout(ctx, payment, domain.SourceAPI, requestID); err != nil {
				return nil, err
			}
		}
	}

	now := s.now()
	if err := s.vendors.SetManualPayoutRequested(ctx, vendorID, &now); err != nil {
		return nil, translateStoreError(err)
	}
	cfg.ManualPayoutRequestedAt = &now
	s.recordVendorAudit(ctx, vendorID, "manual_payout_requested", domain.SourceAPI, requestID, "")
	s.signal.Notify()
	return cfg, nil
}

// ListVendorPayouts returns a vendor's payouts, newest first.
func (s *PayoutScheduler) ListVendorPayouts(ctx context.Context, vendorID uuid.UUID, limit int) ([]domain.PayoutRecord, error) {
	payouts, err := s.repo.ListVendorPayouts(ctx, vendorID, limit)
	if err != nil {
		return nil, err
	}
	if payouts == nil {
		payouts = []domain.PayoutRecord{}
	}
	return payouts, nil
}

// GetVendorPayoutConfig returns a vendor's payout configuration.
func (s *PayoutScheduler) GetVendorPayoutConfig(ctx context.Context, vendorID uuid.UUID) (*domain.VendorPayoutConfig, error) {
	cfg, err := s.vendors.GetVendorPayoutConfig(ctx, vendorID)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return cfg, nil
}

// UpsertVendorPayoutConfig sets up or changes how a vendor is paid. New vendors default to
// automatic payouts with no delay and no minimum.
func (s *PayoutScheduler) UpsertVendorPayoutConfig(ctx context.Context, vendorID uuid.UUID, req domain.PayoutConfigRequest, requestID string) (*domain.VendorPayoutConfig, error) {
	cfg, err := s.vendors.GetVendorPayoutConfig(ctx, vendorID)
	previous := "configured"
	switch {
	case errors.Is(err, store.ErrVendorConfigNotFound):
		previous = ""
		cfg = &domain.VendorPayoutConfig{VendorID: vendorID, AutoPayout: true, PayoutsEnabled: true}
	case err != nil:
		return nil, err
	}

	if account := strings.TrimSpace(req.ProcessorAccountID); account != "" {
		cfg.ProcessorAccountID = account
	}
	if cfg.ProcessorAccountID == "" {
		return nil, domain.NewError(domain.CodeValidation, "processor_account_id is required")
	}
	if req.AutoPayout != nil {
		cfg.AutoPayout = *req.AutoPayout
	}
	if req.PayoutDelayHours != nil {
		if *req.PayoutDelayHours < 0 {
			return nil, domain.NewError(domain.CodeValidation, "payout_delay_hours must not be negative")
		}
		cfg.PayoutDelayHours = *req.PayoutDelayHours
	}
	if req.MinimumPayoutAmount != nil {
		if *req.MinimumPayoutAmount < 0 {
			return nil, domain.NewError(domain.CodeInvalidAmount, "minimum_payout_amount must not be negative")
		}
		cfg.MinimumPayoutAmount = *req.MinimumPayoutAmount
	}
	cfg.PayoutDelay = time.Duration(cfg.PayoutDelayHours) * time.Hour
	cfg.UpdatedAt = s.now()

	audit := []domain.AuditEntry{vendorAudit(vendorID, previous, "configured", domain.SourceAPI, requestID,
		fmt.Sprintf("auto_payout=%t delay_hours=%d minimum=%d", cfg.AutoPayout, cfg.PayoutDelayHours, cfg.MinimumPayoutAmount), cfg.UpdatedAt)}
	saved, err := s.vendors.UpsertVendorPayoutConfig(ctx, *cfg, audit)
	if err != nil {
		return nil, err
	}
	s.signal.Notify()
	return saved, nil
}

func (s *PayoutScheduler) recordVendorAudit(ctx context.Context, vendorID uuid.UUID, status string, source domain.AuditSource, eventID, detail string) {
	if s.audit == nil {
		return
	}
	entry := vendorAudit(vendorID, "", status, source, eventID, detail, s.now())
	if err := s.audit.RecordAudit(ctx, entry); err != nil {
		s.logger.Warn("failed to record vendor audit entry", zap.String("vendor_id", vendorID.String()), zap.Error(err))
	}
}

func vendorAudit(vendorID uuid.UUID, previous, next string, source domain.AuditSource, eventID, detail string, at time.Time) domain.AuditEntry {
	return domain.AuditEntry{
		ID:             uuid.New(),
		EntityType:     domain.AuditVendor,
		EntityID:       vendorID,
		PreviousStatus: previous,
		NewStatus:      next,
		EventID:        eventID,
		Source:         source,
		Detail:         detail,
		CreatedAt:      at,
	}
}

func payoutAudit(p domain.PayoutRecord, previous domain.PayoutStatus, source domain.AuditSource, eventID, detail string) domain.AuditEntry {
	return domain.AuditEntry{
		ID:             uuid.New(),
		EntityType:     domain.AuditPayout,
		EntityID:       p.ID,
		PreviousStatus: string(previous),
		NewStatus:      string(p.Status),
		EventID:        eventID,
		Source:         source,
		Detail:         detail,
		CreatedAt:      p.UpdatedAt,
	}
}
