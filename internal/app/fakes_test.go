package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for the Postgres repository. A single mutex plays the
// role of the row locks, and the uniqueness rules mirror the schema's constraints.
type memStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]domain.PaymentRecord
	escrows  map[uuid.UUID]domain.EscrowView
	ledger   map[string]domain.LedgerEntry
	payouts  map[uuid.UUID]domain.PayoutRecord
	vendors  map[uuid.UUID]domain.VendorPayoutConfig
	webhooks map[string]domain.WebhookEventStatus
	audit    []domain.AuditEntry

	mutatePaymentErr error
	mutateEscrowErr  error
	beginWebhookErr  error
}

func newMemStore() *memStore {
	return &memStore{
		payments: make(map[uuid.UUID]domain.PaymentRecord),
		escrows:  make(map[uuid.UUID]domain.EscrowView),
		ledger:   make(map[string]domain.LedgerEntry),
		payouts:  make(map[uuid.UUID]domain.PayoutRecord),
		vendors:  make(map[uuid.UUID]domain.VendorPayoutConfig),
		webhooks: make(map[string]domain.WebhookEventStatus),
	}
}

func copyView(v domain.EscrowView) domain.EscrowView {
	v.Milestones = append([]domain.Milestone(nil), v.Milestones...)
	return v
}

func ledgerKey(e domain.LedgerEntry) string {
	return string(e.Kind) + "|" + e.Reference
}

// --- payments ---

func (s *memStore) CreatePayment(_ context.Context, p domain.PaymentRecord, audit []domain.AuditEntry) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.IdempotencyKey == p.IdempotencyKey {
			return nil, store.ErrDuplicatePayment
		}
	}
	p.RefundedAmount = 0
	s.payments[p.ID] = p
	s.audit = append(s.audit, audit...)
	return &p, nil
}

// putPayment seeds a payment in any state.
func (s *memStore) putPayment(p domain.PaymentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
}

func (s *memStore) GetPayment(_ context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return &p, nil
}

func (s *memStore) GetPaymentByIdempotencyKey(_ context.Context, key string) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (s *memStore) GetPaymentByExternalID(_ context.Context, transactionID string) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ExternalTransactionID != nil && *p.ExternalTransactionID == transactionID {
			return &p, nil
		}
	}
	return nil, store.ErrPaymentNotFound
}

func (s *memStore) ListPayments(_ context.Context, q domain.PaymentQuery) ([]domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentRecord
	for _, p := range s.payments {
		if q.BookingID != nil && p.BookingID != *q.BookingID {
			continue
		}
		if q.VendorID != nil && p.VendorID != *q.VendorID {
			continue
		}
		if q.Status != nil && p.Status != *q.Status {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListStalePayments(_ context.Context, status domain.PaymentStatus, olderThan time.Time, limit int) ([]domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentRecord
	for _, p := range s.payments {
		if p.Status != status {
			continue
		}
		since := p.UpdatedAt
		if p.RequiresActionAt != nil {
			since = *p.RequiresActionAt
		}
		if since.Before(olderThan) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListUnpaidDirectPayments(_ context.Context, vendorID uuid.UUID) ([]domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paid := make(map[string]bool)
	for _, po := range s.payouts {
		paid[po.SourceRef] = true
	}
	var out []domain.PaymentRecord
	for _, p := range s.payments {
		if p.VendorID == vendorID && p.Status == domain.PaymentCompleted && !p.Escrowed && !paid[domain.PaymentSourceRef(p.ID)] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) MutatePayment(_ context.Context, id uuid.UUID, fn store.PaymentMutation) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutatePaymentErr != nil {
		return nil, s.mutatePaymentErr
	}
	current, ok := s.payments[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	next, audit, err := fn(current)
	if err != nil {
		if err == store.ErrNoChange {
			return &current, nil
		}
		return nil, err
	}
	if current.ExternalTransactionID != nil {
		next.ExternalTransactionID = current.ExternalTransactionID
	}
	s.payments[id] = next
	s.audit = append(s.audit, audit...)
	return &next, nil
}

func (s *memStore) FindFundingPayment(_ context.Context, bookingID, milestoneID uuid.UUID) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []domain.PaymentRecord
	for _, p := range s.payments {
		if p.BookingID != bookingID || !p.Escrowed {
			continue
		}
		if p.Status != domain.PaymentCompleted && p.Status != domain.PaymentRefunded {
			continue
		}
		if p.MilestoneID != nil && *p.MilestoneID != milestoneID {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return nil, store.ErrPaymentNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		iExact := candidates[i].MilestoneID != nil
		jExact := candidates[j].MilestoneID != nil
		if iExact != jExact {
			return iExact
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return &candidates[0], nil
}

// --- escrow ---

func (s *memStore) CreateEscrow(_ context.Context, view domain.EscrowView, ledger []domain.LedgerEntry, audit []domain.AuditEntry) (*domain.EscrowView, error) {
	if err := view.CheckBalanced(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.escrows {
		if existing.BookingID == view.BookingID {
			return nil, store.ErrDuplicateEscrow
		}
	}
	if err := s.insertLedgerLocked(ledger); err != nil {
		return nil, err
	}
	s.escrows[view.ID] = copyView(view)
	s.audit = append(s.audit, audit...)
	out := copyView(view)
	return &out, nil
}

func (s *memStore) GetEscrow(_ context.Context, id uuid.UUID) (*domain.EscrowView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.escrows[id]
	if !ok {
		return nil, store.ErrEscrowNotFound
	}
	out := copyView(v)
	return &out, nil
}

func (s *memStore) GetEscrowByBooking(_ context.Context, bookingID uuid.UUID) (*domain.EscrowView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.escrows {
		if v.BookingID == bookingID {
			out := copyView(v)
			return &out, nil
		}
	}
	return nil, store.ErrEscrowNotFound
}

func (s *memStore) MutateEscrow(_ context.Context, id uuid.UUID, fn store.EscrowMutation) (*domain.EscrowView, *domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutateEscrowErr != nil {
		return nil, nil, s.mutateEscrowErr
	}
	current, ok := s.escrows[id]
	if !ok {
		return nil, nil, store.ErrEscrowNotFound
	}
	view := copyView(current)
	change, err := fn(&view)
	if err != nil {
		if err == store.ErrNoChange {
			unchanged := copyView(current)
			return &unchanged, nil, nil
		}
		return nil, nil, err
	}
	if err := view.CheckBalanced(); err != nil {
		return nil, nil, err
	}
	if err := s.insertLedgerLocked(change.Ledger); err != nil {
		return nil, nil, err
	}

	var payout *domain.PayoutRecord
	if change.Payout != nil {
		var created bool
		payout, created, err = s.insertPayoutLocked(*change.Payout)
		if err != nil && err != store.ErrPayoutExceedsEntitlement {
			return nil, nil, err
		}
		if created {
			s.audit = append(s.audit, change.PayoutAudit...)
		}
	}

	s.escrows[id] = copyView(view)
	s.audit = append(s.audit, change.Audit...)
	return &view, payout, nil
}

func (s *memStore) insertLedgerLocked(entries []domain.LedgerEntry) error {
	for _, e := range entries {
		if _, exists := s.ledger[ledgerKey(e)]; exists {
			return store.ErrDuplicateLedgerEntry
		}
	}
	for _, e := range entries {
		s.ledger[ledgerKey(e)] = e
	}
	return nil
}

func (s *memStore) ledgerEntries(escrowID uuid.UUID) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range s.ledger {
		if e.EscrowID == escrowID {
			out = append(out, e)
		}
	}
	return out
}

// --- payouts ---

func (s *memStore) insertPayoutLocked(p domain.PayoutRecord) (*domain.PayoutRecord, bool, error) {
	for _, existing := range s.payouts {
		if existing.SourceRef == p.SourceRef {
			return &existing, false, nil
		}
	}
	payment, ok := s.payments[p.PaymentID]
	if !ok {
		return nil, false, store.ErrPaymentNotFound
	}
	entitled := max(payment.NetAmount-payment.RefundedAmount, 0)
	var committed int64
	for _, existing := range s.payouts {
		if existing.PaymentID == p.PaymentID && existing.Status != domain.PayoutFailed {
			committed += existing.Amount
		}
	}
	remaining := entitled - committed
	if remaining <= 0 {
		return nil, false, store.ErrPayoutExceedsEntitlement
	}
	if p.Amount > remaining {
		p.Amount = remaining
	}
	p.RetryCount = 0
	p.UpdatedAt = p.CreatedAt
	s.payouts[p.ID] = p
	return &p, true, nil
}

func (s *memStore) CreatePayout(_ context.Context, p domain.PayoutRecord, audit []domain.AuditEntry) (*domain.PayoutRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payout, created, err := s.insertPayoutLocked(p)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.audit = append(s.audit, audit...)
	}
	return payout, created, nil
}

func (s *memStore) GetPayout(_ context.Context, id uuid.UUID) (*domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, store.ErrPayoutNotFound
	}
	return &p, nil
}

func (s *memStore) GetPayoutByTransferID(_ context.Context, transferID string) (*domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payouts {
		if p.ExternalTransferID != nil && *p.ExternalTransferID == transferID {
			return &p, nil
		}
	}
	return nil, store.ErrPayoutNotFound
}

func (s *memStore) ListVendorPayouts(_ context.Context, vendorID uuid.UUID, limit int) ([]domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PayoutRecord
	for _, p := range s.payouts {
		if p.VendorID == vendorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListVendorPayoutsByStatus(_ context.Context, vendorID uuid.UUID, statuses ...domain.PayoutStatus) ([]domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[domain.PayoutStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var out []domain.PayoutRecord
	for _, p := range s.payouts {
		if p.VendorID == vendorID && wanted[p.Status] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EligibleAt.Equal(out[j].EligibleAt) {
			return out[i].EligibleAt.Before(out[j].EligibleAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) ListVendorsWithDuePayouts(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, p := range s.payouts {
		due := p.Status == domain.PayoutHeld ||
			(p.Status == domain.PayoutPending && !p.EligibleAt.After(now) && (p.NextAttemptAt == nil || !p.NextAttemptAt.After(now)))
		if due && !seen[p.VendorID] {
			seen[p.VendorID] = true
			out = append(out, p.VendorID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *memStore) MutatePayout(_ context.Context, id uuid.UUID, fn store.PayoutMutation) (*domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.payouts[id]
	if !ok {
		return nil, store.ErrPayoutNotFound
	}
	next, audit, err := fn(current)
	if err != nil {
		if err == store.ErrNoChange {
			return &current, nil
		}
		return nil, err
	}
	s.payouts[id] = next
	s.audit = append(s.audit, audit...)
	return &next, nil
}

func (s *memStore) vendorPayouts(vendorID uuid.UUID) []domain.PayoutRecord {
	out, _ := s.ListVendorPayouts(context.Background(), vendorID, 100)
	return out
}

// --- vendors ---

func (s *memStore) GetVendorPayoutConfig(_ context.Context, vendorID uuid.UUID) (*domain.VendorPayoutConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.vendors[vendorID]
	if !ok {
		return nil, store.ErrVendorConfigNotFound
	}
	return &c, nil
}

func (s *memStore) GetVendorPayoutConfigByAccount(_ context.Context, processorAccountID string) (*domain.VendorPayoutConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.vendors {
		if c.ProcessorAccountID == processorAccountID {
			return &c, nil
		}
	}
	return nil, store.ErrVendorConfigNotFound
}

func (s *memStore) UpsertVendorPayoutConfig(_ context.Context, cfg domain.VendorPayoutConfig, audit []domain.AuditEntry) (*domain.VendorPayoutConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.vendors[cfg.VendorID]; ok {
		cfg.PayoutsEnabled = existing.PayoutsEnabled
		cfg.ManualPayoutRequestedAt = existing.ManualPayoutRequestedAt
	}
	cfg.PayoutDelay = time.Duration(cfg.PayoutDelayHours) * time.Hour
	s.vendors[cfg.VendorID] = cfg
	s.audit = append(s.audit, audit...)
	return &cfg, nil
}

func (s *memStore) SetVendorPayoutsEnabled(_ context.Context, processorAccountID string, enabled bool, at time.Time) (*domain.VendorPayoutConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.vendors {
		if c.ProcessorAccountID == processorAccountID {
			c.PayoutsEnabled = enabled
			c.UpdatedAt = at
			s.vendors[id] = c
			return &c, nil
		}
	}
	return nil, store.ErrVendorConfigNotFound
}

func (s *memStore) SetManualPayoutRequested(_ context.Context, vendorID uuid.UUID, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.vendors[vendorID]
	if !ok {
		return store.ErrVendorConfigNotFound
	}
	c.ManualPayoutRequestedAt = at
	s.vendors[vendorID] = c
	return nil
}

// --- webhook events and audit ---

func (s *memStore) BeginWebhookEvent(_ context.Context, eventID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginWebhookErr != nil {
		return false, s.beginWebhookErr
	}
	status, ok := s.webhooks[eventID]
	if !ok {
		s.webhooks[eventID] = domain.WebhookReceived
		return false, nil
	}
	return status == domain.WebhookProcessed, nil
}

func (s *memStore) FinishWebhookEvent(_ context.Context, eventID string, status domain.WebhookEventStatus, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[eventID] = status
	return nil
}

func (s *memStore) RecordAudit(_ context.Context, entries ...domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entries...)
	return nil
}

func (s *memStore) auditFor(entityID uuid.UUID) []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

// fakeProcessor records every call. Errors queued in transferErrs are returned in order
// before transfers start succeeding.
type fakeProcessor struct {
	mu            sync.Mutex
	seq           int
	intentErr     error
	intentStatus  domain.IntentStatus
	intentReason  string
	intents       map[string]domain.PaymentIntentResult
	intentCalls   []domain.PaymentIntentRequest
	getIntentErr  error
	cancelled     []string
	refunds       []domain.RefundInstruction
	refundKeys    map[string]domain.RefundResult
	refundErr     error
	beforeRefund  func(domain.RefundInstruction)
	transfers     []domain.TransferRequest
	transferErrs  []error
	alwaysFailing error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		intentStatus: domain.IntentProcessing,
		intents:      make(map[string]domain.PaymentIntentResult),
		refundKeys:   make(map[string]domain.RefundResult),
	}
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, req domain.PaymentIntentRequest) (domain.PaymentIntentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intentCalls = append(f.intentCalls, req)
	if f.intentErr != nil {
		return domain.PaymentIntentResult{}, f.intentErr
	}
	result := domain.PaymentIntentResult{
		TransactionID: "pi_" + req.PaymentID.String(),
		ClientSecret:  "secret_" + req.PaymentID.String(),
		Status:        f.intentStatus,
		FailureReason: f.intentReason,
	}
	f.intents[result.TransactionID] = result
	return result, nil
}

func (f *fakeProcessor) setIntentStatus(transactionID string, status domain.IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[transactionID] = domain.PaymentIntentResult{TransactionID: transactionID, Status: status}
}

func (f *fakeProcessor) GetPaymentIntent(_ context.Context, transactionID string) (domain.PaymentIntentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getIntentErr != nil {
		return domain.PaymentIntentResult{}, f.getIntentErr
	}
	result, ok := f.intents[transactionID]
	if !ok {
		return domain.PaymentIntentResult{}, domain.Errorf(domain.CodeProcessor, "no such payment_intent: %s", transactionID)
	}
	return result, nil
}

func (f *fakeProcessor) CancelPaymentIntent(_ context.Context, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, transactionID)
	return nil
}

// Refund replays the result of an earlier call with the same idempotency key, as Stripe
// does. beforeRefund runs once, outside the lock, ahead of the next call.
func (f *fakeProcessor) Refund(_ context.Context, req domain.RefundInstruction) (domain.RefundResult, error) {
	f.mu.Lock()
	hook := f.beforeRefund
	f.beforeRefund = nil
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return domain.RefundResult{}, f.refundErr
	}
	if result, ok := f.refundKeys[req.IdempotencyKey]; ok {
		return result, nil
	}
	f.refunds = append(f.refunds, req)
	f.seq++
	result := domain.RefundResult{RefundID: fmt.Sprintf("re_%d", f.seq), Status: "succeeded"}
	f.refundKeys[req.IdempotencyKey] = result
	return result, nil
}

func (f *fakeProcessor) refundCalls() []domain.RefundInstruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RefundInstruction(nil), f.refunds...)
}

func (f *fakeProcessor) CreateTransfer(_ context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, req)
	if f.alwaysFailing != nil {
		return domain.TransferResult{}, f.alwaysFailing
	}
	if len(f.transferErrs) > 0 {
		err := f.transferErrs[0]
		f.transferErrs = f.transferErrs[1:]
		return domain.TransferResult{}, err
	}
	f.seq++
	return domain.TransferResult{TransferID: fmt.Sprintf("tr_%d", f.seq)}, nil
}

func (f *fakeProcessor) transferCalls() []domain.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TransferRequest(nil), f.transfers...)
}

type fakeBookings struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]domain.Booking
	statuses map[uuid.UUID][]string
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{bookings: make(map[uuid.UUID]domain.Booking), statuses: make(map[uuid.UUID][]string)}
}

func (f *fakeBookings) GetBooking(_ context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[bookingID]
	if !ok {
		return nil, domain.NewError(domain.CodeNotFound, "booking not found")
	}
	return &b, nil
}

func (f *fakeBookings) UpdateBookingStatus(_ context.Context, bookingID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[bookingID] = append(f.statuses[bookingID], status)
	return nil
}

func (f *fakeBookings) statusUpdates(bookingID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statuses[bookingID]...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) Publish(_ context.Context, _, routingKey string, _ interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, routingKey)
	return nil
}

func (f *fakePublisher) count(routingKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == routingKey {
			n++
		}
	}
	return n
}

// fakeCompliance reports every vendor compliant unless listed in missing.
type fakeCompliance struct {
	mu      sync.Mutex
	missing map[uuid.UUID][]domain.DocumentType
	calls   int
}

func (f *fakeCompliance) CheckCompliance(_ context.Context, vendorID uuid.UUID, category string) (domain.ComplianceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	missing := f.missing[vendorID]
	return domain.ComplianceResult{
		VendorID:            vendorID,
		Category:            category,
		RiskTier:            RiskTierFor(category),
		Compliant:           len(missing) == 0,
		MissingRequirements: append([]domain.DocumentType{}, missing...),
	}, nil
}

func (f *fakeCompliance) setMissing(vendorID uuid.UUID, docs ...domain.DocumentType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing == nil {
		f.missing = make(map[uuid.UUID][]domain.DocumentType)
	}
	f.missing[vendorID] = docs
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testPayoutConfig = PayoutConfig{
	MaxRetries:  3,
	BaseBackoff: time.Minute,
	MaxBackoff:  time.Hour,
	Workers:     2,
	LeaseTTL:    time.Minute,
}

// harness wires every service against the in-memory fakes.
type harness struct {
	store      *memStore
	processor  *fakeProcessor
	bookings   *fakeBookings
	publisher  *fakePublisher
	compliance *fakeCompliance
	clock      *testClock
	signal     *PayoutSignal
	lease      *LocalVendorLease
	commission *CommissionCalculator
	payments   *PaymentService
	escrow     *EscrowLedger
	payouts    *PayoutScheduler
	reconciler *Reconciler
	consumer   *BookingEventConsumer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      newMemStore(),
		processor:  newFakeProcessor(),
		bookings:   newFakeBookings(),
		publisher:  &fakePublisher{},
		compliance: &fakeCompliance{},
		clock:      &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)},
		signal:     NewPayoutSignal(),
		lease:      NewLocalVendorLease(),
	}
	logger := zap.NewNop()

	commission, err := NewCommissionCalculator(DefaultCommissionTiers())
	require.NoError(t, err)
	h.commission = commission

	h.lease.now = h.clock.Now
	h.payouts = NewPayoutScheduler(h.store, h.store, h.compliance, h.processor, h.lease, h.store, h.signal, h.publisher, "", testPayoutConfig, logger)
	h.payouts.now = h.clock.Now
	h.escrow = NewEscrowLedger(h.store, h.store, h.bookings, commission, h.signal, h.publisher, "", logger)
	h.escrow.now = h.clock.Now
	h.payments = NewPaymentService(h.store, h.store, h.store, h.bookings, h.processor, commission, h.escrow, h.payouts, h.publisher, "", PaymentConfig{
		RequiresActionTTL:    24 * time.Hour,
		ProcessingStaleAfter: 30 * time.Minute,
		SweepBatchSize:       10,
		StatusQueryAttempts:  2,
	}, logger)
	h.payments.now = h.clock.Now
	h.reconciler = NewReconciler(h.store, h.payments, h.payouts, logger)
	h.consumer = NewBookingEventConsumer(h.payments, h.escrow, logger)
	return h
}

// addBooking registers a booking with the booking fake. Milestone amounts make it an escrow
// booking.
func (h *harness) addBooking(category string, amount int64, milestones ...int64) domain.Booking {
	b := domain.Booking{
		ID:          uuid.New(),
		OrganizerID: uuid.New(),
		VendorID:    uuid.New(),
		Category:    category,
		Amount:      amount,
		Currency:    "usd",
		Status:      "ACCEPTED",
	}
	for _, m := range milestones {
		b.Milestones = append(b.Milestones, domain.BookingMilestone{ID: uuid.New(), Amount: m})
	}
	h.bookings.mu.Lock()
	h.bookings.bookings[b.ID] = b
	h.bookings.mu.Unlock()
	return b
}

func (h *harness) configureVendor(t *testing.T, vendorID uuid.UUID, autoPayout bool, minimum int64) domain.VendorPayoutConfig {
	t.Helper()
	cfg, err := h.payouts.UpsertVendorPayoutConfig(context.Background(), vendorID, domain.PayoutConfigRequest{
		ProcessorAccountID:  "acct_" + vendorID.String()[:8],
		AutoPayout:          &autoPayout,
		MinimumPayoutAmount: &minimum,
	}, "setup")
	require.NoError(t, err)
	return *cfg
}

// completePayment creates a payment for the booking and reports it succeeded.
func (h *harness) completePayment(t *testing.T, booking domain.Booking, milestoneID *uuid.UUID) domain.PaymentRecord {
	t.Helper()
	ctx := context.Background()
	p, err := h.payments.CreatePayment(ctx, domain.CreatePaymentRequest{
		BookingID:      booking.ID,
		MilestoneID:    milestoneID,
		IdempotencyKey: "idem-" + uuid.NewString(),
	})
	require.NoError(t, err)
	require.NotNil(t, p.ExternalTransactionID)

	updated, decision, err := h.payments.ApplyEvent(ctx, p.ID, PaymentSucceeded{TransactionID: *p.ExternalTransactionID}, EventContext{EventID: "evt_success_" + p.ID.String(), Source: domain.SourceWebhook})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, decision.Outcome)
	require.Equal(t, domain.PaymentCompleted, updated.Status)
	return *updated
}

func (h *harness) payment(t *testing.T, id uuid.UUID) domain.PaymentRecord {
	t.Helper()
	p, err := h.store.GetPayment(context.Background(), id)
	require.NoError(t, err)
	return *p
}

func (h *harness) escrowFor(t *testing.T, bookingID uuid.UUID) domain.EscrowView {
	t.Helper()
	v, err := h.store.GetEscrowByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	return *v
}

func (h *harness) payoutByID(t *testing.T, id uuid.UUID) domain.PayoutRecord {
	t.Helper()
	p, err := h.store.GetPayout(context.Background(), id)
	require.NoError(t, err)
	return *p
}
