/**
 * @description
 * HTTP handlers for the payments API. Handlers decode the request, call the owning service
 * and write the response envelope; every business rule lives in internal/app.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters and request ids.
 * - internal/app, internal/domain: services, DTOs and coded errors.
 */

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"go.uber.org/zap"
)

const maxRequestBody = 1 << 20

// PaymentService is the slice of the payment service the API drives.
type PaymentService interface {
	CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.PaymentRecord, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.PaymentRecord, error)
	ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.PaymentRecord, error)
	ResumePayment(ctx context.Context, id uuid.UUID, requestID string) (*domain.PaymentRecord, error)
	RefundPayment(ctx context.Context, id uuid.UUID, req domain.RefundRequest, requestID string) (*domain.PaymentRecord, error)
	RefundEscrow(ctx context.Context, escrowID uuid.UUID, req domain.EscrowRefundRequest, requestID string) (*domain.EscrowView, error)
}

// EscrowService is the slice of the escrow ledger the API drives.
type EscrowService interface {
	CreateEscrow(ctx context.Context, req domain.CreateEscrowRequest, requestID string) (*domain.EscrowView, error)
	GetEscrow(ctx context.Context, id uuid.UUID) (*domain.EscrowView, error)
	ReleaseMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, source domain.AuditSource, eventID string) (*domain.ReleaseResult, error)
	CompleteMilestone(ctx context.Context, escrowID, milestoneID uuid.UUID, source domain.AuditSource, eventID string) (*domain.EscrowView, error)
}

// PayoutService is the slice of the payout scheduler the API drives.
type PayoutService interface {
	RunOnce(ctx context.Context) (domain.PayoutRunResult, error)
	RequestManualPayout(ctx context.Context, vendorID uuid.UUID, requestID string) (*domain.VendorPayoutConfig, error)
	ListVendorPayouts(ctx context.Context, vendorID uuid.UUID, limit int) ([]domain.PayoutRecord, error)
	GetVendorPayoutConfig(ctx context.Context, vendorID uuid.UUID) (*domain.VendorPayoutConfig, error)
	UpsertVendorPayoutConfig(ctx context.Context, vendorID uuid.UUID, req domain.PayoutConfigRequest, requestID string) (*domain.VendorPayoutConfig, error)
}

// ComplianceService checks vendor documents.
type ComplianceService interface {
	CheckCompliance(ctx context.Context, vendorID uuid.UUID, category string) (domain.ComplianceResult, error)
}

// Handlers holds the services the HTTP handlers use.
type Handlers struct {
	payments   PaymentService
	escrows    EscrowService
	payouts    PayoutService
	compliance ComplianceService
	logger     *zap.Logger
}

func NewHandlers(payments PaymentService, escrows EscrowService, payouts PayoutService, compliance ComplianceService, logger *zap.Logger) *Handlers {
	return &Handlers{
		payments:   payments,
		escrows:    escrows,
		payouts:    payouts,
		compliance: compliance,
		logger:     logger.With(zap.String("component", "api")),
	}
}

// CreatePaymentHandler handles POST /payments. The idempotency key may come from the body or
// the Idempotency-Key header.
func (h *Handlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	payment, err := h.payments.CreatePayment(r.Context(), req)
	if err != nil {
		h.logger.Warn("create payment failed", zap.String("booking_id", req.BookingID.String()), zap.Error(err))
		writeError(w, err, scopePayment)
		return
	}
	writeData(w, http.StatusCreated, payment)
}

// ListPaymentsHandler handles GET /payments?booking_id=&vendor_id=&status=&limit=.
func (h *Handlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var q domain.PaymentQuery
	var ok bool
	if q.BookingID, ok = optionalUUID(w, query.Get("booking_id"), "booking_id"); !ok {
		return
	}
	if q.VendorID, ok = optionalUUID(w, query.Get("vendor_id"), "vendor_id"); !ok {
		return
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.PaymentStatus(strings.ToUpper(raw))
		q.Status = &status
	}
	if q.Limit, ok = queryLimit(w, query.Get("limit")); !ok {
		return
	}

	payments, err := h.payments.ListPayments(r.Context(), q)
	if err != nil {
		writeError(w, err, scopePayment)
		return
	}
	writeData(w, http.StatusOK, payments)
}

// GetPaymentHandler handles GET /payments/{id}.
func (h *Handlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	payment, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		writeError(w, err, scopePayment)
		return
	}
	writeData(w, http.StatusOK, payment)
}

// ResumePaymentHandler handles POST /payments/{id}/resume.
func (h *Handlers) ResumePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	payment, err := h.payments.ResumePayment(r.Context(), id, requestID(r))
	if err != nil {
		writeError(w, err, scopePayment)
		return
	}
	writeData(w, http.StatusOK, payment)
}

// RefundPaymentHandler handles POST /payments/{id}/refunds.
func (h *Handlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.RefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	payment, err := h.payments.RefundPayment(r.Context(), id, req, requestID(r))
	if err != nil {
		h.logger.Warn("payment refund failed", zap.String("payment_id", id.String()), zap.Int64("amount", req.Amount), zap.Error(err))
		writeError(w, err, scopePayment)
		return
	}
	writeData(w, http.StatusOK, payment)
}

// CreateEscrowHandler handles POST /escrows.
func (h *Handlers) CreateEscrowHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateEscrowRequest
	if !h.decode(w, r, &req) {
		return
	}
	escrow, err := h.escrows.CreateEscrow(r.Context(), req, requestID(r))
	if err != nil {
		h.logger.Warn("create escrow failed", zap.String("booking_id", req.BookingID.String()), zap.Error(err))
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusCreated, escrow)
}

// GetEscrowHandler handles GET /escrows/{id}.
func (h *Handlers) GetEscrowHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	escrow, err := h.escrows.GetEscrow(r.Context(), id)
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, escrow)
}

// ReleaseMilestoneHandler handles POST /escrows/{id}/milestones/{milestoneID}/release.
func (h *Handlers) ReleaseMilestoneHandler(w http.ResponseWriter, r *http.Request) {
	escrowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	milestoneID, ok := pathUUID(w, r, "milestoneID")
	if !ok {
		return
	}
	result, err := h.escrows.ReleaseMilestone(r.Context(), escrowID, milestoneID, domain.SourceAPI, requestID(r))
	if err != nil {
		h.logger.Warn("milestone release failed",
			zap.String("escrow_id", escrowID.String()),
			zap.String("milestone_id", milestoneID.String()),
			zap.Error(err),
		)
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, result)
}

// RefundEscrowHandler handles POST /escrows/{id}/refunds. The refund goes through the
// processor against the booking's payments.
func (h *Handlers) RefundEscrowHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.EscrowRefundRequest
	if !h.decode(w, r, &req) {
		return
	}
	escrow, err := h.payments.RefundEscrow(r.Context(), id, req, requestID(r))
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, escrow)
}

// CompleteMilestoneHandler handles POST /internal/escrows/{id}/milestones/{milestoneID}/complete.
func (h *Handlers) CompleteMilestoneHandler(w http.ResponseWriter, r *http.Request) {
	escrowID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	milestoneID, ok := pathUUID(w, r, "milestoneID")
	if !ok {
		return
	}
	escrow, err := h.escrows.CompleteMilestone(r.Context(), escrowID, milestoneID, domain.SourceAPI, requestID(r))
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, escrow)
}

// UpsertPayoutConfigHandler handles PUT /vendors/{vendorID}/payout-config.
func (h *Handlers) UpsertPayoutConfigHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := pathUUID(w, r, "vendorID")
	if !ok {
		return
	}
	var req domain.PayoutConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.payouts.UpsertVendorPayoutConfig(r.Context(), vendorID, req, requestID(r))
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, cfg)
}

// GetPayoutConfigHandler handles GET /vendors/{vendorID}/payout-config.
func (h *Handlers) GetPayoutConfigHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := pathUUID(w, r, "vendorID")
	if !ok {
		return
	}
	cfg, err := h.payouts.GetVendorPayoutConfig(r.Context(), vendorID)
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, cfg)
}

// ListVendorPayoutsHandler handles GET /vendors/{vendorID}/payouts?limit=.
func (h *Handlers) ListVendorPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := pathUUID(w, r, "vendorID")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	payouts, err := h.payouts.ListVendorPayouts(r.Context(), vendorID, limit)
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, payouts)
}

// RequestManualPayoutHandler handles POST /vendors/{vendorID}/payouts/manual.
func (h *Handlers) RequestManualPayoutHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := pathUUID(w, r, "vendorID")
	if !ok {
		return
	}
	cfg, err := h.payouts.RequestManualPayout(r.Context(), vendorID, requestID(r))
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusAccepted, cfg)
}

// ComplianceHandler handles GET /vendors/{vendorID}/compliance?category=.
func (h *Handlers) ComplianceHandler(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := pathUUID(w, r, "vendorID")
	if !ok {
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		writeErrorCode(w, domain.CodeValidation, "category is required")
		return
	}
	result, err := h.compliance.CheckCompliance(r.Context(), vendorID, category)
	if err != nil {
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, result)
}

// RunPayoutsHandler handles POST /internal/payouts/run.
func (h *Handlers) RunPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.payouts.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("manual payout run failed", zap.Error(err))
		writeError(w, err, scopeSettlement)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		h.logger.Debug("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		writeErrorCode(w, domain.CodeValidation, "invalid request body")
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeErrorCode(w, domain.CodeValidation, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(w http.ResponseWriter, raw, name string) (*uuid.UUID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeErrorCode(w, domain.CodeValidation, "invalid "+name)
		return nil, false
	}
	return &id, true
}

func queryLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeErrorCode(w, domain.CodeValidation, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("Idempotency-Key"); id != "" {
		return id
	}
	return middleware.GetReqID(r.Context())
}
