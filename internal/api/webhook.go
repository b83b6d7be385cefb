package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kamalraji/plan-it-together-sub016/internal/app"
	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
	"github.com/kamalraji/plan-it-together-sub016/pkg/processor"
	"go.uber.org/zap"
)

const maxWebhookBody = 512 << 10

// EventVerifier authenticates and parses a processor delivery.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (domain.ProcessorEvent, error)
}

// EventReconciler applies a verified processor event.
type EventReconciler interface {
	Reconcile(ctx context.Context, ev domain.ProcessorEvent) (app.ReconcileResult, error)
}

// WebhookHandler receives processor webhooks.
type WebhookHandler struct {
	verifier   EventVerifier
	reconciler EventReconciler
	logger     *zap.Logger
}

func NewWebhookHandler(verifier EventVerifier, reconciler EventReconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger.With(zap.String("component", "webhook")),
	}
}

// ServeHTTP answers 401 for a bad signature, 200 for anything the processor should not resend
// and 500 when reconciliation must be retried.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("cannot read webhook body", zap.Error(err))
		writeErrorCode(w, domain.CodeValidation, "cannot read request body")
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, domain.ErrSignatureInvalid):
		h.logger.Warn("invalid webhook signature", zap.String("remote_addr", r.RemoteAddr))
		writeErrorCode(w, domain.CodeSignatureInvalid, domain.ErrSignatureInvalid.Message)
		return
	case errors.Is(err, processor.ErrMalformedEvent):
		h.logger.Error("malformed webhook payload acknowledged", zap.Error(err), zap.ByteString("payload", truncate(body, 2048)))
		writeData(w, http.StatusOK, map[string]string{"outcome": "malformed"})
		return
	case err != nil:
		h.logger.Error("webhook verification failed", zap.Error(err))
		writeError(w, err, scopeSettlement)
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), event)
	if err != nil {
		writeErrorCode(w, domain.CodeInternal, "event could not be processed")
		return
	}
	writeData(w, http.StatusOK, result)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
