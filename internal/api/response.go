package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kamalraji/plan-it-together-sub016/internal/domain"
)

const pendingManualReview = "pending manual review"

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code      domain.ErrorCode `json:"code"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
}

// errorScope decides how much of an error message reaches the caller.
type errorScope int

const (
	// scopePayment passes processor reasons through to the payer.
	scopePayment errorScope = iota
	// scopeSettlement hides escrow and payout internals from organizers and vendors.
	scopeSettlement
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeErrorCode(w http.ResponseWriter, code domain.ErrorCode, message string) {
	writeJSON(w, statusFor(code), envelope{Error: &errorBody{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}})
}

func writeError(w http.ResponseWriter, err error, scope errorScope) {
	code := domain.CodeOf(err)
	writeErrorCode(w, code, messageFor(err, code, scope))
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidAmount, domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeDuplicateEscrow, domain.CodeMilestoneNotCompleted, domain.CodeInsufficientHeldFunds,
		domain.CodeRefundExceedsHeld, domain.CodeRefundExceedsRefundable, domain.CodeRefundInProgress,
		domain.CodeInvalidTransition:
		return http.StatusConflict
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeProcessorTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeProcessor:
		return http.StatusBadGateway
	case domain.CodeUnauthorized, domain.CodeSignatureInvalid:
		return http.StatusUnauthorized
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error, code domain.ErrorCode, scope errorScope) string {
	switch code {
	case domain.CodeInternal:
		return "internal server error"
	case domain.CodeConfiguration:
		return "service is misconfigured"
	case domain.CodeInvalidAmount, domain.CodeValidation, domain.CodeNotFound, domain.CodeProcessorTimeout:
		return codedMessage(err)
	}
	if scope == scopeSettlement {
		return pendingManualReview
	}
	return codedMessage(err)
}

func codedMessage(err error) string {
	var coded *domain.Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return err.Error()
}
