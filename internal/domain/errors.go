/**
 * @description
 * Coded errors shared by the service, store and API layers. Every error that can reach a
 * caller carries a machine-readable code; the API layer turns the code into an HTTP status
 * and an error envelope.
 */

package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable identifier returned to API callers.
type ErrorCode string

const (
	CodeInvalidAmount           ErrorCode = "INVALID_AMOUNT"
	CodeValidation              ErrorCode = "VALIDATION_ERROR"
	CodeConfiguration           ErrorCode = "CONFIGURATION_ERROR"
	CodeNotFound                ErrorCode = "NOT_FOUND"
	CodeDuplicateEscrow         ErrorCode = "DUPLICATE_ESCROW"
	CodeMilestoneNotCompleted   ErrorCode = "MILESTONE_NOT_COMPLETED"
	CodeInsufficientHeldFunds   ErrorCode = "INSUFFICIENT_HELD_FUNDS"
	CodeRefundExceedsHeld       ErrorCode = "REFUND_EXCEEDS_HELD"
	CodeRefundExceedsRefundable ErrorCode = "REFUND_EXCEEDS_REFUNDABLE"
	CodeRefundInProgress        ErrorCode = "REFUND_IN_PROGRESS"
	CodeInvalidTransition       ErrorCode = "INVALID_STATE_TRANSITION"
	CodeProcessorTimeout        ErrorCode = "PROCESSOR_TIMEOUT"
	CodeProcessor               ErrorCode = "PROCESSOR_ERROR"
	CodeSignatureInvalid        ErrorCode = "SIGNATURE_INVALID"
	CodeUnauthorized            ErrorCode = "UNAUTHORIZED"
	CodeRateLimited             ErrorCode = "RATE_LIMITED"
	CodeInternal                ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error. Two errors match under errors.Is when their codes are equal,
// so wrapped instances still compare against the package sentinels.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a coded error with a formatted message.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first coded error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

var (
	ErrInvalidAmount           = NewError(CodeInvalidAmount, "amount must be greater than zero")
	ErrConfiguration           = NewError(CodeConfiguration, "commission configuration is incomplete")
	ErrNotFound                = NewError(CodeNotFound, "resource not found")
	ErrDuplicateEscrow         = NewError(CodeDuplicateEscrow, "escrow already exists for booking")
	ErrMilestoneNotCompleted   = NewError(CodeMilestoneNotCompleted, "milestone is not completed")
	ErrInsufficientHeldFunds   = NewError(CodeInsufficientHeldFunds, "insufficient held funds")
	ErrRefundExceedsHeld       = NewError(CodeRefundExceedsHeld, "refund exceeds held amount")
	ErrRefundExceedsRefundable = NewError(CodeRefundExceedsRefundable, "refund exceeds refundable amount")
	ErrRefundInProgress        = NewError(CodeRefundInProgress, "another refund is in progress for this payment")
	ErrInvalidTransition       = NewError(CodeInvalidTransition, "invalid state transition")
	ErrProcessorTimeout        = NewError(CodeProcessorTimeout, "payment processor timed out; retry the request")
	ErrProcessor               = NewError(CodeProcessor, "payment processor rejected the request")
	ErrSignatureInvalid        = NewError(CodeSignatureInvalid, "webhook signature verification failed")
)
