package models

import (
	"errors"
	"fmt"
)

// Stable error codes returned to callers.
const (
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidPhone        = "INVALID_PHONE"
	CodeInvalidProvider     = "INVALID_PROVIDER"
	CodeFraudDetected       = "FRAUD_DETECTED"
	CodeComplianceViolation = "COMPLIANCE_VIOLATION"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeTransactionDeclined = "TRANSACTION_DECLINED"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeAlreadyRefunded     = "ALREADY_REFUNDED"
	CodeInvalidStatus       = "INVALID_STATUS"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeRefundInProgress    = "REFUND_IN_PROGRESS"
	CodeInvalidPayload      = "INVALID_PAYLOAD"
)

var (
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when a compare-and-swap or unique
	// constraint loses against a concurrent writer.
	ErrConflict = errors.New("conflict")
)

// PaymentError is the structured error surfaced to API callers.
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

func NewPaymentError(code, message, details string) *PaymentError {
	return &PaymentError{Code: code, Message: message, Details: details}
}

// ErrorCode extracts the stable code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Retryable reports whether the same request may be re-submitted as a new
// PaymentRequest after the error.
func Retryable(code string) bool {
	switch code {
	case CodeInvalidAmount, CodeInvalidPhone, CodeInvalidProvider,
		CodeProviderUnavailable, CodeTransactionDeclined:
		return true
	}
	return false
}
