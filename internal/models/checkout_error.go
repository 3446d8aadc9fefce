package models

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure the checkout can surface to a guest
type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "validation_error"
	ErrorKindInvalidRange       ErrorKind = "invalid_range"
	ErrorKindAuthRequired       ErrorKind = "auth_required"
	ErrorKindServiceUnavailable ErrorKind = "service_unavailable"
	ErrorKindConfiguration      ErrorKind = "configuration_error"
	ErrorKindCard               ErrorKind = "card_error"
	ErrorKindMismatch           ErrorKind = "mismatch"
	ErrorKindAlreadyConfirmed   ErrorKind = "already_confirmed"
	ErrorKindReconciliation     ErrorKind = "reconciliation_error"
	ErrorKindNotFound           ErrorKind = "not_found"
	ErrorKindInvalidState       ErrorKind = "invalid_state"
)

// ReconciliationMessage is shown when the card was charged but the booking could not be confirmed
const ReconciliationMessage = "Your payment went through but we could not confirm your booking yet. Please check My Bookings before trying again."

// CheckoutError is the typed error returned by the service clients and stored on a failed session
type CheckoutError struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Err     error             `json:"-"`
}

// NewCheckoutError creates an error of the given kind
func NewCheckoutError(kind ErrorKind, message string) *CheckoutError {
	return &CheckoutError{Kind: kind, Message: message}
}

// WrapCheckoutError creates an error of the given kind around a cause
func WrapCheckoutError(kind ErrorKind, message string, cause error) *CheckoutError {
	return &CheckoutError{Kind: kind, Message: message, Err: cause}
}

// NewCardError carries the processor's decline message verbatim
func NewCardError(code, message string) *CheckoutError {
	return &CheckoutError{Kind: ErrorKindCard, Code: code, Message: message}
}

// NewValidationError builds a validation error carrying field-level messages
func NewValidationError(fields map[string]string) *CheckoutError {
	return &CheckoutError{
		Kind:    ErrorKindValidation,
		Message: "Please correct the highlighted fields",
		Fields:  fields,
	}
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// WithCode sets the machine-readable code
func (e *CheckoutError) WithCode(code string) *CheckoutError {
	e.Code = code
	return e
}

// Retryable reports whether a guest may retry the step that produced this error
func (e *CheckoutError) Retryable() bool {
	switch e.Kind {
	case ErrorKindConfiguration, ErrorKindMismatch, ErrorKindReconciliation, ErrorKindAlreadyConfirmed:
		return false
	default:
		return true
	}
}

// AsCheckoutError extracts a *CheckoutError from an error chain
func AsCheckoutError(err error) (*CheckoutError, bool) {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf returns the error kind, treating untyped errors as service_unavailable
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if ce, ok := AsCheckoutError(err); ok {
		return ce.Kind
	}
	return ErrorKindServiceUnavailable
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	ce, ok := AsCheckoutError(err)
	return ok && ce.Kind == kind
}

// ToCheckoutError normalizes any error into a *CheckoutError
func ToCheckoutError(err error) *CheckoutError {
	if err == nil {
		return nil
	}
	if ce, ok := AsCheckoutError(err); ok {
		return ce
	}
	return WrapCheckoutError(ErrorKindServiceUnavailable, "The service is temporarily unavailable. Please try again.", err)
}
