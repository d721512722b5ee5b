package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and for the HTTP layer.
type Code string

const (
	// CodeInvalid marks malformed or out-of-range input. Rejected before
	// any side effect.
	CodeInvalid Code = "INVALID"

	// CodeNotFound marks a lookup of an unknown order/payment/refund id.
	// No side effect.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict marks a business-rule violation: double driver
	// assignment, payout already processed, refund exceeding the payment,
	// illegal status transition. Safe to retry once the conflicting
	// condition changes.
	CodeConflict Code = "CONFLICT"

	// CodeUpstream marks a failed call to the catalog, the payment
	// provider, or another collaborator. Wraps the underlying message.
	CodeUpstream Code = "UPSTREAM"
)

// Error is the taxonomy carrier used across services.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid builds a CodeInvalid error.
func Invalid(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalid, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a CodeNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a CodeConflict error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Upstream builds a CodeUpstream error wrapping the collaborator failure.
func Upstream(err error, format string, args ...interface{}) *Error {
	return &Error{Code: CodeUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the taxonomy code, or "" for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsInvalid(err error) bool  { return CodeOf(err) == CodeInvalid }
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }
func IsUpstream(err error) bool { return CodeOf(err) == CodeUpstream }
