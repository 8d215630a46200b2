package api

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failures the engine surfaces to callers.
type ErrorCode string

const (
	ErrNotFound       ErrorCode = "not_found"
	ErrValidation     ErrorCode = "validation"
	ErrTimeout        ErrorCode = "timeout"
	ErrDegradedResult ErrorCode = "degraded_result"
	ErrCircuitOpen    ErrorCode = "circuit_open"
	ErrInternal       ErrorCode = "internal"
	ErrConfiguration  ErrorCode = "configuration"
)

// Error is the engine's boundary error type. Messages never contain
// credentials or document bodies; Details carries structured context such
// as validation field paths or the missing entity kind and id.
type Error struct {
	Code          ErrorCode      `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	cause         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail attaches one structured detail and returns the error for
// chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// NewError constructs an engine error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound constructs a not_found error for a specific entity.
func NotFound(entity, id string) *Error {
	e := NewError(ErrNotFound, "%s %q not found", entity, id)
	return e.WithDetail("entity", entity).WithDetail("id", id)
}

// Validation constructs a validation error for one argument field.
func Validation(field, reason string) *Error {
	e := NewError(ErrValidation, "invalid argument %s: %s", field, reason)
	return e.WithDetail("field", field).WithDetail("reason", reason)
}

// CodeOf extracts the engine error code from err, or internal for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
