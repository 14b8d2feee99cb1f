// Package errors provides structured errors with stable codes for the
// nucypher-ops CLI and API surfaces.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure independent of its message.
type ErrorCode string

const (
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeUnavailable      ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeProvider         ErrorCode = "PROVIDER_ERROR"
	ErrCodeCredentials      ErrorCode = "MISSING_CREDENTIALS"
	ErrCodeTimeout          ErrorCode = "TIMEOUT"
)

// StructuredError carries an error code and optional context details
// alongside the wrapped cause.
type StructuredError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

func (e *StructuredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StructuredError) Unwrap() error { return e.Err }

// New creates a StructuredError without a cause.
func New(code ErrorCode, message string) *StructuredError {
	return &StructuredError{Code: code, Message: message}
}

// Newf creates a StructuredError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *StructuredError {
	return &StructuredError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a StructuredError wrapping a cause.
func Wrap(code ErrorCode, message string, cause error) *StructuredError {
	return &StructuredError{Code: code, Message: message, Err: cause}
}

// WrapWithContext creates a StructuredError wrapping a cause with context details.
func WrapWithContext(code ErrorCode, message string, cause error, details map[string]any) *StructuredError {
	return &StructuredError{Code: code, Message: message, Details: details, Err: cause}
}

// Code extracts the error code from err, or ErrCodeInternal for plain errors.
func Code(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// Retryable reports whether the failure class is worth retrying.
func Retryable(err error) bool {
	switch Code(err) {
	case ErrCodeUnavailable, ErrCodeTimeout:
		return true
	}
	return false
}

// HTTPStatus maps an error to the HTTP status the ops API should respond with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeUnavailable, ErrCodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
