// Package errors defines the application errors used across previewd.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrUnauthorized is returned when a request is missing or carries
	// invalid credentials (missing session header, HMAC mismatch, replay)
	ErrUnauthorized = "unauthorized"

	// ErrNotFound is returned when a resource does not exist. Feature-gate
	// refusals deliberately share this type so they are indistinguishable
	// from a missing route.
	ErrNotFound = "not_found"

	// ErrSessionExpired is returned when a session exists but is past its
	// expiry or already dropped
	ErrSessionExpired = "session_expired"

	// ErrAlreadyClaimed is returned when a provisioning claim loses the
	// compare-and-set race
	ErrAlreadyClaimed = "already_claimed"

	// ErrTooManySessions is returned when the per-IP session cap is reached
	ErrTooManySessions = "too_many_sessions"

	// ErrCapacityExhausted is returned when the schema capacity probe
	// refuses new schemas
	ErrCapacityExhausted = "capacity_exhausted"

	// ErrSchemaNotReady is returned when a tenant request reaches a session
	// whose schema is not in the READY state
	ErrSchemaNotReady = "schema_not_ready"

	// ErrAuthorityUnavailable is returned when the authority cannot be
	// reached or the circuit breaker is open
	ErrAuthorityUnavailable = "authority_unavailable"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewSessionExpiredError creates a new session expired error
func NewSessionExpiredError(message string, cause error) *Error {
	return NewError(ErrSessionExpired, message, cause)
}

// NewAlreadyClaimedError creates a new already claimed error
func NewAlreadyClaimedError(message string, cause error) *Error {
	return NewError(ErrAlreadyClaimed, message, cause)
}

// NewTooManySessionsError creates a new too many sessions error
func NewTooManySessionsError(message string, cause error) *Error {
	return NewError(ErrTooManySessions, message, cause)
}

// NewCapacityExhaustedError creates a new capacity exhausted error
func NewCapacityExhaustedError(message string, cause error) *Error {
	return NewError(ErrCapacityExhausted, message, cause)
}

// NewSchemaNotReadyError creates a new schema not ready error
func NewSchemaNotReadyError(message string, cause error) *Error {
	return NewError(ErrSchemaNotReady, message, cause)
}

// NewAuthorityUnavailableError creates a new authority unavailable error
func NewAuthorityUnavailableError(message string, cause error) *Error {
	return NewError(ErrAuthorityUnavailable, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// TypeOf returns the application error type of err, or ErrInternal when err
// is not an application error.
func TypeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrInternal
}

// IsType checks whether err is an application error of the given type.
func IsType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return IsType(err, ErrInvalidArgument)
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return IsType(err, ErrUnauthorized)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrNotFound)
}

// IsSessionExpired checks if the error is a session expired error
func IsSessionExpired(err error) bool {
	return IsType(err, ErrSessionExpired)
}

// IsAlreadyClaimed checks if the error is an already claimed error
func IsAlreadyClaimed(err error) bool {
	return IsType(err, ErrAlreadyClaimed)
}

// IsTooManySessions checks if the error is a too many sessions error
func IsTooManySessions(err error) bool {
	return IsType(err, ErrTooManySessions)
}

// IsCapacityExhausted checks if the error is a capacity exhausted error
func IsCapacityExhausted(err error) bool {
	return IsType(err, ErrCapacityExhausted)
}

// IsSchemaNotReady checks if the error is a schema not ready error
func IsSchemaNotReady(err error) bool {
	return IsType(err, ErrSchemaNotReady)
}

// IsAuthorityUnavailable checks if the error is an authority unavailable error
func IsAuthorityUnavailable(err error) bool {
	return IsType(err, ErrAuthorityUnavailable)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return IsType(err, ErrInternal)
}

// httpStatus maps error types to HTTP status codes.
var httpStatus = map[string]int{
	ErrInvalidArgument:      http.StatusBadRequest,
	ErrUnauthorized:         http.StatusUnauthorized,
	ErrNotFound:             http.StatusNotFound,
	ErrSessionExpired:       http.StatusGone,
	ErrAlreadyClaimed:       http.StatusConflict,
	ErrTooManySessions:      http.StatusTooManyRequests,
	ErrCapacityExhausted:    http.StatusServiceUnavailable,
	ErrSchemaNotReady:       http.StatusBadRequest,
	ErrAuthorityUnavailable: http.StatusServiceUnavailable,
	ErrInternal:             http.StatusInternalServerError,
}

// stableCode maps error types to the stable codes used in response envelopes.
var stableCode = map[string]string{
	ErrInvalidArgument:      "INVALID_ARGUMENT",
	ErrUnauthorized:         "UNAUTHORIZED",
	ErrNotFound:             "NOT_FOUND",
	ErrSessionExpired:       "SESSION_EXPIRED",
	ErrAlreadyClaimed:       "ALREADY_CLAIMED",
	ErrTooManySessions:      "TOO_MANY_SESSIONS",
	ErrCapacityExhausted:    "CAPACITY_EXHAUSTED",
	ErrSchemaNotReady:       "SCHEMA_NOT_READY",
	ErrAuthorityUnavailable: "AUTHORITY_UNAVAILABLE",
	ErrInternal:             "INTERNAL",
}

// typeForCode is the inverse of stableCode, used when decoding envelopes
// received from the peer process.
var typeForCode = func() map[string]string {
	m := make(map[string]string, len(stableCode))
	for errType, code := range stableCode {
		m[code] = errType
	}
	return m
}()

// FromCode reconstructs an application error from an envelope code and
// message. Unknown codes map to ErrInternal.
func FromCode(code, message string) *Error {
	errType, ok := typeForCode[code]
	if !ok {
		errType = ErrInternal
	}
	return NewError(errType, message, nil)
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	if status, ok := httpStatus[TypeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Code returns the stable envelope code for err.
func Code(err error) string {
	if code, ok := stableCode[TypeOf(err)]; ok {
		return code
	}
	return "INTERNAL"
}
