package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInvalid         ErrorCode = "INVALID"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeTokenRevoked    ErrorCode = "TOKEN_REVOKED"
	ErrCodeFingerprint     ErrorCode = "FINGERPRINT_MISMATCH"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeUnavailable     ErrorCode = "UNAVAILABLE"
	ErrCodeInternal        ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain errors. Every validator, registry, cache and limiter outcome
// maps onto this closed set; nothing untyped crosses a component boundary.
var (
	ErrUserNotFound        = NewError(ErrCodeNotFound, "user not found")
	ErrDecisionNotFound    = NewError(ErrCodeNotFound, "decision not cached")
	ErrRevocationNotFound  = NewError(ErrCodeNotFound, "token not revoked")
	ErrInvalidPayload      = NewError(ErrCodeInvalid, "invalid payload")
	ErrInvalidCredentials  = NewError(ErrCodeUnauthenticated, "invalid credentials")
	ErrMalformedToken      = NewError(ErrCodeUnauthenticated, "malformed token")
	ErrInvalidSignature    = NewError(ErrCodeUnauthenticated, "invalid token signature")
	ErrTokenExpired        = NewError(ErrCodeUnauthenticated, "token expired")
	ErrTokenRevoked        = NewError(ErrCodeTokenRevoked, "token revoked")
	ErrReplayDetected      = NewError(ErrCodeTokenRevoked, "rotated token replayed")
	ErrFingerprintMismatch = NewError(ErrCodeFingerprint, "fingerprint mismatch")
	ErrStoreUnavailable    = NewError(ErrCodeUnavailable, "store unavailable")
	ErrAccountInactive     = NewError(ErrCodeForbidden, "account inactive")
	ErrAdminRequired       = NewError(ErrCodeForbidden, "admin privileges required")
)

// RateLimitedError carries the window-remaining hint alongside the rejection.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// NewRateLimited builds a RATE_LIMITED domain error with a retry hint.
func NewRateLimited(retryAfterSeconds int) *Error {
	return WrapError(ErrCodeRateLimited, "rate limit exceeded", &RateLimitedError{RetryAfterSeconds: retryAfterSeconds})
}

// RetryAfter extracts the retry hint from a RATE_LIMITED error, if present.
func RetryAfter(err error) (int, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfterSeconds, true
	}
	return 0, false
}

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the domain classification of err, or ErrCodeInternal for
// anything that escaped the typed set.
func CodeOf(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrCodeInternal
}

// Rejection is the contract exposed to the transport layer. Detailed reasons
// stay server-side for the audit sink; the client only sees the coarse code,
// a generic message and an optional retry hint.
type Rejection struct {
	Code              ErrorCode `json:"code"`
	Message           string    `json:"message"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

// RejectionFor collapses a domain error into the client-facing contract.
func RejectionFor(err error) Rejection {
	switch CodeOf(err) {
	case ErrCodeTokenRevoked:
		return Rejection{Code: ErrCodeTokenRevoked, Message: "authentication failed"}
	case ErrCodeFingerprint:
		return Rejection{Code: ErrCodeFingerprint, Message: "authentication failed"}
	case ErrCodeRateLimited:
		retry, _ := RetryAfter(err)
		return Rejection{Code: ErrCodeRateLimited, Message: "too many requests", RetryAfterSeconds: retry}
	default:
		return Rejection{Code: ErrCodeUnauthenticated, Message: "authentication failed"}
	}
}
