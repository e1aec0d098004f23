// Package api defines the gateway's response envelope and the typed error
// taxonomy. Every failure that reaches a client is mapped through this
// package; no raw transport error ever leaves the gateway unformatted.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. These are the only codes a client will ever see.
const (
	CodeMissingTimestamp      = "MISSING_TIMESTAMP"
	CodeMissingSignature      = "MISSING_SIGNATURE"
	CodeSignatureMismatch     = "SIGNATURE_MISMATCH"
	CodeTimestampExpired      = "TIMESTAMP_EXPIRED"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeUnknownBrick          = "UNKNOWN_BRICK"
	CodeRateLimited           = "RATE_LIMITED"
	CodeTimeout               = "TIMEOUT"
	CodeUpstream5xx           = "UPSTREAM_5XX"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeQuotaExceeded         = "QUOTA_EXCEEDED"
	CodeInternal              = "INTERNAL"
)

// Error is the typed error carried through every layer of the pipeline.
// Clients branch only on Code and Retryable.
type Error struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
	Details      any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so callers can use errors.Is with sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError builds a typed error. Retryability is derived from the code;
// use WithRetryAfter for RATE_LIMITED responses.
func NewError(code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: retryableCode(code),
	}
}

// WithRetryAfter attaches a retry hint in milliseconds.
func (e *Error) WithRetryAfter(ms int64) *Error {
	e.RetryAfterMs = ms
	return e
}

// WithDetails attaches structured details (e.g. field-level validation
// failures).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// retryableCode reports whether a code is retryable by contract:
// RATE_LIMITED and transient dependency failures only. Auth, validation
// and quota errors must never be retried by clients.
func retryableCode(code string) bool {
	switch code {
	case CodeRateLimited, CodeTimeout, CodeUpstream5xx, CodeDependencyUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error code to the transport status.
func HTTPStatus(code string) int {
	switch code {
	case CodeMissingTimestamp, CodeMissingSignature, CodeSignatureMismatch, CodeTimestampExpired:
		return http.StatusUnauthorized
	case CodeValidationFailed, CodeUnknownBrick:
		return http.StatusBadRequest
	case CodeRateLimited, CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstream5xx:
		return http.StatusBadGateway
	case CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError coerces any error into a typed *Error. Unknown errors collapse
// into INTERNAL with a generic message; the original error is never
// exposed to the client.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewError(CodeInternal, "an unexpected error occurred")
}
