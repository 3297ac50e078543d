// Package errors provides the standardized error taxonomy for marketplace operations.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Business outcome codes. All of these are expected, recoverable results
// surfaced directly to the caller for user-facing messaging.
const (
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotEligible        ErrorCode = "NOT_ELIGIBLE"
	ErrCodeDuplicateCandidacy ErrorCode = "DUPLICATE_CANDIDACY"
	ErrCodePostingClosed      ErrorCode = "POSTING_CLOSED"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeRateLimitExceeded  ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInvalidToken       ErrorCode = "INVALID_TOKEN"
)

// Infrastructure codes. These are unexpected collaborator failures, retried
// at the collaborator boundary, never inside business logic.
const (
	ErrCodeStorageFailed      ErrorCode = "STORAGE_FAILED"
	ErrCodeCacheFailed        ErrorCode = "CACHE_FAILED"
	ErrCodeSearchIndexFailed  ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeNotificationFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeIdentityFailed     ErrorCode = "IDENTITY_LOOKUP_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// Business Error Constructors
// ==========================

// NewValidationError reports malformed input, e.g. a missing justification
// or inconsistent scheduling fields.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotEligibleError reports a business-rule refusal to apply. The reason is
// always populated; no silent failure is permitted.
func NewNotEligibleError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotEligible,
		Message:   "Professional is not eligible for this posting",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateCandidacyError reports a second candidacy by the same
// professional on the same posting.
func NewDuplicateCandidacyError(postingID, professionalID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateCandidacy,
		Message:   "Professional already applied to this posting",
		Details:   fmt.Sprintf("postingId: %s, professionalId: %s", postingID, professionalID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPostingClosedError reports an apply attempt against a posting that is no
// longer accepting candidacies (terminal status or past its deadline).
func NewPostingClosedError(postingID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePostingClosed,
		Message:   "Posting is closed for new candidacies",
		Details:   details,
		Metadata:  map[string]interface{}{"postingId": postingID},
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError reports a transition attempted from a status that does
// not allow it.
func NewInvalidStateError(from, attempted string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   "Posting status does not allow this transition",
		Details:   fmt.Sprintf("from: %s, attempted: %s", from, attempted),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewForbiddenError reports an authorization failure.
func NewForbiddenError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeForbidden,
		Message:   "Acting party is not allowed to perform this operation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitExceededError reports that the daily availability-toggle cap
// has been reached.
func NewRateLimitExceededError(action string, limit int) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimitExceeded,
		Message:   "Daily availability change limit reached",
		Details:   fmt.Sprintf("action: %s, dailyLimit: %d", action, limit),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTokenError reports a confirmation token that does not match the
// posting's pending handshake.
func NewInvalidTokenError(postingID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidToken,
		Message:   "Confirmation token is invalid for this posting",
		Details:   fmt.Sprintf("postingId: %s", postingID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// Infrastructure Error Constructors
// ==========================

// NewStorageError wraps an unexpected persistence failure.
func NewStorageError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageFailed,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewCacheError wraps an unexpected cache failure.
func NewCacheError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheFailed,
		Message:   "Cache operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewSearchIndexError wraps a search index failure. Indexing is best effort,
// so callers log this instead of propagating it.
func NewSearchIndexError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchIndexFailed,
		Message:   "Search index operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotificationFailedError wraps a notification delivery failure. Delivery
// is fire-and-forget; this is logged and never blocks the triggering
// operation.
func NewNotificationFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewIdentityError wraps a failure resolving the acting party.
func NewIdentityError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIdentityFailed,
		Message:   "Identity lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// Utility Functions
// ==========================

// CodeOf extracts the ErrorCode from any error in the chain, or "" when the
// error is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsBusiness reports whether the error is an expected business outcome as
// opposed to an infrastructure failure.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeNotEligible, ErrCodeDuplicateCandidacy,
		ErrCodePostingClosed, ErrCodeInvalidState, ErrCodeForbidden,
		ErrCodeNotFound, ErrCodeRateLimitExceeded, ErrCodeInvalidToken:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a retry at the collaborator boundary makes
// sense for this error.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}
