package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine errors by caller-visible behavior.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeLegalHold  ErrorType = "legal_hold"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeForbidden  ErrorType = "forbidden"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

// NewValidationError reports malformed input; the caller must correct and resubmit.
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

// NewNotFoundError reports an unknown aggregate.
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

// NewConflictError reports a concurrent-modification race. The caller should
// retry against fresh state; the engine never auto-retries mutations.
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

// NewLegalHoldError reports a data category blocked by an active legal hold.
// Surfaced inside partial-success erasure results, never as a hard failure.
func NewLegalHoldError(category string) *AppError {
	return &AppError{
		Type:       ErrorTypeLegalHold,
		Code:       "LEGAL_HOLD_ACTIVE",
		Message:    fmt.Sprintf("data category %q is subject to an active legal hold", category),
		Retryable:  false,
		StatusCode: 423,
		Details:    map[string]interface{}{"data_category": category},
	}
}

// NewStorageError reports an unreachable or failing durable store. Retryable;
// a business mutation is not committed unless its audit entry committed too.
func NewStorageError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeStorage,
		Code:       "STORAGE_UNAVAILABLE",
		Message:    message,
		Retryable:  true,
		StatusCode: 503,
	}
}

// NewTimeoutError reports a downstream collaborator exceeding its time budget.
func NewTimeoutError(collaborator string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Code:       "DOWNSTREAM_TIMEOUT",
		Message:    fmt.Sprintf("%s exceeded its time budget", collaborator),
		Retryable:  true,
		StatusCode: 504,
		Details:    map[string]interface{}{"collaborator": collaborator},
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
