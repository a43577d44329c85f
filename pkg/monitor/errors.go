// Package monitor provides the request-telemetry core: durable event
// recording coupled with rate-limit admission, plus the read-side
// aggregation surface (summaries, per-environment metrics, top-N).
package monitor

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a pipeline error.
// Boundary responses carry the class so clients can distinguish
// re-authentication from access denial from genuine failures.
type ErrorClass string

const (
	// ErrorClassValidation indicates malformed or missing input,
	// surfaced to the caller.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound indicates an unknown id, identity, or token.
	// Lookup paths return false/nil instead of this error; it appears
	// only where absence is itself a failure.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassAuth indicates a missing, invalid, or expired token,
	// or a missing permission.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassStorage indicates a durable-store failure. Fatal to
	// the triggering call; must not corrupt in-memory caches.
	ErrorClassStorage ErrorClass = "storage"

	// ErrorClassNotification indicates a best-effort channel failure.
	// Logged and isolated per channel, never escalated.
	ErrorClassNotification ErrorClass = "notification"
)

// PipelineError represents a classified error with context.
type PipelineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the entity that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassValidation,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassNotFound,
		Message: message,
		Err:     err,
	}
}

// NewAuthError creates a new auth error.
func NewAuthError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassAuth,
		Message: message,
		Err:     err,
	}
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassStorage,
		Message: message,
		Err:     err,
	}
}

// NewNotificationError creates a new notification error.
func NewNotificationError(message string, err error) *PipelineError {
	return &PipelineError{
		Class:   ErrorClassNotification,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *PipelineError) WithResource(resource string) *PipelineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *PipelineError) WithOperation(operation string) *PipelineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *PipelineError) WithCode(code string) *PipelineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf extracts the class of a classified error, or "" otherwise.
// Boundary layers use it to translate errors into structured
// kind+message responses.
func ClassOf(err error) ErrorClass {
	return classOf(err)
}

// classOf extracts the class of a classified error, or "" otherwise.
func classOf(err error) ErrorClass {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return classOf(err) == ErrorClassValidation
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	return classOf(err) == ErrorClassNotFound
}

// IsAuth returns true if the error is classified as auth.
func IsAuth(err error) bool {
	return classOf(err) == ErrorClassAuth
}

// IsStorage returns true if the error is classified as storage.
func IsStorage(err error) bool {
	return classOf(err) == ErrorClassStorage
}

// IsNotification returns true if the error is classified as notification.
func IsNotification(err error) bool {
	return classOf(err) == ErrorClassNotification
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTokenExpired     = "TOKEN_EXPIRED"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeStorageFailed    = "STORAGE_FAILED"
	ErrCodeChannelFailed    = "CHANNEL_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
