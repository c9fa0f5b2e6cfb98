package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrValidation indicates that a request failed validation before any
	// session state was created.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAgentTransient indicates a capability failure that is safe to retry.
	ErrAgentTransient = errors.New("transient agent failure")

	// ErrAgentPermanent indicates a capability failure that retrying cannot fix.
	ErrAgentPermanent = errors.New("permanent agent failure")

	// ErrApplicationFailure indicates a capability answered successfully at
	// the transport level but reported failure inside its payload. Treated
	// as permanent.
	ErrApplicationFailure = errors.New("application-level failure")

	// ErrStoreUnavailable indicates that a durable store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInternalError indicates an internal server error.
	ErrInternalError = errors.New("internal error")
)

// ValidationError represents a validation error for a specific field.
// Message carries the exact wording surfaced to callers.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AgentError provides details about a failed capability invocation.
type AgentError struct {
	Capability string
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	Attempts   int
	Cause      error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return fmt.Sprintf("%s invocation failed (%s, attempts %d): %s", e.Capability, e.Code, e.Attempts, e.Message)
}

// Unwrap returns the sentinel matching the failure class for use with errors.Is.
func (e *AgentError) Unwrap() error {
	if e.Retryable {
		return ErrAgentTransient
	}
	return ErrAgentPermanent
}

// ApplicationFailureError marks a transport-level success whose payload
// reported failure.
type ApplicationFailureError struct {
	Capability string
	Indicator  string
	Message    string
}

// Error implements the error interface.
func (e *ApplicationFailureError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s reported failure (%s): %s", e.Capability, e.Indicator, e.Message)
	}
	return fmt.Sprintf("%s reported failure (%s)", e.Capability, e.Indicator)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ApplicationFailureError) Unwrap() error {
	return ErrApplicationFailure
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
