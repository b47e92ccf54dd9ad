// Package errors provides custom error types for the appforge application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes as constants
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeValidationError  = "VALIDATION_ERROR"
	ErrCodeAgentUnavailable = "AGENT_UNAVAILABLE"
	ErrCodeAgentExecution   = "AGENT_EXECUTION_ERROR"
	ErrCodePortExhausted    = "PORT_EXHAUSTED"
	ErrCodeProcessStart     = "PROCESS_START_FAILED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s with id '%s' not found", resource, id),
	}
}

// Validation creates a new validation error for a specific field.
func Validation(field string, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidationError,
		Message: fmt.Sprintf("validation failed for '%s': %s", field, message),
	}
}

// AgentUnavailable creates an error for an external agent tool that is
// missing or misconfigured. Never retried by the core.
func AgentUnavailable(agent string, detail string) *AppError {
	return &AppError{
		Code:    ErrCodeAgentUnavailable,
		Message: fmt.Sprintf("agent '%s' is not available: %s", agent, detail),
	}
}

// AgentExecution creates an error for a process or communication failure
// during a streaming run.
func AgentExecution(agent string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeAgentExecution,
		Message: fmt.Sprintf("agent '%s' execution failed", agent),
		Err:     err,
	}
}

// PortExhausted creates an error for a preview start that found no free
// port in the configured range.
func PortExhausted(start, end int) *AppError {
	return &AppError{
		Code:    ErrCodePortExhausted,
		Message: fmt.Sprintf("no free port available in range %d-%d", start, end),
	}
}

// ProcessStart creates an error for a spawned process that exited
// immediately, carrying its captured output.
func ProcessStart(message string, output string) *AppError {
	return &AppError{
		Code:    ErrCodeProcessStart,
		Message: fmt.Sprintf("%s: %s", message, output),
	}
}

// InternalError creates a new internal error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternalError,
		Message: message,
		Err:     err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     err,
		}
	}

	return &AppError{
		Code:    ErrCodeInternalError,
		Message: message,
		Err:     err,
	}
}

// HasCode checks whether the error carries the given application code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return HasCode(err, ErrCodeValidationError)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}
