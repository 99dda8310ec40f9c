// Package core holds the error taxonomy shared by the synchronization packages.
package core

import (
	"errors"
	"fmt"
	"time"
)

// Error codes
const (
	CodeServiceTimeout    = "service_timeout"
	CodeConditionTimeout  = "condition_timeout"
	CodeServerUnreachable = "server_unreachable"
	CodeInvalidConfig     = "invalid_config"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: service_timeout, condition_timeout, etc.
	Message  string                 // Human-readable message
	Timeout  time.Duration          // Budget that elapsed, zero when not a timeout
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code, so
// derived copies still match the predefined errors.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := e.clone()
	c.Message = msg
	return c
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := e.clone()
	c.Details = merged
	return c
}

// Condition returns the description of what was being waited for, if any.
func (e *ExecutionError) Condition() string {
	s, _ := e.Details["condition"].(string)
	return s
}

func (e *ExecutionError) clone() *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Timeout:  e.Timeout,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// ErrServiceTimeout: the accessibility service did not answer within its own bound.
	ErrServiceTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     CodeServiceTimeout,
		Message:  "accessibility service timed out",
	}
	// ErrConditionTimeout: a wait budget elapsed before the condition held.
	ErrConditionTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     CodeConditionTimeout,
		Message:  "condition was not met before the deadline",
	}

	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     CodeServerUnreachable,
		Message:  "could not connect to automation server",
	}
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     CodeInvalidConfig,
		Message:  "invalid configuration",
	}
)

// NewServiceTimeout re-types a failed service call. timeout is the bound the
// call ran under.
func NewServiceTimeout(timeout time.Duration, cause error) *ExecutionError {
	e := ErrServiceTimeout.WithCause(cause)
	e.Timeout = timeout
	e.Message = fmt.Sprintf("accessibility service did not respond within %d milliseconds", timeout.Milliseconds())
	return e
}

// NewConditionTimeout reports that condition did not hold within timeout.
func NewConditionTimeout(timeout time.Duration, condition string) *ExecutionError {
	if condition == "" {
		condition = "condition"
	}
	e := ErrConditionTimeout.WithDetails(map[string]interface{}{
		"condition":  condition,
		"timeout_ms": timeout.Milliseconds(),
	})
	e.Timeout = timeout
	e.Message = fmt.Sprintf("timed out after %d milliseconds waiting for %s", timeout.Milliseconds(), condition)
	return e
}

// IsServiceTimeout reports whether err is, or wraps, a ServiceTimeout.
func IsServiceTimeout(err error) bool {
	return errors.Is(err, ErrServiceTimeout)
}

// IsConditionTimeout reports whether err is, or wraps, a ConditionTimeout.
func IsConditionTimeout(err error) bool {
	return errors.Is(err, ErrConditionTimeout)
}

// AsExecutionError returns the outermost ExecutionError in err's chain.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
