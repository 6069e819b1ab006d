package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for retry and surfacing decisions.
//
// This is the error taxonomy from AgentGate's error handling design: a kind,
// not a Go type. Retryability is a property of the category, overridable per
// DomainError instance.
type ErrorCategory string

const (
	// ErrCatValidation marks malformed input at admission or schema load.
	// Surfaced; never retried.
	ErrCatValidation ErrorCategory = "validation"
	// ErrCatWorkspace marks lease acquisition, path policy, or filesystem
	// mutation failures. Retryable under the default policy.
	ErrCatWorkspace ErrorCategory = "workspace_error"
	// ErrCatSandbox marks a container/subprocess that could not be created
	// or died before command dispatch. Retryable.
	ErrCatSandbox ErrorCategory = "sandbox_error"
	// ErrCatAgentTimeout marks an agent invocation that exceeded its
	// timeout. Retryable.
	ErrCatAgentTimeout ErrorCategory = "agent_timeout"
	// ErrCatAgentCrash marks an agent that exited non-zero or produced no
	// result message. Not retryable by default (policy knob, see
	// RetryPolicy.Retryable).
	ErrCatAgentCrash ErrorCategory = "agent_crash"
	// ErrCatGateFailure marks a gate that returned passed=false. Never
	// treated as an error by the convergence loop; feeds the feedback loop
	// instead. Exists in the taxonomy so callers that need a uniform
	// error value (e.g. a gate runner returning early) can use it without
	// being mistaken for a genuine fault.
	ErrCatGateFailure ErrorCategory = "gate_failure"
	// ErrCatGateConfiguration marks gate dispatch against an unknown check
	// type or missing required config. Fatal for that gate.
	ErrCatGateConfiguration ErrorCategory = "gate_configuration"
	// ErrCatGithub marks transient VCS/API issues. Retryable.
	ErrCatGithub ErrorCategory = "github_error"
	// ErrCatSystem marks anything else unexpected. Retryable by default
	// policy.
	ErrCatSystem ErrorCategory = "system_error"
	// ErrCatNotFound marks a missing resource lookup.
	ErrCatNotFound ErrorCategory = "not_found"
	// ErrCatConflict marks a concurrent-modification or state conflict.
	ErrCatConflict ErrorCategory = "conflict"
)

// DefaultRetryable is the default retryable set named in spec.md §4.7.
var DefaultRetryable = map[ErrorCategory]bool{
	ErrCatValidation:        false,
	ErrCatWorkspace:         true,
	ErrCatSandbox:           true,
	ErrCatAgentTimeout:      true,
	ErrCatAgentCrash:        false,
	ErrCatGateFailure:       false,
	ErrCatGateConfiguration: false,
	ErrCatGithub:            true,
	ErrCatSystem:            true,
	ErrCatNotFound:          false,
	ErrCatConflict:          false,
}

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newDomainError(cat ErrorCategory, code, message string) *DomainError {
	return &DomainError{
		Category:  cat,
		Code:      code,
		Message:   message,
		Retryable: DefaultRetryable[cat],
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return newDomainError(ErrCatValidation, code, message)
}

// ErrWorkspace creates a workspace error (lease/path-policy/fs mutation).
func ErrWorkspace(code, message string) *DomainError {
	return newDomainError(ErrCatWorkspace, code, message)
}

// ErrSandbox creates a sandbox error.
func ErrSandbox(code, message string) *DomainError {
	return newDomainError(ErrCatSandbox, code, message)
}

// ErrAgentTimeout creates an agent-timeout error.
func ErrAgentTimeout(message string) *DomainError {
	return newDomainError(ErrCatAgentTimeout, "AGENT_TIMEOUT", message)
}

// ErrAgentCrash creates an agent-crash error.
func ErrAgentCrash(message string) *DomainError {
	return newDomainError(ErrCatAgentCrash, "AGENT_CRASH", message)
}

// ErrGateFailure creates a gate-failure marker error.
func ErrGateFailure(gateName, message string) *DomainError {
	return newDomainError(ErrCatGateFailure, "GATE_FAILED", message).
		WithDetail("gate", gateName)
}

// ErrGateConfiguration creates a gate-configuration error.
func ErrGateConfiguration(code, message string) *DomainError {
	return newDomainError(ErrCatGateConfiguration, code, message)
}

// ErrGithub creates a transient GitHub/VCS error.
func ErrGithub(message string) *DomainError {
	return newDomainError(ErrCatGithub, "GITHUB_ERROR", message)
}

// ErrSystem creates a generic system error.
func ErrSystem(code, message string) *DomainError {
	return newDomainError(ErrCatSystem, code, message)
}

// ErrNotFound creates a not-found error.
func ErrNotFound(resource, id string) *DomainError {
	return newDomainError(ErrCatNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id))
}

// ErrConflict creates a conflict error.
func ErrConflict(code, message string) *DomainError {
	return newDomainError(ErrCatConflict, code, message)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category, defaulting to system_error for
// errors that are not DomainErrors.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatSystem
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes reused across components.
const (
	CodeLockAcquireFailed = "LOCK_ACQUIRE_FAILED"
	CodeLockReleaseFailed = "LOCK_RELEASE_FAILED"
	CodeLeaseBusy         = "LEASE_BUSY"
	CodePathTraversal     = "PATH_TRAVERSAL"
	CodePathOutsideRoot   = "PATH_OUTSIDE_ROOT"
	CodePathDenied        = "PATH_DENIED"
	CodeInvalidState      = "INVALID_STATE"
	CodeStateCorrupted    = "STATE_CORRUPTED"
)

// MaxTaskPromptLength bounds a work order's taskPrompt field.
const MaxTaskPromptLength = 100000
