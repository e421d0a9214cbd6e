// Package errors provides the error taxonomy for vpsctl. It defines sentinel
// errors for every failure class the lifecycle manager can report, typed
// errors that carry session and backend context, and classification helpers
// that tell callers whether an error is fatal or only a warning.
//
// # Error Types
//
// Domain-specific errors:
//   - SessionError: a lifecycle operation on a session failed
//   - BackendError: a call into the container runtime or tmate failed
//
// Semantic errors:
//   - NotFoundError: unknown session id
//   - TimeoutError: a bounded wait expired
//
// # Usage
//
//	err := errors.NewBackendError("start container", errors.ErrBackendOperationFailed).
//		WithKind("container").
//		WithHandle(containerID)
//
//	if errors.Is(err, errors.ErrBackendOperationFailed) { ... }
//	if errors.IsWarning(err) { ... } // PartialProvisioningFailure only
//
// # Severity
//
// Every error except ErrPartialProvisioning is fatal: the operation that
// produced it was aborted and any allocation made on its behalf was rolled
// back. ErrPartialProvisioning is attached to an otherwise successful result.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityWarning is for errors attached to a successful result.
	SeverityWarning Severity = iota
	// SeverityError is for errors that aborted an operation.
	SeverityError
	// SeverityCritical is for errors that make the backend unusable.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Backend-related sentinel errors
var (
	// ErrBackendUnavailable indicates the container runtime or tmate binary
	// could not be reached. No session is created.
	ErrBackendUnavailable = New("backend unavailable")
	// ErrProvisionFailed indicates the compute unit failed to start.
	ErrProvisionFailed = New("provision failed")
	// ErrPartialProvisioning indicates the unit is usable but a best-effort
	// step (credentials, login service) failed.
	ErrPartialProvisioning = New("partial provisioning failure")
	// ErrReadinessTimeout indicates a terminal session never signaled ready.
	ErrReadinessTimeout = New("readiness timeout")
	// ErrBackendOperationFailed indicates a start/stop/restart/destroy call failed.
	ErrBackendOperationFailed = New("backend operation failed")
)

// Allocation-related sentinel errors
var (
	// ErrPortRangeExhausted indicates no free port was found in the configured range.
	ErrPortRangeExhausted = New("port range exhausted")
	// ErrAllocationExhausted indicates no unused session id could be generated.
	ErrAllocationExhausted = New("identifier allocation exhausted")
)

// Session-related sentinel errors
var (
	// ErrNotFound indicates an unknown session id.
	ErrNotFound = New("session not found")
	// ErrInvalidTransition indicates the operation is not valid in the
	// session's current state, e.g. starting a destroyed session.
	ErrInvalidTransition = New("invalid state transition")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

type baseError struct {
	message  string
	cause    error
	severity Severity
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents a failed lifecycle operation on a session.
//
// Example:
//
//	err := errors.NewSessionError("create", errors.ErrProvisionFailed).WithSessionID("3f9a1c2e")
//	fmt.Println(err) // "session error [session=3f9a1c2e, op=create]: provision failed"
type SessionError struct {
	baseError
	SessionID string
	Operation string
}

// NewSessionError creates a new SessionError for the named operation.
func NewSessionError(operation string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			cause:    cause,
			severity: severityFor(cause),
		},
		Operation: operation,
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Operation))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// BackendError represents a failed call into a provisioning backend.
//
// Example:
//
//	err := errors.NewBackendError("new-session", errors.ErrProvisionFailed).
//		WithKind("terminal").
//		WithHandle("/tmp/vpsctl/vps-3f9a1c2e.sock").
//		WithOutput(stderr)
type BackendError struct {
	baseError
	Kind   string
	Handle string
	Output string // Captured command output, if any
}

// NewBackendError creates a new BackendError. The message names the backend
// step that failed; cause is normally one of the backend sentinels.
func NewBackendError(message string, cause error) *BackendError {
	return &BackendError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: severityFor(cause),
		},
	}
}

// WithKind adds the backend kind to the error context.
func (e *BackendError) WithKind(kind string) *BackendError {
	e.Kind = kind
	return e
}

// WithHandle adds the backend handle to the error context.
func (e *BackendError) WithHandle(handle string) *BackendError {
	e.Handle = handle
	return e
}

// WithOutput adds captured command output to the error context.
func (e *BackendError) WithOutput(output string) *BackendError {
	e.Output = strings.TrimSpace(output)
	return e
}

// WithCause attaches the underlying error while keeping the sentinel
// classification of the original cause.
func (e *BackendError) WithCause(err error) *BackendError {
	if err == nil {
		return e
	}
	if e.cause == nil {
		e.cause = err
		return e
	}
	e.cause = fmt.Errorf("%w: %w", e.cause, err)
	return e
}

// Error returns the formatted error message.
func (e *BackendError) Error() string {
	var parts []string
	if e.Kind != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", e.Kind))
	}
	if e.Handle != "" {
		parts = append(parts, fmt.Sprintf("handle=%s", e.Handle))
	}

	prefix := "backend error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("backend error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Output != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, e.Output)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents an unknown session id.
type NotFoundError struct {
	baseError
	SessionID string
}

// NewNotFoundError creates a new NotFoundError for the given session id.
func NewNotFoundError(sessionID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("session '%s' not found", sessionID),
			cause:    ErrNotFound,
			severity: SeverityError,
		},
		SessionID: sessionID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return e.message
}

// TimeoutError represents a bounded wait that expired.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for tmate-ready", 8*time.Second)
//	fmt.Println(err) // "timeout: waiting for tmate-ready (after 8s): readiness timeout"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError classified as ErrReadinessTimeout.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:  operation,
			cause:    ErrReadinessTimeout,
			severity: SeverityError,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s (after %s): %v", e.Operation, e.Duration, e.cause)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// severityFor derives a severity from the sentinel a cause wraps.
func severityFor(cause error) Severity {
	switch {
	case cause == nil:
		return SeverityError
	case errors.Is(cause, ErrPartialProvisioning):
		return SeverityWarning
	case errors.Is(cause, ErrBackendUnavailable):
		return SeverityCritical
	default:
		return SeverityError
	}
}

// SeverityOf returns the severity of err. Errors that do not carry a
// severity are classified by the sentinel they wrap.
func SeverityOf(err error) Severity {
	var sev interface{ Severity() Severity }
	if errors.As(err, &sev) {
		return sev.Severity()
	}
	return severityFor(err)
}

// IsWarning reports whether err is a non-fatal warning that was attached to
// an otherwise successful result.
func IsWarning(err error) bool {
	return err != nil && errors.Is(err, ErrPartialProvisioning) && SeverityOf(err) == SeverityWarning
}

// IsFatal reports whether err aborted the operation that returned it.
func IsFatal(err error) bool {
	return err != nil && !IsWarning(err)
}

// IsNotFound reports whether err refers to an unknown session id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
