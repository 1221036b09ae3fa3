// Package errors provides centralized error definitions for the conductor
// codebase: sentinel errors for the core taxonomy, domain error types with
// context builders, semantic error types, and classification helpers.
//
// Creating errors:
//
//	err := errors.NewSessionError("update rejected", errors.ErrInvalidTransition).WithThreadID(tid)
//	err := errors.NewAlreadyExistsError("session", threadID)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrQueueTimeout) { ... }
//	var schedErr *errors.SchedulerError
//	if errors.As(err, &schedErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
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
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
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

// Session store sentinel errors
var (
	// ErrSessionNotFound indicates that no session exists for the given key.
	ErrSessionNotFound = New("session not found")
	// ErrSessionExists indicates that a live session already exists for the
	// external thread key.
	ErrSessionExists = New("session already exists for thread")
	// ErrInvalidTransition indicates a state change not permitted by the
	// transition table.
	ErrInvalidTransition = New("invalid state transition")
	// ErrStoreCorrupted indicates that the persisted session store could not
	// be parsed. Fatal at startup load only.
	ErrStoreCorrupted = New("session store corrupted")
)

// Scheduler sentinel errors
var (
	// ErrQueueTimeout indicates a queued admission request expired before a
	// run slot became available.
	ErrQueueTimeout = New("queue wait timed out")
	// ErrCanceled indicates an admission request was explicitly cancelled.
	ErrCanceled = New("execution request cancelled")
	// ErrDeadlockDetected indicates a dependency cycle among waiting
	// sessions. Non-fatal; the sweep auto-mitigates it.
	ErrDeadlockDetected = New("dependency deadlock detected")
)

// Background sentinel errors
var (
	// ErrPersistence indicates a failed store write. Logged, never raised to
	// scheduling callers.
	ErrPersistence = New("persistence failure")
	// ErrTimeout indicates a generic operation timeout.
	ErrTimeout = New("operation timed out")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// ConductorError is the base interface for conductor error types. It extends
// error with classification methods used by logging and the front end.
type ConductorError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// SessionError represents errors from the session store and state machine.
//
// Example:
//
//	err := errors.NewSessionError("update rejected", errors.ErrInvalidTransition).
//		WithThreadID("thread-1").WithStates("initializing", "completed")
type SessionError struct {
	baseError
	ThreadID  string
	FromState string
	ToState   string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithThreadID adds the external thread key to the error context.
func (e *SessionError) WithThreadID(id string) *SessionError {
	e.ThreadID = id
	return e
}

// WithStates adds the rejected transition endpoints to the error context.
func (e *SessionError) WithStates(from, to string) *SessionError {
	e.FromState = from
	e.ToState = to
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.ThreadID != "" {
		parts = append(parts, fmt.Sprintf("thread=%s", e.ThreadID))
	}
	if e.FromState != "" || e.ToState != "" {
		parts = append(parts, fmt.Sprintf("transition=%s->%s", e.FromState, e.ToState))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SchedulerError represents errors from admission control and the wait queue.
type SchedulerError struct {
	baseError
	SessionID string
	Position  int
}

// NewSchedulerError creates a new SchedulerError.
func NewSchedulerError(message string, cause error) *SchedulerError {
	return &SchedulerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Position: -1, // -1 indicates not set
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SchedulerError) WithSessionID(id string) *SchedulerError {
	e.SessionID = id
	return e
}

// WithPosition adds the queue position to the error context.
func (e *SchedulerError) WithPosition(pos int) *SchedulerError {
	e.Position = pos
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SchedulerError) WithRetryable(r bool) *SchedulerError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SchedulerError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Position >= 0 {
		parts = append(parts, fmt.Sprintf("position=%d", e.Position))
	}

	prefix := "scheduler error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("scheduler error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SchedulerError) Is(target error) bool {
	if _, ok := target.(*SchedulerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if errors.Is(target, ErrSessionNotFound) {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	if errors.Is(target, ErrSessionExists) {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or configuration.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) || errors.Is(target, ErrQueueTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition that
// may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var cerr ConductorError
	if As(err, &cerr) {
		return cerr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrQueueTimeout)
}

// IsUserFacing returns true if the error message is safe to surface through
// the chat front end.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var cerr ConductorError
	if As(err, &cerr) {
		return cerr.IsUserFacing()
	}

	var notFound *NotFoundError
	var exists *AlreadyExistsError
	var validation *ValidationError
	var timeout *TimeoutError
	return As(err, &notFound) || As(err, &exists) ||
		As(err, &validation) || As(err, &timeout)
}

// GetSeverity returns the severity level of the error. Unknown errors
// default to SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var cerr ConductorError
	if As(err, &cerr) {
		return cerr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with an additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
