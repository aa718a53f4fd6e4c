// Package errors provides centralized error definitions and error handling utilities
// for coms. It defines the sentinel errors of the signal bus, typed errors that carry
// dispatch context, and classification helpers.
//
// # Error Types
//
//   - TopicError: a send or subscribe call without a usable topic (fail fast)
//   - HandlerError: a handler panicked during dispatch (isolated, never returned to senders)
//   - LoopError: the scheduling loop rejected work
//   - ValidationError: invalid input (scenario documents, options)
//
// # Usage
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrInvalidTopic) { ... }
//
//	var herr *errors.HandlerError
//	if errors.As(err, &herr) {
//	    log.Printf("handler %s on %s: %v", herr.SubscriptionID, herr.Topic, herr.Recovered)
//	}
//
// Classification:
//
//	if errors.IsUserFacing(err) { ... }
//	sev := errors.SeverityOf(err)
package errors

import (
	"errors"
	"fmt"
	"strings"
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
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
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

// Bus-related sentinel errors
var (
	// ErrInvalidTopic indicates that a topic identifier was missing or empty.
	ErrInvalidTopic = New("a topic is required to identify the signal")
	// ErrNilHandler indicates that subscribe was called without a handler.
	ErrNilHandler = New("handler is required")
	// ErrNoScheduler indicates a deferred send on a bus built without a scheduler.
	ErrNoScheduler = New("deferred delivery requires a scheduler")
	// ErrHandlerPanic indicates that a handler panicked during dispatch.
	ErrHandlerPanic = New("handler panicked")
	// ErrPayloadType indicates that a typed handler received a payload of another type.
	ErrPayloadType = New("payload type mismatch")
)

// Loop-related sentinel errors
var (
	// ErrLoopClosed indicates that the loop no longer accepts work.
	ErrLoopClosed = New("loop is closed")
	// ErrLoopRunning indicates a manual drive attempt while Run owns the loop.
	ErrLoopRunning = New("loop is already running")
)

// Scenario-related sentinel errors
var (
	// ErrInvalidScenario indicates that a scenario document failed validation.
	ErrInvalidScenario = New("invalid scenario")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TopicError is returned when send or subscribe is called without a topic.
//
// Example:
//
//	err := errors.NewTopicError("send")
//	fmt.Println(err) // "send: a topic is required to identify the signal"
type TopicError struct {
	baseError
	Op string
}

// NewTopicError creates a TopicError for the named operation.
func NewTopicError(op string) *TopicError {
	return &TopicError{
		baseError: baseError{
			message:    ErrInvalidTopic.Error(),
			cause:      ErrInvalidTopic,
			severity:   SeverityError,
			userFacing: true,
		},
		Op: op,
	}
}

// Error returns the formatted error message.
func (e *TopicError) Error() string {
	if e.Op == "" {
		return e.message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.message)
}

// Is checks if this error matches the target.
func (e *TopicError) Is(target error) bool {
	if _, ok := target.(*TopicError); ok {
		return true
	}
	return target == ErrInvalidTopic
}

// HandlerError describes a handler failure recovered during dispatch.
// It is delivered to the bus error handler, never to the sender.
type HandlerError struct {
	baseError
	Topic          string
	SubscriptionID string
	Mode           string
	Recovered      any
	Stack          []byte
}

// NewHandlerError creates a HandlerError from a recovered panic value.
// If the value is itself an error it becomes the cause.
func NewHandlerError(topic, subscriptionID string, recovered any) *HandlerError {
	var cause error
	if err, ok := recovered.(error); ok {
		cause = err
	}
	return &HandlerError{
		baseError: baseError{
			message:  ErrHandlerPanic.Error(),
			cause:    cause,
			severity: SeverityError,
		},
		Topic:          topic,
		SubscriptionID: subscriptionID,
		Recovered:      recovered,
	}
}

// WithMode records the delivery mode the failing dispatch ran in.
func (e *HandlerError) WithMode(mode string) *HandlerError {
	e.Mode = mode
	return e
}

// WithStack attaches a captured goroutine stack.
func (e *HandlerError) WithStack(stack []byte) *HandlerError {
	e.Stack = stack
	return e
}

// Error returns the formatted error message.
func (e *HandlerError) Error() string {
	var parts []string
	if e.Topic != "" {
		parts = append(parts, fmt.Sprintf("topic=%s", e.Topic))
	}
	if e.SubscriptionID != "" {
		parts = append(parts, fmt.Sprintf("subscription=%s", e.SubscriptionID))
	}
	if e.Mode != "" {
		parts = append(parts, fmt.Sprintf("mode=%s", e.Mode))
	}

	prefix := e.message
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", e.message, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %v", prefix, e.Recovered)
}

// Is checks if this error matches the target.
func (e *HandlerError) Is(target error) bool {
	if _, ok := target.(*HandlerError); ok {
		return true
	}
	if target == ErrHandlerPanic {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// LoopError wraps a scheduling rejection with the operation that caused it.
type LoopError struct {
	baseError
	Op string
}

// NewLoopError creates a LoopError for the named operation.
func NewLoopError(op string, cause error) *LoopError {
	return &LoopError{
		baseError: baseError{
			message:  "loop rejected work",
			cause:    cause,
			severity: SeverityWarning,
		},
		Op: op,
	}
}

// Error returns the formatted error message.
func (e *LoopError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.message)
}

// Is checks if this error matches the target.
func (e *LoopError) Is(target error) bool {
	if _, ok := target.(*LoopError); ok {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("unknown scope").WithField("steps[2].destroy").WithValue("panel")
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
			userFacing: true,
		},
	}
}

// WithField sets the field that failed validation.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the invalid value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause sets the underlying cause.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := e.message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, e.message)
	}
	if e.Value != nil {
		msg = fmt.Sprintf("%s (got: %v)", msg, e.Value)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// classified is implemented by every error type in this package.
type classified interface {
	Severity() Severity
	IsUserFacing() bool
}

// IsUserFacing returns true if the error message is safe to show to end users.
// It walks the error chain and reports the first classified error found.
func IsUserFacing(err error) bool {
	var c classified
	if As(err, &c) {
		return c.IsUserFacing()
	}
	return false
}

// SeverityOf returns the severity of the first classified error in the chain,
// or SeverityError for foreign errors.
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var c classified
	if As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}
