package core

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when an operation references a session that
// does not exist or has already been removed.
var ErrSessionNotFound = errors.New("session not found")

// ErrStreamActive is returned when a second event stream is opened against a
// session that already has one attached.
var ErrStreamActive = errors.New("event stream already active")

// ValidationError reports malformed caller input, such as an empty message.
type ValidationError struct {
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError constructs a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ConnectionError reports a failure to establish a tool server connection
// during session creation. The session is rolled back when it occurs.
type ConnectionError struct {
	Server string // Name of the server that failed to connect
	Err    error  // Underlying cause
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to tool server %q: %v", e.Server, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CleanupError reports a failure while releasing a session's resources. It is
// logged and never surfaced to clients; teardown continues past it.
type CleanupError struct {
	SessionID string
	Server    string
	Err       error
}

// Error implements the error interface.
func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of session %s failed closing %q: %v", e.SessionID, e.Server, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CleanupError) Unwrap() error {
	return e.Err
}
