package core

import (
	"errors"
	"fmt"
)

// Error is the canonical bridge error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrConnection: the endpoint connection could not be established or
	// maintained. Fatal to the session until reconnected.
	ErrConnection ErrorType = "connection_error"

	// ErrNotConnected: an operation was attempted while the session has no
	// active endpoint connection. Local and recoverable.
	ErrNotConnected ErrorType = "session_not_connected"

	// ErrMalformedDelta: a delta referenced an unknown or completed item in
	// an unexpected way. Logged and dropped; the session continues.
	ErrMalformedDelta ErrorType = "malformed_delta"

	// ErrProtocol: an inbound endpoint frame could not be decoded.
	ErrProtocol ErrorType = "protocol_error"

	// Tool failures are folded into failed tool results sent back to the
	// endpoint; they are never fatal to the session.
	ErrToolNotFound  ErrorType = "tool_not_found"
	ErrToolExecution ErrorType = "tool_execution_error"
	ErrToolTimeout   ErrorType = "tool_timeout_error"

	ErrInvalidRequest ErrorType = "invalid_request_error"
)

// NewConnectionError creates a connection error.
func NewConnectionError(message string) *Error {
	return &Error{Type: ErrConnection, Message: message}
}

// NewNotConnectedError creates a session-not-connected error.
func NewNotConnectedError(message string) *Error {
	return &Error{Type: ErrNotConnected, Message: message}
}

// NewMalformedDeltaError creates a malformed-delta warning error.
func NewMalformedDeltaError(message string) *Error {
	return &Error{Type: ErrMalformedDelta, Message: message}
}

// NewProtocolError creates a protocol decode error.
func NewProtocolError(message string) *Error {
	return &Error{Type: ErrProtocol, Message: message}
}

// NewToolNotFoundError creates a tool-not-found error.
func NewToolNotFoundError(name string) *Error {
	return &Error{Type: ErrToolNotFound, Message: fmt.Sprintf("tool %q is not registered", name), Code: "tool_not_found"}
}

// NewToolExecutionError creates a tool execution error.
func NewToolExecutionError(message string) *Error {
	return &Error{Type: ErrToolExecution, Message: message, Code: "tool_execution_failed"}
}

// NewToolTimeoutError creates a tool timeout error.
func NewToolTimeoutError(name string) *Error {
	return &Error{Type: ErrToolTimeout, Message: fmt.Sprintf("tool %q timed out", name), Code: "tool_timeout"}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// IsType reports whether err is (or wraps) a bridge error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == t
}

// IsNotConnected reports whether err is a session-not-connected error.
func IsNotConnected(err error) bool { return IsType(err, ErrNotConnected) }

// IsMalformedDelta reports whether err is a malformed-delta warning.
func IsMalformedDelta(err error) bool { return IsType(err, ErrMalformedDelta) }

// IsToolFailure reports whether err belongs to the tool failure family.
// Tool failures are resolved into failed tool results, never surfaced as
// session-fatal errors.
func IsToolFailure(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrToolNotFound, ErrToolExecution, ErrToolTimeout:
		return true
	default:
		return false
	}
}
