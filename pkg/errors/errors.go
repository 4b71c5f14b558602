// Package errors provides the bridge's typed error vocabulary (spec.md §7)
// and its mapping onto HTTP status codes for the API layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error type identifiers. These are the error kinds named in spec.md §7.
const (
	ErrUnknownInstance = "unknown_instance"
	ErrMissingInstance = "missing_instance"
	ErrTimeout         = "timeout"
	ErrConnectionLost  = "connection_lost"
	ErrSendFailed      = "send_failed"
	ErrProtocol        = "protocol_error"
	ErrInvalidSession  = "invalid_session"
	ErrShuttingDown    = "shutting_down"
	ErrInvalidArgument = "invalid_argument"
	ErrInternal        = "internal_error"
)

// Error is the bridge's typed error. Type identifies the error kind from the
// vocabulary above; Message is human-readable context; Cause is the
// underlying error, if any.
type Error struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError constructs an Error of the given type.
func NewError(errType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Cause: cause}
}

// NewUnknownInstanceError reports that no record exists for a supplied instanceId.
func NewUnknownInstanceError(message string, cause error) *Error {
	return NewError(ErrUnknownInstance, message, cause)
}

// NewMissingInstanceError reports a session with no bound instance attempting dispatch.
func NewMissingInstanceError(message string, cause error) *Error {
	return NewError(ErrMissingInstance, message, cause)
}

// NewTimeoutError reports a pending request whose deadline elapsed.
func NewTimeoutError(message string, cause error) *Error {
	return NewError(ErrTimeout, message, cause)
}

// NewConnectionLostError reports an instance socket closing with requests pending.
func NewConnectionLostError(message string, cause error) *Error {
	return NewError(ErrConnectionLost, message, cause)
}

// NewSendFailedError reports a write to an instance socket failing before a reply could be awaited.
func NewSendFailedError(message string, cause error) *Error {
	return NewError(ErrSendFailed, message, cause)
}

// NewProtocolError reports malformed or direction-violating envelopes.
func NewProtocolError(message string, cause error) *Error {
	return NewError(ErrProtocol, message, cause)
}

// NewInvalidSessionError reports an HTTP request referencing an unknown or missing session id.
func NewInvalidSessionError(message string, cause error) *Error {
	return NewError(ErrInvalidSession, message, cause)
}

// NewShuttingDownError reports the terminal state during graceful shutdown.
func NewShuttingDownError(message string, cause error) *Error {
	return NewError(ErrShuttingDown, message, cause)
}

// NewInvalidArgumentError reports a malformed request body or parameter.
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewInternalError reports an unexpected, non-recoverable condition.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func is(err error, errType string) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsUnknownInstance reports whether err is (or wraps) an UnknownInstance error.
func IsUnknownInstance(err error) bool { return is(err, ErrUnknownInstance) }

// IsMissingInstance reports whether err is (or wraps) a MissingInstance error.
func IsMissingInstance(err error) bool { return is(err, ErrMissingInstance) }

// IsTimeout reports whether err is (or wraps) a Timeout error.
func IsTimeout(err error) bool { return is(err, ErrTimeout) }

// IsConnectionLost reports whether err is (or wraps) a ConnectionLost error.
func IsConnectionLost(err error) bool { return is(err, ErrConnectionLost) }

// IsSendFailed reports whether err is (or wraps) a SendFailed error.
func IsSendFailed(err error) bool { return is(err, ErrSendFailed) }

// IsProtocol reports whether err is (or wraps) a ProtocolError.
func IsProtocol(err error) bool { return is(err, ErrProtocol) }

// IsInvalidSession reports whether err is (or wraps) an InvalidSession error.
func IsInvalidSession(err error) bool { return is(err, ErrInvalidSession) }

// IsShuttingDown reports whether err is (or wraps) a ShuttingDown error.
func IsShuttingDown(err error) bool { return is(err, ErrShuttingDown) }

// IsInvalidArgument reports whether err is (or wraps) an InvalidArgument error.
func IsInvalidArgument(err error) bool { return is(err, ErrInvalidArgument) }

// IsInternal reports whether err is (or wraps) an Internal error.
func IsInternal(err error) bool { return is(err, ErrInternal) }

// Code maps an error to the HTTP status code the API layer should return.
// Errors that aren't *Error default to 500, matching the "HTTP handler
// exceptions that escape produce a 500" rule in spec.md §7.
func Code(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Type {
	case ErrInvalidSession, ErrInvalidArgument, ErrMissingInstance, ErrProtocol:
		return http.StatusBadRequest
	case ErrUnknownInstance:
		return http.StatusNotFound
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrConnectionLost, ErrSendFailed:
		return http.StatusBadGateway
	case ErrShuttingDown:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
