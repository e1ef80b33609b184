// Package core holds the error taxonomy shared by every guide-lite package.
package core

import (
	"errors"
	"fmt"
)

// Error is a typed engine error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest  ErrorType = "invalid_request_error"
	ErrNetwork         ErrorType = "network_error"
	ErrSessionCreation ErrorType = "session_creation_error"
	ErrSessionNotFound ErrorType = "session_not_found_error"
	ErrTransportFailed ErrorType = "transport_failed_error"
	ErrAudioDevice     ErrorType = "audio_device_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewNetworkError wraps a transport-level failure of a REST call.
func NewNetworkError(message string, cause error) *Error {
	return &Error{Type: ErrNetwork, Message: message, Cause: cause}
}

// NewSessionCreationError indicates session creation failed; local state
// stays uninitialized.
func NewSessionCreationError(message string, cause error) *Error {
	return &Error{Type: ErrSessionCreation, Message: message, Cause: cause}
}

// NewSessionNotFoundError indicates a resume target no longer exists.
func NewSessionNotFoundError(sessionID string) *Error {
	return &Error{
		Type:    ErrSessionNotFound,
		Message: fmt.Sprintf("session %s not found", sessionID),
		Code:    "session_not_found",
	}
}

// NewTransportFailedError is the terminal, non-retryable guidance channel
// failure after reconnection attempts are exhausted.
func NewTransportFailedError(message string, cause error) *Error {
	return &Error{Type: ErrTransportFailed, Message: message, Code: "reconnect_exhausted", Cause: cause}
}

// NewAudioDeviceError indicates microphone or playback acquisition failed.
// Voice features degrade; the session itself stays usable.
func NewAudioDeviceError(message string, cause error) *Error {
	return &Error{Type: ErrAudioDevice, Message: message, Cause: cause}
}

// IsType reports whether err is (or wraps) an *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsRetryable reports whether the error is transient. Terminal transport
// failures and not-found resumes require explicit caller recovery.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrNetwork, ErrSessionCreation:
		return true
	default:
		return false
	}
}
