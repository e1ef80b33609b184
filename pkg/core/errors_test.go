package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := NewSessionNotFoundError("sess_123")
	want := "session_not_found_error: session sess_123 not found (code: session_not_found)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	plain := NewInvalidRequestError("visa type must not be empty")
	if plain.Error() != "invalid_request_error: visa type must not be empty" {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError("save response failed", cause)

	wrapped := fmt.Errorf("manager: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the cause through the chain")
	}
	if !IsType(wrapped, ErrNetwork) {
		t.Error("expected IsType to match ErrNetwork through the chain")
	}
	if IsType(wrapped, ErrTransportFailed) {
		t.Error("IsType matched the wrong type")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{NewNetworkError("timeout", nil), true},
		{NewSessionCreationError("backend down", nil), true},
		{NewSessionNotFoundError("s1"), false},
		{NewTransportFailedError("gave up", nil), false},
		{NewAudioDeviceError("mic denied", nil), false},
	}
	for _, tt := range tests {
		if got := tt.err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.err.Type, got, tt.want)
		}
	}
}
