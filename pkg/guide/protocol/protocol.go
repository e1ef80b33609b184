// Package protocol defines the guidance channel wire envelopes.
//
// Every frame is a JSON object discriminated by a `type` field. Unknown
// inbound types are surfaced as UnknownEvent so callers can log and skip
// them without tearing the channel down.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeVoiceResponse         = "voice_response"
	TypeGuidanceResponse      = "guidance_response"
	TypeSnapshotReceived      = "snapshot_received"
	TypeTranscription         = "transcription"
	TypeError                 = "error"
)

// Outbound frame types.
const (
	TypeVoiceInput      = "voice_input"
	TypeSnapshot        = "snapshot"
	TypeRequestGuidance = "request_guidance"
)

// Advice is a guidance-service suggestion. Say, when non-empty, is text the
// client should speak aloud.
type Advice struct {
	Say       string `json:"say,omitempty"`
	Message   string `json:"message,omitempty"`
	NextField string `json:"next_field,omitempty"`
}

// VoiceInput carries batched microphone audio and/or a typed transcription
// from the client.
type VoiceInput struct {
	Type          string   `json:"type"`
	Transcription string   `json:"transcription,omitempty"`
	AudioB64      []string `json:"audio,omitempty"`
	TimestampMS   int64    `json:"timestamp"`
}

// Snapshot is a point-in-time summary of form state sent to the guidance
// service.
type Snapshot struct {
	Type         string            `json:"type"`
	SessionID    string            `json:"session_id"`
	VisaType     string            `json:"visa_type,omitempty"`
	CurrentField string            `json:"current_field,omitempty"`
	Responses    map[string]string `json:"responses,omitempty"`
	Progress     int               `json:"progress"`
	TimestampMS  int64             `json:"timestamp"`
}

// RequestGuidance asks the service for advice of a given kind.
type RequestGuidance struct {
	Type        string `json:"type"`
	RequestType string `json:"request_type"`
	TimestampMS int64  `json:"timestamp"`
}

type serverConnectionEstablished struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

type serverAdvice struct {
	Type   string `json:"type"`
	Advice Advice `json:"advice"`
}

type serverTranscription struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	IsPartial bool   `json:"isPartial"`
}

type serverError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Event is a decoded inbound frame.
type Event interface {
	guidanceEventType() string
}

// ConnectionEstablishedEvent is the service's first frame on a new channel.
type ConnectionEstablishedEvent struct {
	SessionID string
}

func (e ConnectionEstablishedEvent) guidanceEventType() string { return TypeConnectionEstablished }

// AdviceEvent carries advice from a voice_response, guidance_response, or
// snapshot_received frame. Kind preserves the frame type for callers that
// care which path produced it.
type AdviceEvent struct {
	Kind   string
	Advice Advice
}

func (e AdviceEvent) guidanceEventType() string { return e.Kind }

// TranscriptionEvent is live speech-to-text output for the user's voice.
type TranscriptionEvent struct {
	Text      string
	IsPartial bool
}

func (e TranscriptionEvent) guidanceEventType() string { return TypeTranscription }

// ErrorEvent is a service-reported error. It does not close the channel.
type ErrorEvent struct {
	Message string
}

func (e ErrorEvent) guidanceEventType() string { return TypeError }

// UnknownEvent wraps a frame whose type the client does not understand.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) guidanceEventType() string { return e.Type }

// Decode parses one inbound text frame into an Event.
func Decode(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode guidance frame envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("guidance frame missing type")
	}

	switch typ {
	case TypeConnectionEstablished:
		var msg serverConnectionEstablished
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode connection_established: %w", err)
		}
		return ConnectionEstablishedEvent{SessionID: msg.SessionID}, nil
	case TypeVoiceResponse, TypeGuidanceResponse, TypeSnapshotReceived:
		var msg serverAdvice
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return AdviceEvent{Kind: typ, Advice: msg.Advice}, nil
	case TypeTranscription:
		var msg serverTranscription
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
		return TranscriptionEvent{Text: msg.Text, IsPartial: msg.IsPartial}, nil
	case TypeError:
		var msg serverError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode error frame: %w", err)
		}
		return ErrorEvent{Message: msg.Message}, nil
	default:
		return UnknownEvent{
			Type: typ,
			Raw:  append(json.RawMessage(nil), data...),
		}, nil
	}
}
