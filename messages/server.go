package messages

import (
	"time"

	"github.com/bytedance/sonic"
)

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUpstreamError  = "UPSTREAM_ERROR"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeBufferFull     = "BUFFER_FULL"
	ErrCodeNotReady       = "NOT_READY"
)

// Message types
const (
	TypeStatus     = "status"
	TypeTranscript = "transcript"
	TypeAudio      = "audio"
	TypeItinerary  = "itinerary"
	TypeToolCall   = "tool_call"
	TypeSources    = "sources"
	TypeError      = "error"
)

// Status values
const (
	StatusIdle         = "idle"
	StatusConnecting   = "connecting"
	StatusReady        = "ready"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
	StatusTurnComplete = "turn_complete"
	StatusInterrupted  = "interrupted"
	StatusPong         = "pong"
)

// ServerMessage represents a message sent to the browser client.
// Text and IsPartial are only set on transcripts.
type ServerMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	IsPartial *bool  `json:"isPartial,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Encode renders the message as a JSON text frame.
func (m *ServerMessage) Encode() ([]byte, error) {
	return sonic.ConfigStd.Marshal(m)
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// TranscriptPayload tags a transcript with its speaker
type TranscriptPayload struct {
	Role string `json:"role"` // "user" or "assistant"
}

// ItineraryPayload carries the connection's whole itinerary
type ItineraryPayload struct {
	FullItinerary any `json:"full_itinerary"`
}

// ToolCallPayload describes a tool the model invoked
type ToolCallPayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// SourcesPayload announces that a data-fetching tool completed
type SourcesPayload struct {
	Tool      string `json:"tool"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewStatusMessage creates a status message
func NewStatusMessage(status, message string) *ServerMessage {
	return &ServerMessage{
		Type: TypeStatus,
		Data: StatusPayload{Status: status, Message: message},
	}
}

// NewTranscriptMessage creates a transcript message
func NewTranscriptMessage(role, text string, partial bool) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTranscript,
		Text:      text,
		IsPartial: &partial,
		Data:      TranscriptPayload{Role: role},
	}
}

// NewAudioMessage creates an audio message from an already base64-encoded frame
func NewAudioMessage(data string) *ServerMessage {
	return &ServerMessage{Type: TypeAudio, Data: data}
}

// NewItineraryMessage creates an itinerary message
func NewItineraryMessage(itinerary any) *ServerMessage {
	return &ServerMessage{
		Type: TypeItinerary,
		Data: ItineraryPayload{FullItinerary: itinerary},
	}
}

// NewToolCallMessage creates a tool_call message
func NewToolCallMessage(name string, args map[string]any) *ServerMessage {
	if args == nil {
		args = map[string]any{}
	}
	return &ServerMessage{
		Type: TypeToolCall,
		Data: ToolCallPayload{Name: name, Args: args},
	}
}

// NewSourcesMessage creates a sources message stamped with now
func NewSourcesMessage(tool string, now time.Time) *ServerMessage {
	return &ServerMessage{
		Type: TypeSources,
		Data: SourcesPayload{Tool: tool, Timestamp: now.UnixMilli()},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) *ServerMessage {
	return &ServerMessage{
		Type: TypeError,
		Data: ErrorPayload{Code: code, Message: message},
	}
}
