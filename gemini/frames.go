package gemini

import "github.com/room4-2/tripbridge/functions"

// Frame is one message on the live stream, independent of how its field
// names are spelled on the wire. Outbound frames set exactly one of Setup,
// ClientContent, RealtimeInput or ToolResponse. Inbound frames may carry
// several of the remaining fields at once.
type Frame struct {
	Setup         *Setup
	ClientContent *ClientContent
	RealtimeInput *RealtimeInput
	ToolResponse  *ToolResponse

	SetupComplete        bool
	ServerContent        *ServerContent
	ToolCall             []FunctionCall
	ToolCallCancellation []string
}

// Empty reports whether the frame carries nothing this package understands.
func (f *Frame) Empty() bool {
	return f.Setup == nil && f.ClientContent == nil && f.RealtimeInput == nil &&
		f.ToolResponse == nil && !f.SetupComplete && f.ServerContent == nil &&
		len(f.ToolCall) == 0 && len(f.ToolCallCancellation) == 0
}

// Setup opens a live session.
type Setup struct {
	Model             string
	SystemInstruction string
	VoiceName         string
	Tools             []functions.Declaration
}

// ClientContent carries conversation turns from the bridge.
type ClientContent struct {
	Turns        []Content
	TurnComplete bool
}

// RealtimeInput carries streamed media.
type RealtimeInput struct {
	MediaChunks []Blob
}

// ToolResponse answers one or more function calls.
type ToolResponse struct {
	FunctionResponses []FunctionResponse
}

// ServerContent is model output for the current turn.
type ServerContent struct {
	ModelTurn           *Content
	TurnComplete        bool
	Interrupted         bool
	InputTranscription  string
	OutputTranscription string
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string
	Parts []Part
}

// Part is a single piece of content. Only one field is set.
type Part struct {
	Text       string
	InlineData *Blob
}

// Blob is base64-encoded media as it appears on the wire.
type Blob struct {
	MIMEType string
	Data     string
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse is the result returned for a FunctionCall.
type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}
