package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/room4-2/tripbridge/functions"
)

// Transcript roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConnected is returned when sending before setup completed.
	ErrNotConnected = errors.New("session not connected")
	// ErrClosed is returned when sending on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrSetupTimeout is returned when setup does not complete in time.
	ErrSetupTimeout = errors.New("timed out waiting for setup complete")
	// ErrAudioUnsupported is returned by sessions that only accept text.
	ErrAudioUnsupported = errors.New("audio input not supported")
)

// TransportError is a failure of the network leg to the upstream service.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ToolCall is a model-requested tool invocation after it was executed.
// Result is nil when Err is set.
type ToolCall struct {
	ID     string
	Name   string
	Args   map[string]any
	Result map[string]any
	Err    error
}

// Events receives everything a session reports. Methods are called from the
// session's own goroutine, one at a time, and never after Close returns.
type Events interface {
	OnSetupComplete()
	OnTranscript(role, text string, partial bool)
	OnAudio(data string)
	OnToolCall(call ToolCall)
	OnTurnComplete()
	OnInterrupted()
	OnError(err error)
	OnClose()
}

// NopEvents ignores every event. Embed it to implement only some methods.
type NopEvents struct{}

func (NopEvents) OnSetupComplete() {}
func (NopEvents) OnTranscript(string, string, bool) {}
func (NopEvents) OnAudio(string) {}
func (NopEvents) OnToolCall(ToolCall) {}
func (NopEvents) OnTurnComplete() {}
func (NopEvents) OnInterrupted() {}
func (NopEvents) OnError(error) {}
func (NopEvents) OnClose() {}

// Tools executes the catalog offered to the model. functions.Executor
// implements it.
type Tools interface {
	Declarations() []functions.Declaration
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// errorResult is the tool result reported upstream when dispatch fails.
func errorResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}
