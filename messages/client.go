package messages

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	ClientControl = "control"
	ClientAudio   = "audio"
	ClientText    = "text"
)

// Control actions
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionReset     = "reset"
	ActionInterrupt = "interrupt"
	ActionPing      = "ping"
)

// ErrInvalidMessage wraps every client protocol violation.
var ErrInvalidMessage = errors.New("invalid client message")

// ClientMessage represents a message from the browser client
type ClientMessage struct {
	Type   string `json:"type"`             // "control", "audio", "text"
	Action string `json:"action,omitempty"` // control only
	Data   string `json:"data,omitempty"`   // base64 PCM for audio, utterance for text
}

// ParseClientMessage decodes and validates one client frame.
func ParseClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.ConfigStd.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}

	switch msg.Type {
	case ClientControl:
		switch msg.Action {
		case ActionStart, ActionStop, ActionReset, ActionInterrupt, ActionPing:
		default:
			return nil, fmt.Errorf("%w: unknown control action %q", ErrInvalidMessage, msg.Action)
		}
	case ClientAudio:
		if msg.Data == "" {
			return nil, fmt.Errorf("%w: empty audio payload", ErrInvalidMessage)
		}
		if _, err := base64.StdEncoding.DecodeString(msg.Data); err != nil {
			return nil, fmt.Errorf("%w: invalid base64 audio data", ErrInvalidMessage)
		}
	case ClientText:
		if strings.TrimSpace(msg.Data) == "" {
			return nil, fmt.Errorf("%w: empty text", ErrInvalidMessage)
		}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, msg.Type)
	}
	return &msg, nil
}
