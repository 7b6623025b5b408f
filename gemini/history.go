package gemini

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jinzhu/copier"
	"google.golang.org/genai"
)

// Conversation roles as sent to the request/response endpoint.
const (
	roleUser     = "user"
	roleModel    = "model"
	roleFunction = "function"
)

// ErrHistoryOrder is returned when a turn would break the function-call
// round trip ordering.
var ErrHistoryOrder = errors.New("history order violated")

// History is an append-only conversation replayed on every fallback request.
// A function turn must directly follow the model turn whose call it answers,
// and a user turn may not directly follow a function turn.
type History struct {
	mu    sync.Mutex
	turns []*genai.Content
}

// Append validates and adds a turn.
func (h *History) Append(c *genai.Content) error {
	if c == nil || len(c.Parts) == 0 {
		return fmt.Errorf("%w: empty turn", ErrHistoryOrder)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var last *genai.Content
	if n := len(h.turns); n > 0 {
		last = h.turns[n-1]
	}

	switch c.Role {
	case roleFunction:
		for _, p := range c.Parts {
			if p.FunctionResponse == nil {
				return fmt.Errorf("%w: function turn without a function response", ErrHistoryOrder)
			}
			if !answers(last, p.FunctionResponse.Name) {
				return fmt.Errorf("%w: response to %q does not follow its call", ErrHistoryOrder, p.FunctionResponse.Name)
			}
		}
	case roleUser:
		if last != nil && last.Role == roleFunction {
			return fmt.Errorf("%w: user turn directly after a function turn", ErrHistoryOrder)
		}
	case roleModel:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrHistoryOrder, c.Role)
	}

	h.turns = append(h.turns, c)
	return nil
}

func answers(turn *genai.Content, name string) bool {
	if turn == nil || turn.Role != roleModel {
		return false
	}
	for _, p := range turn.Parts {
		if p.FunctionCall != nil && p.FunctionCall.Name == name {
			return true
		}
	}
	return false
}

// Contents returns a deep copy suitable for a request.
func (h *History) Contents() []*genai.Content {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*genai.Content
	if err := copier.CopyWithOption(&out, &h.turns, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on mismatched types; fall back to a shallow copy
		return append([]*genai.Content(nil), h.turns...)
	}
	return out
}

// Roles lists the role of every turn in order.
func (h *History) Roles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	roles := make([]string, 0, len(h.turns))
	for _, t := range h.turns {
		roles = append(roles, t.Role)
	}
	return roles
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

func userTurn(text string) *genai.Content {
	return &genai.Content{Role: roleUser, Parts: []*genai.Part{{Text: text}}}
}

func modelText(text string) *genai.Content {
	return &genai.Content{Role: roleModel, Parts: []*genai.Part{{Text: text}}}
}

func modelCall(fc *genai.FunctionCall) *genai.Content {
	return &genai.Content{Role: roleModel, Parts: []*genai.Part{{FunctionCall: fc}}}
}

func functionTurn(fc *genai.FunctionCall, response map[string]any) *genai.Content {
	return &genai.Content{Role: roleFunction, Parts: []*genai.Part{{
		FunctionResponse: &genai.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: response},
	}}}
}
