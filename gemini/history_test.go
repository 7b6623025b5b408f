package gemini

import (
	"errors"
	"testing"

	"google.golang.org/genai"
)

func TestHistory_RoundTripOrder(t *testing.T) {
	h := &History{}
	call := &genai.FunctionCall{ID: "c1", Name: "get_weather", Args: map[string]any{"location": "Oslo"}}

	steps := []*genai.Content{
		userTurn("weather in Oslo?"),
		modelCall(call),
		functionTurn(call, map[string]any{"temp": 4}),
		modelText("It is 4 degrees."),
		userTurn("thanks"),
	}
	for i, c := range steps {
		if err := h.Append(c); err != nil {
			t.Fatalf("Append step %d: %v", i, err)
		}
	}
	want := []string{"user", "model", "function", "model", "user"}
	got := h.Roles()
	if len(got) != len(want) {
		t.Fatalf("roles=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("roles=%v, want %v", got, want)
		}
	}
}

func TestHistory_RejectsOutOfOrderTurns(t *testing.T) {
	call := &genai.FunctionCall{Name: "get_weather"}
	other := &genai.FunctionCall{Name: "search_places"}

	t.Run("function without call", func(t *testing.T) {
		h := &History{}
		_ = h.Append(userTurn("hi"))
		if err := h.Append(functionTurn(call, nil)); !errors.Is(err, ErrHistoryOrder) {
			t.Fatalf("err=%v, want ErrHistoryOrder", err)
		}
	})
	t.Run("function answering another call", func(t *testing.T) {
		h := &History{}
		_ = h.Append(userTurn("hi"))
		_ = h.Append(modelCall(other))
		if err := h.Append(functionTurn(call, nil)); !errors.Is(err, ErrHistoryOrder) {
			t.Fatalf("err=%v, want ErrHistoryOrder", err)
		}
	})
	t.Run("user after function", func(t *testing.T) {
		h := &History{}
		_ = h.Append(userTurn("hi"))
		_ = h.Append(modelCall(call))
		if err := h.Append(functionTurn(call, nil)); err != nil {
			t.Fatalf("Append function: %v", err)
		}
		if err := h.Append(userTurn("again")); !errors.Is(err, ErrHistoryOrder) {
			t.Fatalf("err=%v, want ErrHistoryOrder", err)
		}
		if h.Len() != 3 {
			t.Fatalf("len=%d, want 3", h.Len())
		}
	})
	t.Run("empty turn", func(t *testing.T) {
		h := &History{}
		if err := h.Append(&genai.Content{Role: "user"}); !errors.Is(err, ErrHistoryOrder) {
			t.Fatalf("err=%v, want ErrHistoryOrder", err)
		}
	})
}

func TestHistory_ContentsIsACopy(t *testing.T) {
	h := &History{}
	_ = h.Append(userTurn("original"))

	snapshot := h.Contents()
	snapshot[0].Role = "model"
	snapshot[0].Parts[0].Text = "changed"

	again := h.Contents()
	if again[0].Role != "user" || again[0].Parts[0].Text != "original" {
		t.Fatalf("history mutated through snapshot: %+v", again[0])
	}
}
