package session

import (
	"errors"
	"testing"
)

func TestPendingInput_FlushKeepsOrder(t *testing.T) {
	p := NewPendingInput(100)
	if err := p.Append(inputText, "plan a trip"); err != nil {
		t.Fatalf("Append text: %v", err)
	}
	if err := p.Append(inputAudio, "AAAA"); err != nil {
		t.Fatalf("Append audio: %v", err)
	}
	if p.Len() != 2 || p.Size() != len("plan a trip")+4 {
		t.Fatalf("Len=%d Size=%d", p.Len(), p.Size())
	}

	items := p.Flush()
	if len(items) != 2 || items[0].kind != inputText || items[1].kind != inputAudio {
		t.Fatalf("Flush=%+v, want text then audio", items)
	}
	if p.Len() != 0 || p.Size() != 0 {
		t.Fatalf("after Flush Len=%d Size=%d, want 0 0", p.Len(), p.Size())
	}
}

func TestPendingInput_Overflow(t *testing.T) {
	p := NewPendingInput(8)
	if err := p.Append(inputText, "12345"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := p.Append(inputText, "6789"); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("err=%v, want ErrBufferFull", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Len=%d, want rejected input not queued", p.Len())
	}
	if err := p.Append(inputText, "678"); err != nil {
		t.Fatalf("Append exact fit: %v", err)
	}
}

func TestPendingInput_Clear(t *testing.T) {
	p := NewPendingInput(64)
	_ = p.Append(inputText, "a")
	_ = p.Append(inputText, "b")
	if n := p.Clear(); n != 2 {
		t.Fatalf("Clear=%d, want 2", n)
	}
	if n := p.Clear(); n != 0 {
		t.Fatalf("second Clear=%d, want 0", n)
	}
}
