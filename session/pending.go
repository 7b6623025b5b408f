package session

import (
	"errors"
)

// ErrBufferFull is returned when queued input would exceed the buffer size.
var ErrBufferFull = errors.New("pending input buffer full")

type inputKind int

const (
	inputText inputKind = iota
	inputAudio
)

type pendingInput struct {
	kind inputKind
	data string
}

// PendingInput holds client input received while the upstream session is
// still connecting. It is owned by the connection loop and is not
// safe for concurrent use.
type PendingInput struct {
	items     []pendingInput
	totalSize int
	maxSize   int
}

// NewPendingInput creates a buffer bounded to maxSize bytes of payload.
func NewPendingInput(maxSize int) *PendingInput {
	return &PendingInput{maxSize: maxSize}
}

// MaxSize returns the maximum buffer size
func (p *PendingInput) MaxSize() int {
	return p.maxSize
}

// Append queues one input. Returns ErrBufferFull if it does not fit.
func (p *PendingInput) Append(kind inputKind, data string) error {
	newSize := p.totalSize + len(data)
	if newSize > p.maxSize {
		return ErrBufferFull
	}
	p.items = append(p.items, pendingInput{kind: kind, data: data})
	p.totalSize = newSize
	return nil
}

// Flush returns queued input in arrival order and empties the buffer.
func (p *PendingInput) Flush() []pendingInput {
	items := p.items
	p.items = nil
	p.totalSize = 0
	return items
}

// Clear drops everything and reports how many inputs were discarded.
func (p *PendingInput) Clear() int {
	n := len(p.items)
	p.items = nil
	p.totalSize = 0
	return n
}

// Size returns the current total buffered bytes
func (p *PendingInput) Size() int {
	return p.totalSize
}

// Len returns the number of queued inputs
func (p *PendingInput) Len() int {
	return len(p.items)
}
