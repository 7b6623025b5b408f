package session

import (
	"context"
	"log/slog"

	"github.com/room4-2/tripbridge/gemini"
)

// Upstream is the active conversation with the model, live or fallback.
type Upstream interface {
	SendText(text string) error
	SendAudio(data string) error
	SendInterrupt() error
	Close() error
}

// Dialer creates upstream sessions. Both methods block until the session is
// usable or has failed.
type Dialer interface {
	DialLive(ctx context.Context, tools gemini.Tools, events gemini.Events, log *slog.Logger) (Upstream, error)
	NewFallback(ctx context.Context, tools gemini.Tools, events gemini.Events, log *slog.Logger) (Upstream, error)
}

// GeminiDialer builds gemini live and fallback sessions. The fallback
// system instruction is extended with text-chat guidance.
type GeminiDialer struct {
	Live     gemini.LiveConfig
	Fallback gemini.FallbackConfig
}

func (d *GeminiDialer) DialLive(ctx context.Context, tools gemini.Tools, events gemini.Events, log *slog.Logger) (Upstream, error) {
	cfg := d.Live
	cfg.Logger = log
	s, err := gemini.DialLive(ctx, cfg, tools, events)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (d *GeminiDialer) NewFallback(ctx context.Context, tools gemini.Tools, events gemini.Events, log *slog.Logger) (Upstream, error) {
	cfg := d.Fallback
	cfg.Logger = log
	cfg.SystemInstruction += fallbackPromptSuffix
	s, err := gemini.NewFallback(ctx, cfg, tools, events)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type upstreamKind int

const (
	upSetupComplete upstreamKind = iota
	upTranscript
	upAudio
	upToolCall
	upTurnComplete
	upInterrupted
	upError
	upClose
)

// upstreamEvent is a session event tagged with the generation of the
// session that produced it.
type upstreamEvent struct {
	gen     uint64
	kind    upstreamKind
	role    string
	text    string
	partial bool
	call    gemini.ToolCall
	err     error
}

// eventRelay implements gemini.Events by posting to the connection loop.
type eventRelay struct {
	gen   uint64
	inbox chan<- any
	done  <-chan struct{}
}

func (r *eventRelay) post(ev upstreamEvent) {
	ev.gen = r.gen
	select {
	case r.inbox <- ev:
	case <-r.done:
	}
}

func (r *eventRelay) OnSetupComplete() { r.post(upstreamEvent{kind: upSetupComplete}) }

func (r *eventRelay) OnTranscript(role, text string, partial bool) {
	r.post(upstreamEvent{kind: upTranscript, role: role, text: text, partial: partial})
}

func (r *eventRelay) OnAudio(data string) { r.post(upstreamEvent{kind: upAudio, text: data}) }

func (r *eventRelay) OnToolCall(call gemini.ToolCall) {
	r.post(upstreamEvent{kind: upToolCall, call: call})
}

func (r *eventRelay) OnTurnComplete() { r.post(upstreamEvent{kind: upTurnComplete}) }

func (r *eventRelay) OnInterrupted() { r.post(upstreamEvent{kind: upInterrupted}) }

func (r *eventRelay) OnError(err error) { r.post(upstreamEvent{kind: upError, err: err}) }

func (r *eventRelay) OnClose() { r.post(upstreamEvent{kind: upClose}) }
