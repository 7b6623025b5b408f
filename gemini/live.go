package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	audioMIMEType  = "audio/pcm;rate=16000"
	writeWait      = 10 * time.Second
	maxFrameBytes  = 16 << 20
	defaultTimeout = 10 * time.Second
)

// LiveConfig configures a live session.
type LiveConfig struct {
	URL               string
	APIKey            string
	Model             string
	SystemInstruction string
	VoiceName         string
	// ConnectTimeout bounds dialing plus waiting for setup complete.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// LiveSession is one bidirectional stream to the upstream model.
type LiveSession struct {
	cfg    LiveConfig
	tools  Tools
	events Events
	codec  Codec
	log    *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	// ctx is cancelled by Close. Every event delivery checks it first.
	ctx    context.Context
	cancel context.CancelFunc

	connected atomic.Bool
	setupOnce sync.Once
	closeOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	readErr   error

	pendingMu sync.Mutex
	pending   map[string]string
}

// DialLive connects, sends the setup frame and waits for setup complete.
// It returns once the session is usable, or fails with a *TransportError,
// ErrSetupTimeout or ctx's error. Events are only delivered after a
// successful return.
func DialLive(ctx context.Context, cfg LiveConfig, tools Tools, events Events) (*LiveSession, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultLiveURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if events == nil {
		events = NopEvents{}
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancelConnect()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.ConnectTimeout,
	}
	conn, resp, err := dialer.DialContext(connectCtx, liveURL(cfg.URL, cfg.APIKey), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxFrameBytes)

	sessCtx, cancel := context.WithCancel(ctx)
	s := &LiveSession{
		cfg:     cfg,
		tools:   tools,
		events:  events,
		codec:   SnakeCase,
		log:     cfg.Logger.With("mode", "live"),
		conn:    conn,
		ctx:     sessCtx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[string]string),
	}
	go s.readLoop()

	setup := &Setup{
		Model:             cfg.Model,
		SystemInstruction: cfg.SystemInstruction,
		VoiceName:         cfg.VoiceName,
	}
	if tools != nil {
		setup.Tools = tools.Declarations()
	}
	if err := s.send(&Frame{Setup: setup}); err != nil {
		s.Close()
		return nil, &TransportError{Op: "setup", Err: err}
	}
	s.log.Debug("setup sent", "model", cfg.Model, "tools", len(setup.Tools))

	select {
	case <-s.ready:
		s.log.Info("live session ready", "model", cfg.Model)
		return s, nil
	case <-s.done:
		s.Close()
		err := s.readErr
		if err == nil {
			err = errors.New("closed before setup complete")
		}
		return nil, &TransportError{Op: "setup", Err: err}
	case <-connectCtx.Done():
		s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrSetupTimeout
	}
}

func liveURL(base, apiKey string) string {
	if apiKey == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "key=" + url.QueryEscape(apiKey)
}

// SendText sends one complete user text turn.
func (s *LiveSession) SendText(text string) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.send(&Frame{ClientContent: &ClientContent{
		Turns:        []Content{{Role: RoleUser, Parts: []Part{{Text: text}}}},
		TurnComplete: true,
	}})
}

// SendAudio streams one base64 PCM chunk.
func (s *LiveSession) SendAudio(data string) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.send(&Frame{RealtimeInput: &RealtimeInput{
		MediaChunks: []Blob{{MIMEType: audioMIMEType, Data: data}},
	}})
}

// SendInterrupt tells upstream the user is taking the turn back. The
// protocol has no cancel message; an empty completed turn is the signal.
func (s *LiveSession) SendInterrupt() error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.send(&Frame{ClientContent: &ClientContent{TurnComplete: true}})
}

// PendingCalls returns the ids of tool calls still awaiting a result.
func (s *LiveSession) PendingCalls() []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

// Close stops event delivery and releases the transport. It does not wait
// for an in-flight tool call to finish.
func (s *LiveSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.connected.Store(false)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		err = s.conn.Close()
		s.log.Debug("live session closed")
	})
	return err
}

func (s *LiveSession) usable() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if !s.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

func (s *LiveSession) send(f *Frame) error {
	data, err := s.codec.Encode(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// deliver runs fn unless the session has been closed.
func (s *LiveSession) deliver(fn func(Events)) {
	if s.ctx.Err() != nil {
		return
	}
	fn(s.events)
}

func (s *LiveSession) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			s.connected.Store(false)
			s.finish(err)
			return
		}

		f, err := s.codec.Decode(data)
		if err != nil {
			s.log.Warn("dropping upstream frame", "error", err)
			continue
		}
		s.handle(f)
	}
}

// finish reports the end of the stream. Nothing is reported when the
// session never became ready or was closed locally.
func (s *LiveSession) finish(err error) {
	select {
	case <-s.ready:
	default:
		return
	}
	if s.ctx.Err() != nil {
		return
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Warn("live stream failed", "error", err)
		s.deliver(func(e Events) { e.OnError(&TransportError{Op: "read", Err: err}) })
	}
	s.deliver(func(e Events) { e.OnClose() })
}

func (s *LiveSession) handle(f *Frame) {
	if f.SetupComplete {
		s.setupOnce.Do(func() {
			s.connected.Store(true)
			close(s.ready)
			s.deliver(func(e Events) { e.OnSetupComplete() })
		})
	}

	if sc := f.ServerContent; sc != nil {
		partial := !sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				switch {
				case p.InlineData != nil && p.InlineData.Data != "":
					data := p.InlineData.Data
					s.deliver(func(e Events) { e.OnAudio(data) })
				case p.Text != "":
					text := p.Text
					s.deliver(func(e Events) { e.OnTranscript(RoleAssistant, text, partial) })
				}
			}
		}
		if sc.InputTranscription != "" {
			s.deliver(func(e Events) { e.OnTranscript(RoleUser, sc.InputTranscription, partial) })
		}
		if sc.OutputTranscription != "" {
			s.deliver(func(e Events) { e.OnTranscript(RoleAssistant, sc.OutputTranscription, partial) })
		}
		if sc.Interrupted {
			s.deliver(func(e Events) { e.OnInterrupted() })
		}
		if sc.TurnComplete {
			s.deliver(func(e Events) { e.OnTurnComplete() })
		}
	}

	for _, call := range f.ToolCall {
		if s.ctx.Err() != nil {
			return
		}
		s.runTool(call)
	}

	if len(f.ToolCallCancellation) > 0 {
		s.pendingMu.Lock()
		for _, id := range f.ToolCallCancellation {
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()
		s.log.Info("tool calls cancelled upstream", "ids", f.ToolCallCancellation)
	}

	if f.Empty() {
		s.log.Debug("ignoring unrecognized upstream frame")
	}
}

// runTool executes one call, answers upstream, then reports it. The reply
// goes out first so a slow or failing client never leaves upstream waiting.
func (s *LiveSession) runTool(fc FunctionCall) {
	s.pendingMu.Lock()
	s.pending[fc.ID] = fc.Name
	s.pendingMu.Unlock()

	log := s.log.With("tool", fc.Name, "call_id", fc.ID)
	log.Info("executing tool call")

	call := ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
	var response map[string]any
	if s.tools == nil {
		call.Err = errors.New("no tools configured")
	} else {
		call.Result, call.Err = s.tools.Execute(s.ctx, fc.Name, fc.Args)
	}
	if call.Err != nil {
		log.Warn("tool call failed", "error", call.Err)
		call.Result = nil
		response = errorResult(call.Err)
	} else {
		response = call.Result
	}

	err := s.send(&Frame{ToolResponse: &ToolResponse{
		FunctionResponses: []FunctionResponse{{ID: fc.ID, Name: fc.Name, Response: response}},
	}})

	s.pendingMu.Lock()
	delete(s.pending, fc.ID)
	s.pendingMu.Unlock()

	if err != nil && s.ctx.Err() == nil {
		log.Error("failed to send tool response", "error", err)
		s.deliver(func(e Events) { e.OnError(err) })
	}
	s.deliver(func(e Events) { e.OnToolCall(call) })
}
