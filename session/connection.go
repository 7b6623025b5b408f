package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/tripbridge/functions"
	"github.com/room4-2/tripbridge/logging"
	"github.com/room4-2/tripbridge/messages"
)

const (
	sendBufferSize  = 256
	inboxSize       = 64
	writeTimeout    = 10 * time.Second
	maxMessageBytes = 512 * 1024
)

// Observer is told about every state change of a connection.
type Observer interface {
	ConnectionState(id string, state State, mode Mode)
}

// Options configures a Connection.
type Options struct {
	Dialer          Dialer
	Tools           *functions.Dispatcher
	KeepAlivePeriod time.Duration
	MaxBufferSize   int
	Observer        Observer
	Logger          *slog.Logger
}

// connectResult reports the outcome of one connect attempt to the loop over
// an unbuffered channel, so a delivered result is always handled. The loop
// closes released once it has adopted or discarded up.
type connectResult struct {
	gen      uint64
	up       Upstream
	mode     Mode
	liveErr  error
	err      error
	released chan struct{}
}

// Connection bridges one client websocket to at most one upstream session.
// All lifecycle transitions happen on the goroutine running Run.
type Connection struct {
	ID        string
	CreatedAt time.Time

	ws    *websocket.Conn
	opts  Options
	log   *slog.Logger
	tools *functions.Executor

	lastActivity atomic.Int64

	inbox     chan any
	results   chan connectResult
	send      chan *messages.ServerMessage
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop.
	state         State
	mode          Mode
	gen           uint64
	upstream      Upstream
	cancelSession context.CancelFunc
	released      <-chan struct{}
	pending       *PendingInput
}

// NewConnection wraps an accepted websocket. Call Run to start bridging.
func NewConnection(id string, ws *websocket.Conn, opts Options) *Connection {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tools == nil {
		opts.Tools = functions.NewDispatcher()
	}
	log := opts.Logger.With("conn", logging.ShortID(id))
	st := functions.NewState()
	st.Logger = log
	c := &Connection{
		ID:        id,
		CreatedAt: time.Now(),
		ws:        ws,
		opts:      opts,
		log:       log,
		tools:     opts.Tools.Bind(st),
		inbox:     make(chan any, inboxSize),
		results:   make(chan connectResult),
		send:      make(chan *messages.ServerMessage, sendBufferSize),
		done:      make(chan struct{}),
		pending:   NewPendingInput(opts.MaxBufferSize),
	}
	c.touch()

	ws.SetReadLimit(maxMessageBytes)
	return c
}

// Run serves the connection until the client goes away, Close is called or
// ctx is cancelled. The upstream session is always released on return.
func (c *Connection) Run(ctx context.Context) {
	go c.writePump()
	go c.readPump()

	c.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.Close()
			return
		case <-c.done:
			c.teardown()
			return
		case res := <-c.results:
			c.connected(res)
		case ev := <-c.inbox:
			c.handle(ctx, ev)
		}
	}
}

// Close ends the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// LastActivity returns the time of the latest client or upstream traffic.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Itinerary returns the connection's itinerary.
func (c *Connection) Itinerary() *functions.Itinerary {
	return c.tools.State().Itinerary
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case *messages.ClientMessage:
		c.touch()
		c.handleClient(ctx, ev)
	case upstreamEvent:
		if ev.gen != c.gen {
			return
		}
		c.touch()
		c.handleUpstream(ev)
	}
}

func (c *Connection) setState(s State) {
	c.state = s
	if c.opts.Observer != nil {
		c.opts.Observer.ConnectionState(c.ID, s, c.mode)
	}
}

// connect starts a new connect attempt: live first, fallback once.
func (c *Connection) connect(ctx context.Context) {
	c.gen++
	gen := c.gen
	c.mode = ModeLive
	c.setState(StateConnecting)
	c.queue(messages.NewStatusMessage(messages.StatusConnecting, "connecting to live session"))

	// sessionCtx outlives the connect attempt and bounds the upstream.
	sessionCtx, cancel := context.WithCancel(ctx)
	c.cancelSession = cancel

	prev := c.released
	released := make(chan struct{})
	c.released = released

	relay := &eventRelay{gen: gen, inbox: c.inbox, done: sessionCtx.Done()}
	go func() {
		// The previous attempt's upstream must be closed before dialing again.
		if prev != nil {
			select {
			case <-prev:
			case <-c.done:
				return
			}
		}
		res := c.dial(sessionCtx, relay)
		res.gen = gen
		res.released = released
		select {
		case c.results <- res:
		case <-c.done:
			if res.up != nil {
				_ = res.up.Close()
			}
		}
	}()
}

func (c *Connection) dial(ctx context.Context, relay *eventRelay) connectResult {
	up, liveErr := c.opts.Dialer.DialLive(ctx, c.tools, relay, c.log)
	if liveErr == nil {
		return connectResult{up: up, mode: ModeLive}
	}
	if ctx.Err() != nil {
		return connectResult{liveErr: liveErr, err: ctx.Err()}
	}
	c.log.Warn("live session unavailable, trying fallback", "error", liveErr)

	up, err := c.opts.Dialer.NewFallback(ctx, c.tools, relay, c.log)
	if err != nil {
		return connectResult{liveErr: liveErr, err: err}
	}
	return connectResult{up: up, mode: ModeFallback, liveErr: liveErr}
}

func (c *Connection) connected(res connectResult) {
	defer close(res.released)

	if res.gen != c.gen || c.state != StateConnecting {
		if res.up != nil {
			_ = res.up.Close()
		}
		return
	}

	if res.err != nil {
		c.cancelSession()
		c.cancelSession = nil
		discarded := c.pending.Clear()
		c.setState(StateError)
		c.log.Error("session failed", "live_error", res.liveErr, "error", res.err, "discarded", discarded)
		msg := fmt.Sprintf("could not reach the assistant: %v", res.err)
		if discarded > 0 {
			msg += fmt.Sprintf(" (%d queued inputs discarded)", discarded)
		}
		c.queue(messages.NewErrorMessage(messages.ErrCodeSessionFailed, msg))
		return
	}

	c.upstream = res.up
	c.mode = res.mode
	c.setState(StateReady)
	c.log.Info("session ready", "mode", c.mode)
	if c.mode == ModeFallback {
		c.queue(messages.NewStatusMessage(messages.StatusReady, "fallback session ready (text only)"))
	} else {
		c.queue(messages.NewStatusMessage(messages.StatusReady, "live session ready"))
	}

	for _, in := range c.pending.Flush() {
		c.forward(in.kind, in.data)
	}
}

// teardown closes the active upstream and abandons any connect in
// progress. Events from either are ignored from here on.
func (c *Connection) teardown() int {
	c.gen++
	if c.cancelSession != nil {
		c.cancelSession()
		c.cancelSession = nil
	}
	if c.upstream != nil {
		if err := c.upstream.Close(); err != nil {
			c.log.Debug("upstream close", "error", err)
		}
		c.upstream = nil
	}
	return c.pending.Clear()
}

func (c *Connection) handleClient(ctx context.Context, msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.ClientControl:
		c.handleControl(ctx, msg.Action)
	case messages.ClientText:
		c.input(inputText, msg.Data)
	case messages.ClientAudio:
		c.input(inputAudio, msg.Data)
	}
}

func (c *Connection) handleControl(ctx context.Context, action string) {
	switch action {
	case messages.ActionStart:
		if !c.state.canStart() {
			c.queue(c.statusMessage())
			return
		}
		c.connect(ctx)

	case messages.ActionStop:
		discarded := c.teardown()
		c.setState(StateIdle)
		msg := "session stopped"
		if discarded > 0 {
			msg = fmt.Sprintf("session stopped, %d queued inputs discarded", discarded)
		}
		c.queue(messages.NewStatusMessage(messages.StatusIdle, msg))

	case messages.ActionReset:
		c.teardown()
		c.log.Info("session reset")
		c.connect(ctx)

	case messages.ActionInterrupt:
		switch {
		case c.state != StateReady:
			c.queue(messages.NewErrorMessage(messages.ErrCodeNotReady, "nothing to interrupt"))
		case c.mode == ModeFallback:
			c.log.Debug("interrupt ignored in fallback mode")
		default:
			if err := c.upstream.SendInterrupt(); err != nil {
				c.upstreamFailed("interrupt", err)
			}
		}

	case messages.ActionPing:
		c.queue(messages.NewStatusMessage(messages.StatusPong, ""))
	}
}

func (c *Connection) statusMessage() *messages.ServerMessage {
	switch c.state {
	case StateReady:
		return messages.NewStatusMessage(messages.StatusReady, c.mode.String()+" session ready")
	case StateConnecting:
		return messages.NewStatusMessage(messages.StatusConnecting, "already connecting")
	default:
		return messages.NewStatusMessage(c.state.String(), "")
	}
}

func (c *Connection) input(kind inputKind, data string) {
	switch c.state {
	case StateReady:
		c.forward(kind, data)
	case StateConnecting:
		if err := c.pending.Append(kind, data); err != nil {
			c.queue(messages.NewErrorMessage(messages.ErrCodeBufferFull,
				fmt.Sprintf("input buffer full (max %d bytes)", c.pending.MaxSize())))
			return
		}
		if kind == inputText {
			c.queue(messages.NewStatusMessage(messages.StatusConnecting, "queued until session is ready"))
		}
	default:
		c.queue(messages.NewErrorMessage(messages.ErrCodeNotReady,
			fmt.Sprintf("session is %s, send a start control first", c.state)))
	}
}

func (c *Connection) forward(kind inputKind, data string) {
	var err error
	switch {
	case kind == inputText:
		err = c.upstream.SendText(data)
	case c.mode == ModeFallback:
		c.log.Debug("audio ignored in fallback mode", "bytes", len(data))
	default:
		err = c.upstream.SendAudio(data)
	}
	if err != nil {
		c.upstreamFailed("send", err)
	}
}

func (c *Connection) upstreamFailed(op string, err error) {
	c.log.Warn("upstream request failed", "op", op, "error", err)
	c.queue(messages.NewErrorMessage(messages.ErrCodeUpstreamError, err.Error()))
}

func (c *Connection) handleUpstream(ev upstreamEvent) {
	switch ev.kind {
	case upSetupComplete:
		c.log.Debug("upstream setup complete")
	case upTranscript:
		c.queue(messages.NewTranscriptMessage(ev.role, ev.text, ev.partial))
	case upAudio:
		c.queue(messages.NewAudioMessage(ev.text))
	case upToolCall:
		c.toolCalled(ev)
	case upTurnComplete:
		c.queue(messages.NewStatusMessage(messages.StatusTurnComplete, ""))
	case upInterrupted:
		c.queue(messages.NewStatusMessage(messages.StatusInterrupted, ""))
	case upError:
		c.upstreamFailed("stream", ev.err)
	case upClose:
		c.teardown()
		c.setState(StateDisconnected)
		c.log.Info("upstream session closed")
		c.queue(messages.NewStatusMessage(messages.StatusDisconnected, "upstream session closed"))
	}
}

func (c *Connection) toolCalled(ev upstreamEvent) {
	call := ev.call
	c.log.Info("tool call", "tool", call.Name, "call_id", call.ID, "failed", call.Err != nil)
	c.queue(messages.NewToolCallMessage(call.Name, call.Args))
	if call.Err != nil {
		var de *functions.DispatchError
		if !errors.As(call.Err, &de) {
			c.log.Warn("tool result not delivered", "tool", call.Name, "error", call.Err)
		}
		return
	}
	if c.opts.Tools.FetchesData(call.Name) {
		c.queue(messages.NewSourcesMessage(call.Name, time.Now()))
	}
	if call.Name == functions.ToolUpdateItinerary {
		if full, ok := call.Result["full_itinerary"]; ok {
			c.queue(messages.NewItineraryMessage(full))
		}
	}
}

// queue hands a message to the write pump without blocking.
func (c *Connection) queue(msg *messages.ServerMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.log.Warn("client send queue full, dropping message", "type", msg.Type)
	}
}

func (c *Connection) readPump() {
	defer c.Close()

	if c.opts.KeepAlivePeriod > 0 {
		pongWait := 2 * c.opts.KeepAlivePeriod
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("client read failed", "error", err)
			}
			return
		}
		c.touch()

		msg, err := messages.ParseClientMessage(data)
		if err != nil {
			c.queue(messages.NewErrorMessage(messages.ErrCodeInvalidMessage, err.Error()))
			continue
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump is the only goroutine writing to the client socket.
func (c *Connection) writePump() {
	var ping <-chan time.Time
	if c.opts.KeepAlivePeriod > 0 {
		ticker := time.NewTicker(c.opts.KeepAlivePeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer func() {
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.drain()
			return
		case <-ping:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.Debug("client write failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

// drain flushes whatever was queued before Close.
func (c *Connection) drain() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(msg *messages.ServerMessage) error {
	data, err := msg.Encode()
	if err != nil {
		c.log.Error("encode server message", "type", msg.Type, "error", err)
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
