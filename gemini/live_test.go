package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/tripbridge/functions"
)

// fakeUpstream is a websocket server speaking the live protocol.
type fakeUpstream struct {
	srv    *httptest.Server
	frames chan *Frame
	conns  chan *websocket.Conn
}

func newFakeUpstream(t *testing.T, ack bool) *fakeUpstream {
	t.Helper()
	u := &fakeUpstream{
		frames: make(chan *Frame, 32),
		conns:  make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := SnakeCase.Decode(data)
		if err != nil {
			t.Errorf("decode setup: %v", err)
			return
		}
		u.frames <- f
		if ack {
			reply, _ := CamelCase.Encode(&Frame{SetupComplete: true})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
		u.conns <- conn

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := SnakeCase.Decode(data)
			if err != nil {
				t.Errorf("decode frame %s: %v", data, err)
				continue
			}
			u.frames <- f
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(u.srv.URL, "http")
}

func (u *fakeUpstream) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-u.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never accepted a connection")
		return nil
	}
}

func (u *fakeUpstream) next(t *testing.T) *Frame {
	t.Helper()
	select {
	case f := <-u.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame upstream")
		return nil
	}
}

func (u *fakeUpstream) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case f := <-u.frames:
		t.Fatalf("unexpected frame upstream: %+v", f)
	case <-time.After(wait):
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, f *Frame) {
	t.Helper()
	data, err := CamelCase.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// recorder captures events as short strings.
type recorder struct {
	ch    chan string
	mu    sync.Mutex
	calls []ToolCall
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 64)}
}

func (r *recorder) OnSetupComplete() { r.ch <- "setup" }
func (r *recorder) OnTranscript(role, text string, partial bool) {
	r.ch <- fmt.Sprintf("transcript %s %q partial=%v", role, text, partial)
}
func (r *recorder) OnAudio(data string) { r.ch <- "audio " + data }
func (r *recorder) OnToolCall(call ToolCall) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.ch <- "tool " + call.Name
}
func (r *recorder) OnTurnComplete() { r.ch <- "turn_complete" }
func (r *recorder) OnInterrupted() { r.ch <- "interrupted" }
func (r *recorder) OnError(err error) { r.ch <- "error" }
func (r *recorder) OnClose() { r.ch <- "close" }

func (r *recorder) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-r.ch:
			if got != w {
				t.Fatalf("event=%s, want %s", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", w)
		}
	}
}

func (r *recorder) quiet(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-r.ch:
		t.Fatalf("unexpected event %s", got)
	case <-time.After(wait):
	}
}

func testTools() *functions.Executor {
	d := functions.NewDispatcher()
	functions.Register(d, "echo", "Echoes text back.",
		func(_ context.Context, _ *functions.State, args struct {
			Text string `json:"text"`
		}) (map[string]any, error) {
			return map[string]any{"echo": args.Text}, nil
		})
	functions.Register(d, "fail", "Always fails.",
		func(context.Context, *functions.State, struct{}) (map[string]any, error) {
			return nil, errors.New("collaborator down")
		})
	return d.Bind(functions.NewState())
}

func dialTest(t *testing.T, u *fakeUpstream, rec *recorder) *LiveSession {
	t.Helper()
	s, err := DialLive(context.Background(), LiveConfig{
		URL:               u.url(),
		APIKey:            "test-key",
		Model:             "models/test-live",
		SystemInstruction: "You plan trips.",
		VoiceName:         "Puck",
		ConnectTimeout:    2 * time.Second,
	}, testTools(), rec)
	if err != nil {
		t.Fatalf("DialLive error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDialLive_SendsSetupAndWaitsForAck(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	dialTest(t, u, rec)

	setup := u.next(t).Setup
	if setup == nil {
		t.Fatal("first frame is not a setup frame")
	}
	if setup.Model != "models/test-live" || setup.SystemInstruction != "You plan trips." {
		t.Fatalf("setup=%+v", setup)
	}
	if len(setup.Tools) != 2 || setup.Tools[0].Name != "echo" || setup.Tools[1].Name != "fail" {
		t.Fatalf("tools=%+v", setup.Tools)
	}
	if setup.Tools[0].Parameters.Type != "OBJECT" {
		t.Fatalf("parameters type=%q, want OBJECT", setup.Tools[0].Parameters.Type)
	}
	rec.expect(t, "setup")
}

func TestDialLive_TimesOutWithoutAck(t *testing.T) {
	u := newFakeUpstream(t, false)
	rec := newRecorder()
	start := time.Now()
	_, err := DialLive(context.Background(), LiveConfig{
		URL:            u.url(),
		APIKey:         "test-key",
		ConnectTimeout: 200 * time.Millisecond,
	}, testTools(), rec)
	if !errors.Is(err, ErrSetupTimeout) {
		t.Fatalf("err=%v, want ErrSetupTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("DialLive took %v", elapsed)
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestDialLive_HandshakeFailure(t *testing.T) {
	u := newFakeUpstream(t, true)
	_, err := DialLive(context.Background(), LiveConfig{
		URL:            u.url(),
		APIKey:         "wrong",
		ConnectTimeout: time.Second,
	}, testTools(), newRecorder())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Fatalf("err=%v, want dial TransportError", err)
	}
}

func TestDialLive_ClosedBeforeSetupComplete(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	rec := newRecorder()
	_, err := DialLive(context.Background(), LiveConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: 2 * time.Second,
	}, testTools(), rec)
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "setup" {
		t.Fatalf("err=%v, want setup TransportError", err)
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestLiveSession_ServerContent(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	dialTest(t, u, rec)
	conn := u.conn(t)
	rec.expect(t, "setup")

	writeFrame(t, conn, &Frame{ServerContent: &ServerContent{ModelTurn: &Content{Parts: []Part{
		{Text: "Lisbon is"},
		{InlineData: &Blob{MIMEType: "audio/pcm;rate=24000", Data: "AAEC"}},
	}}}})
	writeFrame(t, conn, &Frame{ServerContent: &ServerContent{
		OutputTranscription: "lovely",
		TurnComplete:        true,
	}})
	writeFrame(t, conn, &Frame{ServerContent: &ServerContent{Interrupted: true}})

	rec.expect(t,
		`transcript assistant "Lisbon is" partial=true`,
		"audio AAEC",
		`transcript assistant "lovely" partial=false`,
		"turn_complete",
		"interrupted",
	)
}

func TestLiveSession_MalformedFrameIsDropped(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	dialTest(t, u, rec)
	conn := u.conn(t)
	rec.expect(t, "setup")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":"garbage"`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeFrame(t, conn, &Frame{ServerContent: &ServerContent{InputTranscription: "two days", TurnComplete: true}})
	rec.expect(t, `transcript user "two days" partial=false`, "turn_complete")
}

func TestLiveSession_ToolCallsRepliedInOrder(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	s := dialTest(t, u, rec)
	conn := u.conn(t)
	u.next(t) // setup
	rec.expect(t, "setup")

	writeFrame(t, conn, &Frame{ToolCall: []FunctionCall{
		{ID: "c1", Name: "echo", Args: map[string]any{"text": "hola"}},
		{ID: "c2", Name: "fail"},
		{ID: "c3", Name: "missing"},
	}})

	want := []struct {
		id      string
		wantErr bool
	}{{"c1", false}, {"c2", true}, {"c3", true}}
	for _, w := range want {
		f := u.next(t)
		if f.ToolResponse == nil || len(f.ToolResponse.FunctionResponses) != 1 {
			t.Fatalf("frame=%+v, want one tool response", f)
		}
		r := f.ToolResponse.FunctionResponses[0]
		if r.ID != w.id {
			t.Fatalf("response id=%q, want %q", r.ID, w.id)
		}
		_, isErr := r.Response["error"]
		if isErr != w.wantErr {
			t.Fatalf("%s response=%v, want error=%v", w.id, r.Response, w.wantErr)
		}
	}
	rec.expect(t, "tool echo", "tool fail", "tool missing")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls[0].Result["echo"] != "hola" || rec.calls[0].Err != nil {
		t.Fatalf("call 1=%+v", rec.calls[0])
	}
	if rec.calls[1].Result != nil || rec.calls[1].Err == nil {
		t.Fatalf("call 2=%+v, want nil result and error", rec.calls[1])
	}
	if !errors.Is(rec.calls[2].Err, functions.ErrUnknownTool) {
		t.Fatalf("call 3 err=%v, want ErrUnknownTool", rec.calls[2].Err)
	}
	if pending := s.PendingCalls(); len(pending) != 0 {
		t.Fatalf("pending=%v, want none", pending)
	}
}

func TestLiveSession_OutboundFrames(t *testing.T) {
	u := newFakeUpstream(t, true)
	s := dialTest(t, u, newRecorder())
	u.next(t) // setup

	if err := s.SendText("Plan a 2 day trip to Porto"); err != nil {
		t.Fatalf("SendText error: %v", err)
	}
	f := u.next(t)
	if f.ClientContent == nil || !f.ClientContent.TurnComplete || len(f.ClientContent.Turns) != 1 {
		t.Fatalf("text frame=%+v", f)
	}
	if got := f.ClientContent.Turns[0]; got.Role != "user" || got.Parts[0].Text != "Plan a 2 day trip to Porto" {
		t.Fatalf("turn=%+v", got)
	}

	if err := s.SendAudio("AAEC"); err != nil {
		t.Fatalf("SendAudio error: %v", err)
	}
	f = u.next(t)
	if f.RealtimeInput == nil || f.RealtimeInput.MediaChunks[0].Data != "AAEC" ||
		f.RealtimeInput.MediaChunks[0].MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("audio frame=%+v", f)
	}

	if err := s.SendInterrupt(); err != nil {
		t.Fatalf("SendInterrupt error: %v", err)
	}
	f = u.next(t)
	if f.ClientContent == nil || !f.ClientContent.TurnComplete || len(f.ClientContent.Turns) != 0 {
		t.Fatalf("interrupt frame=%+v", f)
	}
	u.none(t, 100*time.Millisecond)
}

func TestLiveSession_CloseSilencesEvents(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	s := dialTest(t, u, rec)
	conn := u.conn(t)
	rec.expect(t, "setup")

	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"late"}]}}}`))
	rec.quiet(t, 200*time.Millisecond)

	if err := s.SendText("hello"); !errors.Is(err, ErrClosed) {
		t.Fatalf("SendText after Close err=%v, want ErrClosed", err)
	}
}

func TestLiveSession_UpstreamDropReportsErrorAndClose(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	dialTest(t, u, rec)
	conn := u.conn(t)
	rec.expect(t, "setup")

	conn.Close()
	rec.expect(t, "error", "close")
}

func TestLiveSession_NormalCloseReportsCloseOnly(t *testing.T) {
	u := newFakeUpstream(t, true)
	rec := newRecorder()
	dialTest(t, u, rec)
	conn := u.conn(t)
	rec.expect(t, "setup")

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	rec.expect(t, "close")
}
