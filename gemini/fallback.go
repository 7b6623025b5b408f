package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/room4-2/tripbridge/functions"
)

const (
	DefaultFallbackModel = "gemini-2.0-flash"

	fallbackQueueSize = 8
	// noReply closes a round trip whose follow-up failed or produced no
	// text, so the next user turn never directly follows a function turn.
	noReply = "(no reply)"

	defaultTemperature float32 = 0.7
)

// ErrBusy is returned when too many turns are waiting in fallback mode.
var ErrBusy = errors.New("too many turns in flight")

// FallbackConfig configures a fallback session.
type FallbackConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	// Temperature defaults to 0.7 when nil.
	Temperature *float32
	// BaseURL overrides the API endpoint.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// FallbackSession emulates a live session with one request per turn. It
// accepts text only, keeps its own history and performs at most one tool
// round trip per user turn.
type FallbackSession struct {
	cfg     FallbackConfig
	client  *genai.Client
	tools   Tools
	events  Events
	log     *slog.Logger
	history *History

	ctx    context.Context
	cancel context.CancelFunc
	turns  chan string
	done   chan struct{}
	once   sync.Once
}

// NewFallback creates the client and starts the turn worker.
func NewFallback(ctx context.Context, cfg FallbackConfig, tools Tools, events Events) (*FallbackSession, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultFallbackModel
	}
	if cfg.Temperature == nil {
		t := defaultTemperature
		cfg.Temperature = &t
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if events == nil {
		events = NopEvents{}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: functions.DefaultTimeout}
	}
	instrumented := *httpClient
	instrumented.Transport = otelhttp.NewTransport(transportOrDefault(httpClient.Transport))

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &instrumented,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, &TransportError{Op: "fallback client", Err: err}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	s := &FallbackSession{
		cfg:     cfg,
		client:  client,
		tools:   tools,
		events:  events,
		log:     cfg.Logger.With("mode", "fallback"),
		history: &History{},
		ctx:     sessCtx,
		cancel:  cancel,
		turns:   make(chan string, fallbackQueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	s.log.Info("fallback session ready", "model", cfg.Model)
	return s, nil
}

func transportOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

// SendText queues a user turn. Turns are processed in order.
func (s *FallbackSession) SendText(text string) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case s.turns <- text:
		return nil
	default:
		return ErrBusy
	}
}

// SendAudio always fails; the request/response endpoint is text only.
func (s *FallbackSession) SendAudio(string) error {
	return ErrAudioUnsupported
}

// SendInterrupt does nothing; there is no stream to interrupt.
func (s *FallbackSession) SendInterrupt() error {
	return nil
}

// History exposes the conversation for inspection.
func (s *FallbackSession) History() *History {
	return s.history
}

// Close stops the worker. A request in flight is cancelled and its outcome
// is not reported.
func (s *FallbackSession) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Done is closed when the worker has exited.
func (s *FallbackSession) Done() <-chan struct{} {
	return s.done
}

func (s *FallbackSession) deliver(fn func(Events)) {
	if s.ctx.Err() != nil {
		return
	}
	fn(s.events)
}

func (s *FallbackSession) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case text := <-s.turns:
			if err := s.turn(text); err != nil && s.ctx.Err() == nil {
				s.log.Warn("fallback turn failed", "error", err)
				s.deliver(func(e Events) { e.OnError(err) })
			}
		}
	}
}

// turn runs one user turn: request, optional tool round trip, follow-up.
func (s *FallbackSession) turn(text string) (err error) {
	ctx, span := tracer.Start(s.ctx, "fallback turn", trace.WithAttributes(attribute.String("model", s.cfg.Model)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.history.Append(userTurn(text)); err != nil {
		return err
	}
	parts, err := s.generate(ctx)
	if err != nil {
		return err
	}

	called := false
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			called = true
			if err := s.callTool(ctx, p.FunctionCall); err != nil {
				return err
			}
		case p.Text != "":
			if err := s.reply(p.Text); err != nil {
				return err
			}
		}
	}
	if !called {
		return nil
	}

	followUp, err := s.generate(ctx)
	if err != nil {
		if closeErr := s.history.Append(modelText(noReply)); closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}
	replied := false
	for _, p := range followUp {
		switch {
		case p.Text != "":
			replied = true
			if err := s.reply(p.Text); err != nil {
				return err
			}
		case p.FunctionCall != nil:
			s.log.Debug("not chasing follow-up function call", "tool", p.FunctionCall.Name)
		}
	}
	if !replied {
		return s.history.Append(modelText(noReply))
	}
	return nil
}

func (s *FallbackSession) reply(text string) error {
	if err := s.history.Append(modelText(text)); err != nil {
		return err
	}
	s.deliver(func(e Events) { e.OnTranscript(RoleAssistant, text, false) })
	return nil
}

func (s *FallbackSession) callTool(ctx context.Context, fc *genai.FunctionCall) error {
	if err := s.history.Append(modelCall(fc)); err != nil {
		return err
	}

	log := s.log.With("tool", fc.Name)
	log.Info("executing tool call")
	call := ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
	if s.tools == nil {
		call.Err = errors.New("no tools configured")
	} else {
		call.Result, call.Err = s.tools.Execute(ctx, fc.Name, fc.Args)
	}

	response := call.Result
	if call.Err != nil {
		log.Warn("tool call failed", "error", call.Err)
		call.Result = nil
		response = errorResult(call.Err)
	}
	s.deliver(func(e Events) { e.OnToolCall(call) })
	return s.history.Append(functionTurn(fc, response))
}

func (s *FallbackSession) generate(ctx context.Context) ([]*genai.Part, error) {
	temperature := *s.cfg.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if s.cfg.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s.cfg.SystemInstruction}}}
	}
	if s.tools != nil {
		if decls := s.tools.Declarations(); len(decls) > 0 {
			config.Tools = []*genai.Tool{{FunctionDeclarations: toGenAI(decls)}}
		}
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.cfg.Model, s.history.Contents(), config)
	if err != nil {
		return nil, &TransportError{Op: "generate", Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("%w: response has no candidates", ErrDecode)
	}
	return resp.Candidates[0].Content.Parts, nil
}

func toGenAI(decls []functions.Declaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		out = append(out, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  toGenAISchema(d.Parameters),
		})
	}
	return out
}

func toGenAISchema(s *functions.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.TrimSpace(s.Type)),
		Description: s.Description,
		Enum:        s.Enum,
		Items:       toGenAISchema(s.Items),
		Required:    s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenAISchema(p)
		}
	}
	return out
}
