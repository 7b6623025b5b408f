package functions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/room4-2/tripbridge/logging"
)

var (
	// ErrUnknownTool is returned for names missing from the catalog.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrMissingArgument is returned when a required argument is absent.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrInvalidArgument is returned when arguments do not fit the tool's schema.
	ErrInvalidArgument = errors.New("invalid argument")
)

// DispatchError is the single failure type of Execute. It wraps unknown
// tools, argument problems and collaborator errors alike.
type DispatchError struct {
	Tool string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// State is the per-connection context handed to every tool call.
type State struct {
	Itinerary *Itinerary
	// Logger receives tool failures. Nil means slog.Default.
	Logger *slog.Logger
}

func (st *State) logger() *slog.Logger {
	if st.Logger == nil {
		return slog.Default()
	}
	return st.Logger
}

// NewState creates empty state for one client connection.
func NewState() *State {
	return &State{Itinerary: NewItinerary()}
}

// Handler runs a tool with decoded arguments.
type Handler[A any] func(ctx context.Context, st *State, args A) (map[string]any, error)

// ToolOption customizes a registered tool.
type ToolOption func(*tool)

// FetchesData marks a tool whose completion is announced to the client as a sources event.
func FetchesData() ToolOption {
	return func(t *tool) { t.fetchesData = true }
}

type tool struct {
	decl        Declaration
	fetchesData bool
	invoke      func(ctx context.Context, st *State, args map[string]any) (map[string]any, error)
}

// Dispatcher maps tool names to collaborator calls. Register everything before
// the dispatcher is shared; Execute is safe for concurrent use afterwards.
type Dispatcher struct {
	tools  []*tool
	byName map[string]*tool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byName: make(map[string]*tool)}
}

// Register adds a tool whose parameter schema is reflected from A.
func Register[A any](d *Dispatcher, name, description string, fn Handler[A], opts ...ToolOption) {
	var zero A
	t := &tool{
		decl: Declaration{
			Name:        name,
			Description: description,
			Parameters:  parametersFor(zero),
		},
	}
	t.invoke = func(ctx context.Context, st *State, raw map[string]any) (map[string]any, error) {
		var args A
		if len(raw) > 0 {
			encoded, err := sonic.ConfigStd.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
			if err := sonic.ConfigStd.Unmarshal(encoded, &args); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
			}
		}
		return fn(ctx, st, args)
	}
	for _, opt := range opts {
		opt(t)
	}

	if _, exists := d.byName[name]; exists {
		panic(fmt.Sprintf("functions: tool %q registered twice", name))
	}
	d.tools = append(d.tools, t)
	d.byName[name] = t
}

// Declarations returns the catalog in registration order.
func (d *Dispatcher) Declarations() []Declaration {
	out := make([]Declaration, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t.decl)
	}
	return out
}

// FetchesData reports whether name was registered with FetchesData.
func (d *Dispatcher) FetchesData(name string) bool {
	t, ok := d.byName[name]
	return ok && t.fetchesData
}

// Execute runs one tool call against the caller's state.
func (d *Dispatcher) Execute(ctx context.Context, st *State, name string, args map[string]any) (result map[string]any, err error) {
	ctx, span := tracer.Start(ctx, "tool "+name, trace.WithAttributes(attribute.String("tool.name", name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	t, ok := d.byName[name]
	if !ok {
		return nil, &DispatchError{Tool: name, Err: ErrUnknownTool}
	}
	for _, req := range t.decl.Parameters.Required {
		if v, present := args[req]; !present || v == nil || v == "" {
			return nil, &DispatchError{Tool: name, Err: fmt.Errorf("%w: %s", ErrMissingArgument, req)}
		}
	}
	if st == nil {
		st = NewState()
	}
	log := st.logger()
	ctx = logging.NewContext(ctx, log)

	result, err = t.invoke(ctx, st, args)
	if err != nil {
		log.Debug("tool failed", "tool", name, "error", err)
		return nil, &DispatchError{Tool: name, Err: err}
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// Bind ties the dispatcher to one connection's state.
func (d *Dispatcher) Bind(st *State) *Executor {
	return &Executor{dispatcher: d, state: st}
}

// Executor is a dispatcher bound to a single connection.
type Executor struct {
	dispatcher *Dispatcher
	state      *State
}

// Execute dispatches with the bound state passed explicitly.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	return e.dispatcher.Execute(ctx, e.state, name, args)
}

// Declarations returns the bound dispatcher's catalog.
func (e *Executor) Declarations() []Declaration {
	return e.dispatcher.Declarations()
}

// State returns the bound state.
func (e *Executor) State() *State {
	return e.state
}
