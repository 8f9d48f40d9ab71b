package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/petal-labs/clibridge/bridge"
)

const (
	// SchemaFlag asks a tool to print its self-reported schema instead of
	// reading a request.
	SchemaFlag = "--schema"
	// DefaultSchemaTimeout bounds schema introspection calls.
	DefaultSchemaTimeout = 10 * time.Second
)

// Adapter is a typed binding of one external tool.
type Adapter[Req, Resp any] struct {
	Name    string
	Version string
	// Command is the program to run, e.g. "python3".
	Command string
	// EntryPoint is passed as the first argument when set. Tools that are
	// executed directly leave it empty and set Command instead.
	EntryPoint string
	// Args follow EntryPoint on every invocation.
	Args []string
	// DefaultTimeout is used when Run is called without a config.
	DefaultTimeout time.Duration
	WorkingDir     string
	Env            map[string]string
	// QuietIO disables request/response body logging for default configs.
	QuietIO bool
	// Executor runs the tool. Nil uses an executor with the default logger.
	Executor *bridge.Executor
}

// Overrides replaces parts of an adapter binding. Zero fields keep the
// adapter's value.
type Overrides struct {
	Command    string
	EntryPoint string
	// Args replaces the adapter's extra arguments when non-empty.
	Args       []string
	Timeout    time.Duration
	WorkingDir string
	Env        map[string]string
	LogIO      *bool
}

// Binding is the untyped view of an adapter. Requests and responses travel
// as raw JSON and are decoded into the adapter's own types in between.
type Binding interface {
	ToolName() string
	ToolVersion() string
	Config() bridge.ExecConfig
	Apply(o Overrides)
	CallJSON(ctx context.Context, payload json.RawMessage, cfg *bridge.ExecConfig) (json.RawMessage, error)
	FetchSchema(ctx context.Context) (json.RawMessage, error)
}

// ToolName returns the adapter name.
func (a *Adapter[Req, Resp]) ToolName() string { return a.Name }

// ToolVersion returns the adapter version.
func (a *Adapter[Req, Resp]) ToolVersion() string { return a.Version }

// Config returns the default per-call configuration of the adapter.
func (a *Adapter[Req, Resp]) Config() bridge.ExecConfig {
	cfg := bridge.DefaultExecConfig()
	if a.DefaultTimeout > 0 {
		cfg.Timeout = a.DefaultTimeout
	}
	cfg.WorkingDir = a.WorkingDir
	cfg.Env = maps.Clone(a.Env)
	if a.QuietIO {
		cfg.LogIO = false
	}
	return cfg
}

// Apply merges o into the adapter.
func (a *Adapter[Req, Resp]) Apply(o Overrides) {
	if o.Command != "" {
		a.Command = o.Command
	}
	if o.EntryPoint != "" {
		a.EntryPoint = o.EntryPoint
	}
	if len(o.Args) > 0 {
		a.Args = slices.Clone(o.Args)
	}
	if o.Timeout > 0 {
		a.DefaultTimeout = o.Timeout
	}
	if o.WorkingDir != "" {
		a.WorkingDir = o.WorkingDir
	}
	if len(o.Env) > 0 {
		merged := maps.Clone(a.Env)
		if merged == nil {
			merged = make(map[string]string, len(o.Env))
		}
		maps.Copy(merged, o.Env)
		a.Env = merged
	}
	if o.LogIO != nil {
		a.QuietIO = !*o.LogIO
	}
}

// Call runs the tool once and returns the typed response or a bridge error.
// A nil cfg uses Config().
func (a *Adapter[Req, Resp]) Call(ctx context.Context, req Req, cfg *bridge.ExecConfig) (Resp, error) {
	callCfg := a.Config()
	if cfg != nil {
		callCfg = *cfg
	}
	ctx = bridge.WithToolName(ctx, a.Name)
	return bridge.Execute[Req, Resp](ctx, a.Executor, a.Command, a.args(), req, callCfg)
}

// Run calls the tool and wraps the outcome in an envelope. Every failure,
// including a timeout or bad output, is reported in the envelope.
func (a *Adapter[Req, Resp]) Run(ctx context.Context, req Req, cfg *bridge.ExecConfig) bridge.Envelope[Resp] {
	start := time.Now()
	resp, err := a.Call(ctx, req, cfg)
	return a.Envelope(resp, err, time.Since(start))
}

// Go runs the tool in a new goroutine. The returned channel receives exactly
// one envelope and is then closed.
func (a *Adapter[Req, Resp]) Go(ctx context.Context, req Req, cfg *bridge.ExecConfig) <-chan bridge.Envelope[Resp] {
	out := make(chan bridge.Envelope[Resp], 1)
	go func() {
		defer close(out)
		out <- a.Run(ctx, req, cfg)
	}()
	return out
}

// Envelope converts a call outcome measured over duration into an envelope.
func (a *Adapter[Req, Resp]) Envelope(resp Resp, err error, duration time.Duration) bridge.Envelope[Resp] {
	if err != nil {
		return bridge.NewFailure[Resp](err.Error(), a.Name, duration, a.Version)
	}
	return bridge.NewSuccess(resp, a.Name, duration, a.Version)
}

// CallJSON decodes payload into the request type, calls the tool and
// re-encodes the typed response.
func (a *Adapter[Req, Resp]) CallJSON(ctx context.Context, payload json.RawMessage, cfg *bridge.ExecConfig) (json.RawMessage, error) {
	var req Req
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, &bridge.SerializationError{Op: "decode " + a.Name + " request", Err: err}
	}
	resp, err := a.Call(ctx, req, cfg)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, &bridge.SerializationError{Op: "encode " + a.Name + " response", Err: err}
	}
	return out, nil
}

// FetchSchema runs the tool with SchemaFlag and no request body and returns
// the JSON document it prints.
func (a *Adapter[Req, Resp]) FetchSchema(ctx context.Context) (json.RawMessage, error) {
	cfg := a.Config().WithTimeout(DefaultSchemaTimeout)
	ctx = bridge.WithToolName(ctx, a.Name)

	schema, err := bridge.ExecuteBody[json.RawMessage](ctx, a.Executor, a.Command, append(a.args(), SchemaFlag), nil, cfg)
	if err != nil {
		return nil, fmt.Errorf("adapters: fetch %s schema: %w", a.Name, err)
	}
	return schema, nil
}

func (a *Adapter[Req, Resp]) args() []string {
	args := make([]string, 0, len(a.Args)+2)
	if strings.TrimSpace(a.EntryPoint) != "" {
		args = append(args, a.EntryPoint)
	}
	return append(args, a.Args...)
}
