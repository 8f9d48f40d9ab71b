package bridge

import "context"

// ExecObservation captures the outcome of one executor call.
type ExecObservation struct {
	CallID     string
	ToolName   string
	Command    string
	PID        int
	ExitCode   int
	DurationMS int64
	Success    bool
	ErrorCode  string
}

// Observer receives executor observability events. Implementations must be
// safe for concurrent use because independent calls report concurrently.
type Observer interface {
	ObserveExecution(observation ExecObservation)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(observation ExecObservation)

// ObserveExecution calls f(observation).
func (f ObserverFunc) ObserveExecution(observation ExecObservation) {
	f(observation)
}

type noopObserver struct{}

func (noopObserver) ObserveExecution(ExecObservation) {}

type toolNameKey struct{}

// WithToolName labels calls made with ctx so logs and observations carry the
// logical tool name in addition to the command.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

// ToolNameFromContext returns the label set by WithToolName.
func ToolNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(toolNameKey{}).(string)
	return name
}
