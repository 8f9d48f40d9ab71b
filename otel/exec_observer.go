package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/clibridge/bridge"
)

// ExecObserver records executor calls into OpenTelemetry.
type ExecObserver struct {
	tracer trace.Tracer

	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewExecObserver creates an observer bound to the provided meter/tracer. A
// nil tracer disables spans.
func NewExecObserver(meter metric.Meter, tracer trace.Tracer) (*ExecObserver, error) {
	calls, err := meter.Int64Counter(
		"clibridge.exec.calls",
		metric.WithDescription("Number of tool process executions"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"clibridge.exec.duration",
		metric.WithDescription("Tool process execution time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ExecObserver{
		tracer:   tracer,
		calls:    calls,
		duration: duration,
	}, nil
}

// ObserveExecution records one call.
func (o *ExecObserver) ObserveExecution(observation bridge.ExecObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("command", observation.Command),
		attribute.String("tool_name", observation.ToolName),
		attribute.Bool("success", observation.Success),
		attribute.Int("exit_code", observation.ExitCode),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.calls.Add(ctx, 1, options)
	elapsed := time.Duration(observation.DurationMS) * time.Millisecond
	o.duration.Record(ctx, elapsed.Seconds(), options)

	if o.tracer == nil {
		return
	}
	end := time.Now()
	spanAttrs := append(attrs, attribute.String("call_id", observation.CallID), attribute.Int("pid", observation.PID))
	_, span := o.tracer.Start(ctx, "bridge.exec",
		trace.WithTimestamp(end.Add(-elapsed)),
		trace.WithAttributes(spanAttrs...),
	)
	if observation.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, observation.ErrorCode)
	}
	span.End(trace.WithTimestamp(end))
}

var _ bridge.Observer = (*ExecObserver)(nil)
