// Package otel records bridge executions as OpenTelemetry metrics and spans.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultServiceName = "clibridge"

// SetupConfig selects the service identity and exporters.
type SetupConfig struct {
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint enables the OTLP/HTTP trace and metric exporters. It may
	// be a host:port pair or a full http(s) URL; a URL path ending in
	// /v1/traces or /v1/metrics is rewritten per signal.
	OTLPEndpoint string
	// Insecure disables TLS for host:port endpoints.
	Insecure bool
	// MetricReader is attached to the meter provider when set. Otherwise an
	// OTLP endpoint gets a periodic reader pushing to it.
	MetricReader sdkmetric.Reader
	// MetricInterval overrides the periodic reader's export interval.
	MetricInterval time.Duration
}

// Providers holds the SDK providers built by Setup.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Observer builds an ExecObserver from the providers.
func (p *Providers) Observer(scope string) (*ExecObserver, error) {
	return NewExecObserver(p.MeterProvider.Meter(scope), p.TracerProvider.Tracer(scope))
}

// Setup builds tracer and meter providers. Spans and metrics are exported
// over OTLP/HTTP only when an endpoint is configured. The returned shutdown flushes and
// stops both providers. Nothing is installed globally.
func Setup(ctx context.Context, cfg SetupConfig) (*Providers, func(context.Context) error, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	res := resource.NewSchemaless(attrs...)

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, traceExporterOptions(endpoint, cfg.Insecure)...)
		if err != nil {
			return nil, nil, fmt.Errorf("otel: create otlp trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	switch {
	case cfg.MetricReader != nil:
		meterOpts = append(meterOpts, sdkmetric.WithReader(cfg.MetricReader))
	case endpoint != "":
		exporter, err := otlpmetrichttp.New(ctx, metricExporterOptions(endpoint, cfg.Insecure)...)
		if err != nil {
			return nil, nil, fmt.Errorf("otel: create otlp metric exporter: %w", err)
		}
		var readerOpts []sdkmetric.PeriodicReaderOption
		if cfg.MetricInterval > 0 {
			readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricInterval))
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)))
	}

	providers := &Providers{
		TracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(meterOpts...),
	}
	shutdown := func(ctx context.Context) error {
		return errors.Join(
			providers.TracerProvider.Shutdown(ctx),
			providers.MeterProvider.Shutdown(ctx),
		)
	}
	return providers, shutdown, nil
}

func traceExporterOptions(endpoint string, insecure bool) []otlptracehttp.Option {
	if isURL(endpoint) {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(signalURL(endpoint, "traces"))}
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func metricExporterOptions(endpoint string, insecure bool) []otlpmetrichttp.Option {
	if isURL(endpoint) {
		return []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(signalURL(endpoint, "metrics"))}
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

func isURL(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

// signalURL points an OTLP base or per-signal URL at the given signal.
// Other custom paths are kept as they are.
func signalURL(endpoint, signal string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	switch p := strings.TrimSuffix(u.Path, "/"); {
	case p == "":
		u.Path = "/v1/" + signal
	case strings.HasSuffix(p, "/v1/traces"), strings.HasSuffix(p, "/v1/metrics"):
		u.Path = p[:strings.LastIndex(p, "/")+1] + signal
	}
	return u.String()
}
