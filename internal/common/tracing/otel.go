// Package tracing owns the process-wide OTel tracer provider.
//
// Spans are exported over OTLP/HTTP only when an endpoint is configured
// (tracing.endpoint or OTEL_EXPORTER_OTLP_ENDPOINT); otherwise every tracer is a no-op.
package tracing

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "agentgate"

var (
	mu       sync.RWMutex
	provider trace.TracerProvider = noop.NewTracerProvider()
	exporter *sdktrace.TracerProvider
)

// Init installs an exporting provider for endpoint. An empty endpoint keeps the no-op provider.
func Init(ctx context.Context, endpoint, serviceName string) error {
	if endpoint == "" {
		return nil
	}
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	exp, err := otlptracehttp.New(ctx, exporterOptions(endpoint)...)
	if err != nil {
		return err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
	if err != nil {
		res = resource.Default()
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	mu.Lock()
	exporter = tp
	provider = tp
	mu.Unlock()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return nil
}

// exporterOptions accepts a bare host:port or a URL; only https URLs keep TLS.
func exporterOptions(endpoint string) []otlptracehttp.Option {
	host, secure := endpoint, false
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host, secure = u.Host, u.Scheme == "https"
	}
	host = strings.TrimSuffix(host, "/")
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(host)}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// Tracer returns a named tracer from the current provider.
func Tracer(name string) trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return provider.Tracer(name)
}

// Shutdown flushes buffered spans. It is a no-op without an exporter.
func Shutdown(ctx context.Context) error {
	mu.RLock()
	tp := exporter
	mu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
