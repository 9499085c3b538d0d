// Package tracing traces the bridge's traffic with the agent server: HTTP
// requests, streamed chat turns and their frames.
//
// Spans are exported over OTLP/HTTP when OTEL_EXPORTER_OTLP_ENDPOINT is set.
// Otherwise every tracer is a no-op.
package tracing

import (
	"context"
	"net/http"
	"os"
	"strconv"
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

const defaultServiceName = "goose-bridge"

var (
	initOnce    sync.Once
	provider    trace.TracerProvider = noop.NewTracerProvider()
	sdkProvider *sdktrace.TracerProvider
	propagator  = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
)

// exportConfig is read from the standard OTel environment variables.
type exportConfig struct {
	endpoint string
	service  string
	insecure bool
}

func exportConfigFromEnv() (exportConfig, bool) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return exportConfig{}, false
	}
	cfg := exportConfig{
		endpoint: endpoint,
		service:  defaultServiceName,
		insecure: !strings.HasPrefix(endpoint, "https://"),
	}
	if name := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); name != "" {
		cfg.service = name
	}
	if v, err := strconv.ParseBool(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); err == nil {
		cfg.insecure = v
	}
	return cfg, true
}

func setup() {
	cfg, ok := exportConfigFromEnv()
	if !ok {
		return
	}

	ctx := context.Background()
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpointHost(cfg.endpoint))}
	if cfg.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.service),
	))
	if err != nil {
		res = resource.Default()
	}

	sdkProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	provider = sdkProvider
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)
}

// endpointHost reduces an endpoint URL to host[:port]. Any path is dropped;
// the exporter appends /v1/traces itself.
func endpointHost(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	if i := strings.IndexByte(endpoint, '/'); i >= 0 {
		endpoint = endpoint[:i]
	}
	return endpoint
}

// Tracer returns a named tracer.
func Tracer(name string) trace.Tracer {
	initOnce.Do(setup)
	return provider.Tracer(name)
}

// Inject writes the span context of ctx into outgoing request headers so
// that an instrumented agent server joins the trace.
func Inject(ctx context.Context, h http.Header) {
	propagator.Inject(ctx, propagation.HeaderCarrier(h))
}

// Shutdown flushes pending spans. It is a no-op when exporting is off.
func Shutdown(ctx context.Context) error {
	if sdkProvider == nil {
		return nil
	}
	return sdkProvider.Shutdown(ctx)
}
