// Package apm wires the OTEL tracer provider used for distributed tracing.
package apm

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"

	"github.com/jm31-art/ultraflashbot/internal/logger"
)

// Provider identifies a span exporter backend.
type Provider string

const (
	OTLPGRPCProvider Provider = "otlp-grpc"
	OTLPHTTPProvider Provider = "otlp-http"
	ZipkinProvider   Provider = "zipkin"
	ConsoleProvider  Provider = "console"
	EmptyProvider    Provider = "empty"
)

// ParseProvider maps a config string to a Provider, defaulting to empty.
func ParseProvider(s string) Provider {
	switch Provider(s) {
	case OTLPGRPCProvider, OTLPHTTPProvider, ZipkinProvider, ConsoleProvider:
		return Provider(s)
	default:
		return EmptyProvider
	}
}

// TraceProvider is the running tracing pipeline.
type TraceProvider interface {
	Stop() error
}

type traceProvider struct {
	tp *sdktrace.TracerProvider
}

type emptyTraceProvider struct{}

func (emptyTraceProvider) Stop() error { return nil }

// NewTraceProvider builds an exporter for the given provider and installs the
// global tracer provider. Endpoints come from the standard OTEL env vars,
// which main sets from config before calling this.
func NewTraceProvider(provider Provider, log logger.LoggerInterface) (TraceProvider, error) {
	ctx := context.Background()

	var (
		exp sdktrace.SpanExporter
		err error
	)

	switch provider {
	case ConsoleProvider:
		exp, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ZipkinProvider:
		exp, err = zipkin.New(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	case OTLPGRPCProvider:
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		)
	case OTLPHTTPProvider:
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		)
	default:
		log.Warn(ctx, "no trace exporter configured, tracing disabled")
		return emptyTraceProvider{}, nil
	}
	if err != nil {
		return nil, err
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	rsrc, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("otel.provider", string(provider)),
		))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsrc),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))

	return &traceProvider{tp}, nil
}

func (o *traceProvider) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.tp.Shutdown(ctx)
}
