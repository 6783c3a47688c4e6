package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// EnvOTLPEndpoint enables span export when set.
const EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"

// NewTracerProvider builds a provider that feeds processors and, when the
// OTLP endpoint variable is set, also exports spans over OTLP/HTTP.
func NewTracerProvider(ctx context.Context, processors ...sdktrace.SpanProcessor) (*sdktrace.TracerProvider, error) {
	opts := make([]sdktrace.TracerProviderOption, 0, len(processors)+1)
	for _, p := range processors {
		if p != nil {
			opts = append(opts, sdktrace.WithSpanProcessor(p))
		}
	}
	if strings.TrimSpace(os.Getenv(EnvOTLPEndpoint)) != "" {
		exporter, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
