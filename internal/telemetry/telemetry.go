// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"quotegate/internal/config"
)

// Setup exports spans over OTLP/gRPC when an endpoint is configured and
// returns the provider's shutdown. Without an endpoint it is a no-op.
func Setup(cfg config.Config) func(context.Context) error {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		log.Printf("otel_exporter_failed err=%v", err)
		return func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		log.Printf("otel_resource_failed err=%v", err)
	}
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	log.Printf("otel_enabled endpoint=%s service=%s", cfg.OTLPEndpoint, cfg.ServiceName)
	return provider.Shutdown
}
