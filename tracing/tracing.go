// Package tracing wires OpenTelemetry into the gRPC server and its clients.
// It is entirely optional: tracing is only active when a [TracingConfig] is
// passed to the WithOpenTelemetry server option.
package tracing

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// TracingConfig holds the OpenTelemetry configuration used for RPC and cache
// spans.
type TracingConfig struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// Propagators extracts and injects trace context from/into carriers.
	// When nil the global otel.GetTextMapPropagator() is used.
	Propagators propagation.TextMapPropagator
}

// Provider returns the configured provider or the global one.
func (c *TracingConfig) Provider() trace.TracerProvider {
	if c == nil || c.TracerProvider == nil {
		return otel.GetTracerProvider()
	}
	return c.TracerProvider
}

func (c *TracingConfig) propagators() propagation.TextMapPropagator {
	if c == nil || c.Propagators == nil {
		return otel.GetTextMapPropagator()
	}
	return c.Propagators
}

func (c *TracingConfig) options() []otelgrpc.Option {
	return []otelgrpc.Option{
		otelgrpc.WithTracerProvider(c.Provider()),
		otelgrpc.WithPropagators(c.propagators()),
	}
}

// ServerOption returns a server option that records a server span for every
// RPC, continuing any trace context sent by the client.
func ServerOption(cfg *TracingConfig) grpc.ServerOption {
	return grpc.StatsHandler(otelgrpc.NewServerHandler(cfg.options()...))
}

// DialOption returns the client-side counterpart of ServerOption.
func DialOption(cfg *TracingConfig) grpc.DialOption {
	return grpc.WithStatsHandler(otelgrpc.NewClientHandler(cfg.options()...))
}
