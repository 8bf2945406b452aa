package tracing

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

// newTestConfig returns a TracingConfig backed by an in-memory span recorder.
func newTestConfig(t *testing.T) (*TracingConfig, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return &TracingConfig{
		TracerProvider: tp,
		Propagators:    propagation.TraceContext{},
	}, rec
}

func TestProvider_FallsBackToGlobal(t *testing.T) {
	var nilCfg *TracingConfig
	if nilCfg.Provider() == nil {
		t.Fatal("nil config must fall back to the global provider")
	}
	cfg, _ := newTestConfig(t)
	if _, ok := cfg.Provider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected configured provider, got %T", cfg.Provider())
	}
}

func TestServerAndClientSpansShareTrace(t *testing.T) {
	cfg, rec := newTestConfig(t)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOption(cfg))
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		DialOption(cfg),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if _, err := healthpb.NewHealthClient(conn).Check(t.Context(), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// The server span ends asynchronously after the reply is sent.
	var server, client sdktrace.ReadOnlySpan
	deadline := time.Now().Add(2 * time.Second)
	for (server == nil || client == nil) && time.Now().Before(deadline) {
		for _, s := range rec.Ended() {
			if !strings.HasSuffix(s.Name(), "Health/Check") {
				continue
			}
			switch s.SpanKind() {
			case trace.SpanKindServer:
				server = s
			case trace.SpanKindClient:
				client = s
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	if server == nil || client == nil {
		t.Fatalf("missing spans: server=%v client=%v", server != nil, client != nil)
	}
	if server.SpanContext().TraceID() != client.SpanContext().TraceID() {
		t.Fatal("server span did not continue the client trace")
	}
	if server.Parent().SpanID() != client.SpanContext().SpanID() {
		t.Fatal("server span is not a child of the client span")
	}
}
