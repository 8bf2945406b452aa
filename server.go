// Package gosunsquirrel assembles the plant telemetry gRPC server: the
// read-through cache (in-process, Redis or both), the scada.Telemetry and
// scada.Health services, and the middleware around them, configured through
// functional [Option] values.
package gosunsquirrel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Keksclan/goSunSquirrel/cache"
	"github.com/Keksclan/goSunSquirrel/health"
	"github.com/Keksclan/goSunSquirrel/interceptors"
	"github.com/Keksclan/goSunSquirrel/telemetry"
	"github.com/Keksclan/goSunSquirrel/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server is a composable wrapper around a [grpc.Server] that layers the cache
// and middleware (recovery, request ids, rate limiting, tracing) via
// functional [Option] values passed to [NewServer].
//
// After construction the underlying gRPC server is available through
// [Server.GRPC] so that additional services can be registered normally:
//
//	srv, err := gs.NewServer(gs.WithRecovery(), gs.WithRedis(cache.ClientConfig{Addr: "redis:6379"}))
//	pb.RegisterAlarmServiceServer(srv.GRPC(), &alarms{acc: srv.Accessor()})
type Server struct {
	grpcServer *grpc.Server
	logger     *zap.Logger
	registry   *prometheus.Registry

	l1        *cache.L1
	client    *cache.Client
	accessor  *cache.Accessor
	telemetry *telemetry.Service
}

// NewServer creates a new [Server] by applying the supplied functional
// [Option] values. Middleware execution order is determined by fixed priority
// levels (see the Order constants), not by the order options are passed.
//
// When Redis is configured the connection is attempted in the background;
// NewServer never waits for it.
//
// Example:
//
//	srv, err := gs.NewServer(
//		gs.WithRecovery(),
//		gs.WithRateLimitGlobal(500, 100),
//		gs.WithCacheL1(10_000),
//		gs.WithRedis(cache.ClientConfig{Addr: "localhost:6379"}),
//		gs.WithSource(db),
//	)
func NewServer(opts ...Option) (*Server, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	obs, err := cache.NewPrometheusObserver(reg)
	if err != nil {
		return nil, fmt.Errorf("gosunsquirrel: register cache metrics: %w", err)
	}

	s := &Server{logger: logger, registry: reg}
	store, err := s.buildStore(&cfg, obs)
	if err != nil {
		return nil, err
	}

	accOpts := []cache.AccessorOption{
		cache.WithObserver(obs),
		cache.WithLogger(logger.Named("cache")),
		cache.WithCodec(cfg.codec),
		cache.WithCoalescing(cfg.coalesce),
		cache.WithDefaultTTL(cfg.defaultTTL),
	}
	if cfg.redis != nil {
		accOpts = append(accOpts, cache.WithOpTimeout(cfg.redis.OpTimeout))
	}
	if cfg.tracing != nil {
		accOpts = append(accOpts, cache.WithTracerProvider(cfg.tracing.Provider()))
	}
	s.accessor = cache.NewAccessor(store, accOpts...)

	s.grpcServer = grpc.NewServer(serverOptions(&cfg, logger)...)

	var probe health.CacheProbe
	if s.client != nil {
		probe = s.client
	}
	health.Register(s.grpcServer, health.NewHandler(probe))

	if cfg.source != nil {
		s.telemetry = telemetry.NewService(cfg.source, s.accessor,
			telemetry.WithPolicies(cfg.policies),
			telemetry.WithFetchTimeout(cfg.fetchTimeout),
			telemetry.WithLogger(logger),
		)
		telemetry.Register(s.grpcServer, s.telemetry, logger)
	}

	if s.client != nil {
		s.client.Start()
	}
	return s, nil
}

// buildStore picks the cache backend: L1, Redis, both tiered, or none.
func (s *Server) buildStore(cfg *config, obs *cache.PrometheusObserver) (cache.Store, error) {
	var store cache.Store
	if cfg.l1MaxCost > 0 {
		l1, err := cache.NewL1(cfg.l1MaxCost)
		if err != nil {
			return nil, fmt.Errorf("gosunsquirrel: l1 cache: %w", err)
		}
		s.l1 = l1
		store = l1
	}
	if cfg.redis != nil {
		rc := *cfg.redis
		if rc.Logger == nil {
			rc.Logger = s.logger.Named("cache")
		}
		next := rc.OnStateChange
		rc.OnStateChange = func(st cache.State) {
			obs.ObserveState(st)
			if next != nil {
				next(st)
			}
		}
		s.client = cache.NewClient(rc)
		store = s.client
		if s.l1 != nil {
			store = cache.NewTiered(s.l1, s.client, cfg.promoteTTL)
		}
	}
	return store, nil
}

func serverOptions(cfg *config, logger *zap.Logger) []grpc.ServerOption {
	if cfg.recovery {
		cfg.middlewares.Add(OrderRecovery, interceptors.RecoveryUnary(logger), interceptors.RecoveryStream(logger))
	}
	if cfg.requestID {
		cfg.middlewares.Add(OrderRequestID, interceptors.RequestIDUnary(), interceptors.RequestIDStream())
	}
	if cfg.limitByPol {
		cfg.middlewares.Add(OrderRateLimit,
			interceptors.RateLimitUnary(cfg.globalLimit, cfg.policies),
			interceptors.RateLimitStream(cfg.globalLimit, cfg.policies))
	}

	opts := cfg.middlewares.ServerOptions()
	if cfg.tracing != nil {
		opts = append(opts, tracing.ServerOption(cfg.tracing))
	}
	return opts
}

// GRPC returns the underlying *grpc.Server so callers can register services.
func (s *Server) GRPC() *grpc.Server {
	return s.grpcServer
}

// Accessor returns the cache accessor shared by every service on this
// server. Use it with [GetOrSet] or cache.GetOrSet.
func (s *Server) Accessor() *cache.Accessor {
	return s.accessor
}

// CacheClient returns the Redis client configured via WithRedis, or nil.
func (s *Server) CacheClient() *cache.Client {
	return s.client
}

// Telemetry returns the telemetry service configured via WithSource, or nil.
func (s *Server) Telemetry() *telemetry.Service {
	return s.telemetry
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Shutdown stops accepting calls, waits for in-flight calls until ctx is
// done, then releases the cache.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}

	var err error
	if s.client != nil {
		err = s.client.Close()
	}
	if s.l1 != nil {
		s.l1.Close()
	}
	return err
}

// GetOrSet is cache.GetOrSet on the server's shared accessor.
func GetOrSet[T any](ctx context.Context, s *Server, key string, ttl time.Duration, fetch cache.Fetcher[T]) (T, error) {
	return cache.GetOrSet(ctx, s.accessor, key, ttl, fetch)
}
