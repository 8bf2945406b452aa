package gosunsquirrel

import (
	"time"

	"github.com/Keksclan/goSunSquirrel/cache"
	"github.com/Keksclan/goSunSquirrel/policy"
	"github.com/Keksclan/goSunSquirrel/ratelimit"
	"github.com/Keksclan/goSunSquirrel/telemetry"
	"github.com/Keksclan/goSunSquirrel/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Middleware priorities. Lower values run first, regardless of the order
// options are passed to [NewServer].
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderRateLimit = 300
	OrderUser      = 1000
)

// Option configures a Server.
type Option func(*config)

// WithUnaryInterceptor adds a unary server interceptor after the built-in
// middleware.
func WithUnaryInterceptor(i grpc.UnaryServerInterceptor) Option {
	return func(c *config) {
		c.middlewares.Add(OrderUser, i, nil)
	}
}

// WithStreamInterceptor adds a stream server interceptor after the built-in
// middleware.
func WithStreamInterceptor(i grpc.StreamServerInterceptor) Option {
	return func(c *config) {
		c.middlewares.Add(OrderUser, nil, i)
	}
}

// WithRecovery installs panic-recovery interceptors so that a panic inside a
// handler returns codes.Internal instead of crashing the process.
func WithRecovery() Option {
	return func(c *config) { c.recovery = true }
}

// WithRequestID tags every call with a request id, taken from the
// x-request-id metadata when the client sends one.
func WithRequestID() Option {
	return func(c *config) { c.requestID = true }
}

// WithRateLimitGlobal limits all calls to rps requests per second with the
// given burst. Methods whose policy carries a RateLimit use their own bucket.
func WithRateLimitGlobal(rps float64, burst int) Option {
	return func(c *config) {
		c.globalLimit = ratelimit.NewLimiter(rps, burst)
		c.limitByPol = true
	}
}

// WithPolicies installs method policies. They drive per-group rate limits,
// cache TTL overrides and fetch timeouts.
func WithPolicies(groups ...*policy.GroupBuilder) Option {
	return func(c *config) {
		c.policies = policy.NewResolver(groups...)
		c.limitByPol = true
	}
}

// WithOpenTelemetry records a span for every RPC and every cache lookup.
func WithOpenTelemetry(cfg tracing.TracingConfig) Option {
	return func(c *config) { c.tracing = &cfg }
}

// WithLogger sets the logger shared by the server, the cache and the
// telemetry service. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics registers the cache metrics with reg and serves reg from
// [Server.MetricsHandler]. Without it each server uses a private registry.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithCacheL1 enables an in-process cache holding up to maxEntries values.
// Combined with WithRedis it sits in front of Redis.
func WithCacheL1(maxEntries int64) Option {
	return func(c *config) { c.l1MaxCost = maxEntries }
}

// WithPromoteTTL sets how long values read from Redis stay in L1. Defaults to
// cache.DefaultPromoteTTL.
func WithPromoteTTL(d time.Duration) Option {
	return func(c *config) { c.promoteTTL = d }
}

// WithRedis enables the shared Redis cache. The connection is attempted in
// the background when the server is created; until it succeeds every lookup
// is a miss.
func WithRedis(cfg cache.ClientConfig) Option {
	return func(c *config) { c.redis = &cfg }
}

// WithCodec selects the cache value encoding. Defaults to cache.JSON.
func WithCodec(codec cache.Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithCoalescing makes concurrent misses for one key share a single fetch.
func WithCoalescing(on bool) Option {
	return func(c *config) { c.coalesce = on }
}

// WithDefaultTTL sets the TTL used when a caller passes none.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithSource registers the scada.Telemetry service backed by src.
func WithSource(src telemetry.Source) Option {
	return func(c *config) { c.source = src }
}

// WithFetchTimeout bounds each telemetry Source query. Defaults to
// telemetry.DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) { c.fetchTimeout = d }
}
