package gosunsquirrel

import (
	"time"

	"github.com/Keksclan/goSunSquirrel/cache"
	"github.com/Keksclan/goSunSquirrel/internal/core"
	"github.com/Keksclan/goSunSquirrel/policy"
	"github.com/Keksclan/goSunSquirrel/ratelimit"
	"github.com/Keksclan/goSunSquirrel/telemetry"
	"github.com/Keksclan/goSunSquirrel/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	middlewares core.MiddlewareBuilder

	logger   *zap.Logger
	registry *prometheus.Registry
	tracing  *tracing.TracingConfig

	recovery  bool
	requestID bool

	globalLimit *ratelimit.Limiter
	limitByPol  bool
	policies    *policy.Resolver

	l1MaxCost  int64
	promoteTTL time.Duration
	redis      *cache.ClientConfig
	codec      cache.Codec
	coalesce   bool
	defaultTTL time.Duration

	source       telemetry.Source
	fetchTimeout time.Duration
}
