package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when GetOrSet is called with a non-positive TTL.
const DefaultTTL = time.Minute

const tracerName = "github.com/Keksclan/goSunSquirrel/cache"

// Fetcher produces a fresh value on a cache miss.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Accessor wraps data fetches with a get-or-compute-and-store pattern against
// a shared Store. Construct it once and share it; it is safe for concurrent
// use.
type Accessor struct {
	store      Store
	codec      Codec
	observer   Observer
	logger     *zap.Logger
	tracer     trace.Tracer
	defaultTTL time.Duration
	opTimeout  time.Duration
	coalesce   bool

	flights singleflight.Group
}

// AccessorOption configures an Accessor.
type AccessorOption func(*Accessor)

// WithCodec sets the value encoding. Defaults to JSON.
func WithCodec(c Codec) AccessorOption {
	return func(a *Accessor) {
		if c != nil {
			a.codec = c
		}
	}
}

// WithObserver installs hit/miss/error instrumentation.
func WithObserver(o Observer) AccessorOption {
	return func(a *Accessor) {
		if o != nil {
			a.observer = o
		}
	}
}

// WithLogger sets the logger used for degraded cache operations.
func WithLogger(l *zap.Logger) AccessorOption {
	return func(a *Accessor) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracerProvider sets the provider for GetOrSet spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) AccessorOption {
	return func(a *Accessor) {
		if tp != nil {
			a.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(d time.Duration) AccessorOption {
	return func(a *Accessor) {
		if d > 0 {
			a.defaultTTL = d
		}
	}
}

// WithOpTimeout bounds each Store read and write. Defaults to
// DefaultOpTimeout.
func WithOpTimeout(d time.Duration) AccessorOption {
	return func(a *Accessor) {
		if d > 0 {
			a.opTimeout = d
		}
	}
}

// WithCoalescing makes concurrent misses for the same key share a single
// fetch. Off by default: every miss fetches independently.
func WithCoalescing(on bool) AccessorOption {
	return func(a *Accessor) {
		a.coalesce = on
	}
}

// NewAccessor creates an Accessor over store. A nil store behaves like Nop.
func NewAccessor(store Store, opts ...AccessorOption) *Accessor {
	if store == nil {
		store = Nop{}
	}
	a := &Accessor{
		store:      store,
		codec:      JSON,
		observer:   nopObserver{},
		logger:     zap.NewNop(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		defaultTTL: DefaultTTL,
		opTimeout:  DefaultOpTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// GetOrSet returns the value cached under key. On a miss, or when the cache
// cannot be read, it calls fetch once, stores the encoded result with ttl
// (best effort) and returns the result as decoded from that encoding. A non-positive ttl selects the accessor's
// default.
//
// Errors from fetch are returned unchanged. Cache failures are never
// returned; they are logged, reported to the Observer and otherwise treated
// as a miss.
//
// With coalescing enabled, concurrent callers for the same key share the
// first caller's fetch, including its context and its returned value.
func GetOrSet[T any](ctx context.Context, a *Accessor, key string, ttl time.Duration, fetch Fetcher[T]) (T, error) {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}

	ctx, span := a.tracer.Start(ctx, "cache.GetOrSet",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	if v, ok := lookup[T](ctx, a, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return v, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	if !a.coalesce {
		v, err := fill(ctx, a, key, ttl, fetch)
		if err != nil {
			recordFetchError(span, err)
		}
		return v, err
	}

	res, err, shared := a.flights.Do(key, func() (any, error) {
		return fill(ctx, a, key, ttl, fetch)
	})
	span.SetAttributes(attribute.Bool("cache.shared", shared))
	if err != nil {
		recordFetchError(span, err)
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// lookup reads and decodes key. Any failure is reported and counts as a miss.
func lookup[T any](ctx context.Context, a *Accessor, key string) (T, bool) {
	var zero T

	rctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	data, ok, err := a.store.Get(rctx, key)
	cancel()
	if err != nil {
		a.degrade(key, OpRead, err)
		a.observer.Miss(key)
		return zero, false
	}
	if !ok {
		a.observer.Miss(key)
		return zero, false
	}

	var v T
	if err := a.codec.Unmarshal(data, &v); err != nil {
		a.degrade(key, OpDecode, err)
		a.observer.Miss(key)
		return zero, false
	}
	a.observer.Hit(key)
	return v, true
}

// fill runs the fetcher and writes its result back.
func fill[T any](ctx context.Context, a *Accessor, key string, ttl time.Duration, fetch Fetcher[T]) (T, error) {
	start := time.Now()
	v, err := fetch(ctx)
	a.observer.Fetched(key, time.Since(start), err)
	if err != nil {
		var zero T
		return zero, err
	}

	data, err := a.codec.Marshal(v)
	if err != nil {
		a.degrade(key, OpEncode, err)
		return v, nil
	}

	// The fetch already succeeded; the write must not be lost to the
	// caller's cancellation.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opTimeout)
	defer cancel()
	if err := a.store.Set(wctx, key, data, ttl); err != nil {
		a.degrade(key, OpWrite, err)
	}

	// Hand back what a later hit will decode, so a miss and a hit yield the
	// same dynamic types.
	var out T
	if err := a.codec.Unmarshal(data, &out); err != nil {
		a.degrade(key, OpDecode, err)
		return v, nil
	}
	return out, nil
}

func (a *Accessor) degrade(key string, op Op, err error) {
	a.observer.Error(key, op, err)

	fields := []zap.Field{zap.String("key", key), zap.String("op", string(op)), zap.Error(err)}
	if errors.Is(err, ErrNotReady) || errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrClosed) {
		a.logger.Debug("cache bypassed", fields...)
		return
	}
	a.logger.Warn("cache operation failed, falling back to fetch", fields...)
}

func recordFetchError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
