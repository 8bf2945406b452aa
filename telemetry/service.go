package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/Keksclan/goSunSquirrel/cache"
	"github.com/Keksclan/goSunSquirrel/contextx"
	"github.com/Keksclan/goSunSquirrel/policy"
	"go.uber.org/zap"
)

// DefaultFetchTimeout bounds a single Source query. It is deliberately far
// above the cache operation timeout: a slow cache is abandoned quickly, a
// slow database is waited for.
const DefaultFetchTimeout = 15 * time.Second

// Service reads telemetry through the cache. It is safe for concurrent use.
type Service struct {
	src      Source
	acc      *cache.Accessor
	policies *policy.Resolver
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPolicies lets method policies override resource TTLs (CacheTTL) and
// the fetch timeout (Timeout).
func WithPolicies(r *policy.Resolver) Option {
	return func(s *Service) { s.policies = r }
}

// WithFetchTimeout overrides DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for failed fetches.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service reading from src through acc. A nil acc
// serves every request straight from src.
func NewService(src Source, acc *cache.Accessor, opts ...Option) *Service {
	if acc == nil {
		acc = cache.NewAccessor(nil)
	}
	s := &Service{
		src:     src,
		acc:     acc,
		timeout: DefaultFetchTimeout,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Rows returns the result set of res, cached under res.CacheKey(id). For
// PerID resources an empty id or AllIDs selects the full set; other resources
// ignore id.
func (s *Service) Rows(ctx context.Context, res Resource, id string) ([]Row, error) {
	if !res.PerID || id == AllIDs {
		id = ""
	}
	rows, err := cache.GetOrSet(ctx, s.acc, res.CacheKey(id), s.ttl(res), func(ctx context.Context) ([]Row, error) {
		return s.query(ctx, res, id)
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Row returns the first row of res, or an empty row when the result set is
// empty. Only the row is cached. It serves single-record aggregates such as
// EnergyData.
func (s *Service) Row(ctx context.Context, res Resource) (Row, error) {
	return cache.GetOrSet(ctx, s.acc, res.CacheKey(""), s.ttl(res), func(ctx context.Context) (Row, error) {
		rows, err := s.query(ctx, res, "")
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return Row{}, nil
		}
		return rows[0], nil
	})
}

// query runs one bounded Source call and logs its failure.
func (s *Service) query(ctx context.Context, res Resource, id string) ([]Row, error) {
	timeout := s.fetchTimeout(res)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.src.Rows(ctx, res, id)
	if err != nil {
		s.logger.Warn("telemetry source query failed",
			zap.String("resource", res.Name),
			zap.String("id", id),
			zap.String("request_id", contextx.RequestIDFromContext(ctx)),
			zap.Duration("took", time.Since(start)),
			zap.Bool("timed_out", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
	}
	return rows, err
}

func (s *Service) ttl(res Resource) time.Duration {
	return s.policies.CacheTTL(res.FullMethod(), res.TTL)
}

func (s *Service) fetchTimeout(res Resource) time.Duration {
	return s.policies.Timeout(res.FullMethod(), s.timeout)
}
