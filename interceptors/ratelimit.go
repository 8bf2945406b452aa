package interceptors

import (
	"context"
	"sync"

	"github.com/Keksclan/goSunSquirrel/contextx"
	"github.com/Keksclan/goSunSquirrel/policy"
	"github.com/Keksclan/goSunSquirrel/ratelimit"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errRateLimited is allocated once to avoid per-request allocations on the hot path.
var errRateLimited = status.Error(codes.ResourceExhausted, "rate limit exceeded")

// rateLimitState holds the global limiter, an optional policy resolver, and a
// cache of per-group limiters created lazily from resolved policies.
type rateLimitState struct {
	global   *ratelimit.Limiter
	resolver *policy.Resolver

	mu     sync.Mutex
	groups map[string]*ratelimit.Limiter
}

// limiterFor returns the matched policy group, if any, and the limiter that
// applies to fullMethod: the group's own limiter when its policy carries a
// RateLimit, otherwise the global limiter, which may be nil.
func (s *rateLimitState) limiterFor(fullMethod string) (string, *ratelimit.Limiter) {
	name, pol, ok := s.resolver.Resolve(fullMethod)
	if !ok {
		return "", s.global
	}
	if pol == nil || pol.RateLimit == nil {
		return name, s.global
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.groups[name]; ok {
		return name, l
	}
	l := ratelimit.PerWindow(pol.RateLimit.Rate, pol.RateLimit.Window)
	s.groups[name] = l
	return name, l
}

// admit reports whether the call may proceed and tags ctx with the matched
// policy group.
func (s *rateLimitState) admit(ctx context.Context, fullMethod string) (context.Context, bool) {
	group, l := s.limiterFor(fullMethod)
	if group != "" {
		ctx = contextx.WithPolicyGroup(ctx, group)
	}
	return ctx, l == nil || l.Allow()
}

// RateLimitUnary returns a unary server interceptor that rejects requests when
// the applicable rate limiter has been exhausted. When a policy resolver is
// provided and the method matches a group with a RateLimit rule, that
// per-group limiter is used; otherwise the global limiter applies. A nil
// global limiter leaves unmatched methods unlimited. Admitted calls carry the
// matched group name, see contextx.PolicyGroupFromContext.
func RateLimitUnary(l *ratelimit.Limiter, r *policy.Resolver) grpc.UnaryServerInterceptor {
	st := &rateLimitState{global: l, resolver: r, groups: make(map[string]*ratelimit.Limiter)}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, ok := st.admit(ctx, info.FullMethod)
		if !ok {
			return nil, errRateLimited
		}
		return handler(ctx, req)
	}
}

// RateLimitStream returns a stream server interceptor that rejects requests
// when the applicable rate limiter has been exhausted.
func RateLimitStream(l *ratelimit.Limiter, r *policy.Resolver) grpc.StreamServerInterceptor {
	st := &rateLimitState{global: l, resolver: r, groups: make(map[string]*ratelimit.Limiter)}
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, ok := st.admit(ss.Context(), info.FullMethod)
		if !ok {
			return errRateLimited
		}
		if ctx != ss.Context() {
			ss = &contextStream{ServerStream: ss, ctx: ctx}
		}
		return handler(srv, ss)
	}
}
