package policy

import (
	"sync"
	"time"
)

// Resolver maps full gRPC method names to the best-matching group. Groups
// must not be modified after NewResolver; results are memoized per method,
// which is bounded by the set of registered RPCs.
type Resolver struct {
	groups []*GroupBuilder
	memo   sync.Map // fullMethod -> candidate
}

// NewResolver creates a Resolver from the supplied group builders.
func NewResolver(groups ...*GroupBuilder) *Resolver {
	return &Resolver{groups: groups}
}

// Resolve finds the best-matching group for fullMethod.
//
// Exact matches beat prefix matches, which beat regex matches. Among
// matches of the same kind the longer match wins, and on a full tie the
// group registered first wins.
//
// If no group matches, or res is nil, ok is false.
func (res *Resolver) Resolve(fullMethod string) (groupName string, pol *Policy, ok bool) {
	if res == nil {
		return "", nil, false
	}
	best := res.lookup(fullMethod)
	if best.group == nil {
		return "", nil, false
	}
	return best.group.name, best.group.policy, true
}

func (res *Resolver) lookup(fullMethod string) candidate {
	if v, ok := res.memo.Load(fullMethod); ok {
		return v.(candidate)
	}
	var best candidate
	for _, g := range res.groups {
		for i := range g.rules {
			r := &g.rules[i]
			n, ok := r.match(fullMethod)
			if !ok {
				continue
			}
			if c := (candidate{group: g, kind: r.kind, length: n}); c.outranks(best) {
				best = c
			}
		}
	}
	res.memo.Store(fullMethod, best)
	return best
}

// CacheTTL returns the CacheTTL of the policy matching fullMethod, or
// fallback when no policy sets one.
func (res *Resolver) CacheTTL(fullMethod string, fallback time.Duration) time.Duration {
	if _, pol, ok := res.Resolve(fullMethod); ok && pol != nil && pol.CacheTTL > 0 {
		return pol.CacheTTL
	}
	return fallback
}

// Timeout returns the Timeout of the policy matching fullMethod, or fallback
// when no policy sets one.
func (res *Resolver) Timeout(fullMethod string, fallback time.Duration) time.Duration {
	if _, pol, ok := res.Resolve(fullMethod); ok && pol != nil && pol.Timeout > 0 {
		return pol.Timeout
	}
	return fallback
}
