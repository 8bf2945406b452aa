package policy

import (
	"regexp"
	"time"
)

// RateLimitRule allows Rate calls per Window for a group, shared by all its
// methods.
type RateLimitRule struct {
	Rate   int
	Window time.Duration
}

// Policy is what a matched group applies to its methods.
type Policy struct {
	// RateLimit, when set, gives the group its own token bucket instead of
	// the global one.
	RateLimit *RateLimitRule

	// Timeout bounds the backend fetch behind a method. Zero keeps the
	// caller's default.
	Timeout time.Duration

	// CacheTTL overrides the default cache lifetime of the data a method
	// serves. Zero keeps the resource default.
	CacheTTL time.Duration
}

// matchKind orders matching strategies; lower values take precedence.
type matchKind int

const (
	kindExact matchKind = iota
	kindPrefix
	kindRegex
)

type rule struct {
	kind    matchKind
	pattern string
	re      *regexp.Regexp // kindRegex only
}

// GroupBuilder names a set of RPC methods and the Policy they share, e.g.
//
//	policy.Group("trends").
//		Exact("/scada.Telemetry/GetMeterTrend").
//		Exact("/scada.Telemetry/GetWeatherTrend").
//		Policy(policy.Policy{CacheTTL: 10 * time.Minute})
type GroupBuilder struct {
	name   string
	rules  []rule
	policy *Policy
}

// Group starts building a new method group with the given name.
func Group(name string) *GroupBuilder {
	return &GroupBuilder{name: name}
}

// Exact matches one full method name.
func (g *GroupBuilder) Exact(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindExact, pattern: pattern})
	return g
}

// Prefix matches every method starting with pattern, e.g. a whole service
// with "/scada.Telemetry/".
func (g *GroupBuilder) Prefix(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindPrefix, pattern: pattern})
	return g
}

// Regex matches methods against an unanchored regular expression. The
// pattern is compiled immediately and an invalid one panics; check patterns
// from configuration with [ValidateRegex] first.
func (g *GroupBuilder) Regex(pattern string) *GroupBuilder {
	g.rules = append(g.rules, rule{kind: kindRegex, pattern: pattern, re: regexp.MustCompile(pattern)})
	return g
}

// ValidateRegex reports whether pattern can be passed to Regex.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile(pattern)
	return err
}

// Name returns the group name.
func (g *GroupBuilder) Name() string {
	return g.name
}

// Policy attaches p to the group.
func (g *GroupBuilder) Policy(p Policy) *GroupBuilder {
	g.policy = &p
	return g
}
