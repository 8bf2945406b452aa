// Package ratelimit provides a token-bucket rate limiter backed by
// golang.org/x/time/rate for use as a gRPC request gate in front of the
// telemetry endpoints.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter that decides whether an incoming
// request should be allowed.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps requests per second with the
// given burst size.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// PerWindow creates a Limiter that admits n requests per window, all of which
// may arrive at once.
func PerWindow(n int, window time.Duration) *Limiter {
	if window <= 0 {
		return NewLimiter(float64(n), n)
	}
	return NewLimiter(float64(n)/window.Seconds(), n)
}

// Allow reports whether a single request may proceed.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}
