// Package retry provides a generic retry helper with exponential backoff and
// jitter. The cache client uses it to re-establish a lost backend connection
// when a reconnect policy is configured; callers may also wrap client-side
// gRPC invocations with it.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// backoff returns the delay for the given attempt (0-indexed) according to
// exponential back-off with optional jitter. The returned duration is capped
// at cfg.MaxDelay, or at the largest Duration when MaxDelay is zero.
func backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if maxDelay := float64(cfg.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	delay = math.Min(delay, math.MaxInt64)
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	switch {
	case delay < 0:
		delay = 0
	case delay >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Delay exposes the back-off schedule so callers can wait before a first
// attempt using the same curve as [Do].
func Delay(cfg Config, attempt int) time.Duration {
	return backoff(cfg, attempt)
}
