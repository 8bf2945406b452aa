// Package cache implements the read-through layer in front of the telemetry
// stored procedures: a byte-level [Store] contract with Redis, in-process and
// tiered implementations, a Redis connection lifecycle manager, and the
// generic cache-aside accessor [GetOrSet].
//
// Every cache failure degrades to pass-through. A missing, unreachable or
// misbehaving backend only ever costs a fetch; it never becomes an error the
// caller sees.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotReady is returned by backends that are not connected. No network
	// I/O is attempted.
	ErrNotReady = errors.New("cache: backend not ready")

	// ErrBreakerOpen is returned while the circuit breaker short-circuits
	// backend operations.
	ErrBreakerOpen = errors.New("cache: circuit breaker open")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("cache: backend closed")
)

// Store is the byte-level contract every cache backend satisfies.
type Store interface {
	// Get retrieves a value by key. A miss is (nil, false, nil); a backend
	// failure is (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key with the given TTL. A zero TTL means the
	// entry has no automatic expiration.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Nop is a Store that never holds anything. It turns the accessor into a
// pure pass-through.
type Nop struct{}

var _ Store = Nop{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Key joins parts into a colon-delimited cache key, e.g.
// Key("inverter", "data", "all") == "inverter:data:all".
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Namespace returns the first segment of a colon-delimited key. It is used as
// a bounded-cardinality label in metrics and logs.
func Namespace(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}
