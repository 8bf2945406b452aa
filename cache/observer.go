package cache

import "time"

// Op names the cache step that failed.
type Op string

const (
	OpRead   Op = "read"
	OpDecode Op = "decode"
	OpEncode Op = "encode"
	OpWrite  Op = "write"
)

// Observer receives accessor events. Every GetOrSet call reports exactly one
// of Hit or Miss; failures of cache steps are reported through Error in
// addition. Implementations must be safe for concurrent use.
type Observer interface {
	Hit(key string)
	Miss(key string)
	Fetched(key string, took time.Duration, err error)
	Error(key string, op Op, err error)
}

type nopObserver struct{}

func (nopObserver) Hit(string) {}
func (nopObserver) Miss(string) {}
func (nopObserver) Fetched(string, time.Duration, error) {}
func (nopObserver) Error(string, Op, error) {}
