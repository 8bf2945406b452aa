package cache

import (
	"context"
	"time"
)

// DefaultPromoteTTL bounds how long an entry read from the second tier lives
// in L1. The remaining TTL of the L2 entry is unknown, so a promoted entry can
// outlive it by at most this window.
const DefaultPromoteTTL = 5 * time.Second

// Tiered combines an L1 (in-process) cache with a shared second tier,
// normally the Redis [Client]. Reads check L1 first, then L2. Writes populate
// both layers.
type Tiered struct {
	l1 *L1
	l2 Store

	promoteTTL time.Duration
}

var _ Store = (*Tiered)(nil)

// NewTiered creates a two-level cache. A promoteTTL ≤ 0 selects
// DefaultPromoteTTL.
func NewTiered(l1 *L1, l2 Store, promoteTTL time.Duration) *Tiered {
	if promoteTTL <= 0 {
		promoteTTL = DefaultPromoteTTL
	}
	return &Tiered{l1: l1, l2: l2, promoteTTL: promoteTTL}
}

// Get checks L1, then L2. An L2 hit is promoted into L1 for promoteTTL. An L2
// error is returned only when L1 missed too.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, _ := t.l1.Get(ctx, key); ok {
		return v, true, nil
	}
	v, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.l1.Set(ctx, key, v, t.promoteTTL)
	return v, true, nil
}

// Set writes the value to L1 and then L2. L1 never fails; the L2 error, if
// any, is returned so the caller can account for it.
func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, val, ttl)
	return t.l2.Set(ctx, key, val, ttl)
}
