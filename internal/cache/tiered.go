package cache

import (
	"context"
	"time"
)

// TieredCache implements Cache with a fast L1 (in-memory) cache backed by a
// shared L2 (typically Redis) cache. Reads check L1 first, falling through
// to L2 on miss and populating L1 on L2 hit. Writes and invalidations go to
// both layers. Combined with Invalidator, this gives low-latency reads with
// cross-instance consistency.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration // cap on L1 entry lifetime (should be shorter than L2)
}

// NewTieredCache creates a two-level cache.
// l1TTL caps how long items live in the L1 cache (default: 10s).
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := t.l1.Get(ctx, key)
	if err == nil {
		return e, nil
	}

	// L1 miss, try L2
	e, err = t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Populate L1 on L2 hit
	_ = t.l1.Set(ctx, key, t.capped(e))
	return e, nil
}

func (t *TieredCache) Set(ctx context.Context, key string, e *Entry) error {
	_ = t.l1.Set(ctx, key, t.capped(e))
	return t.l2.Set(ctx, key, e)
}

func (t *TieredCache) Touch(ctx context.Context, key string) error {
	_ = t.l1.Touch(ctx, key)
	return t.l2.Touch(ctx, key)
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	_, _ = t.l1.Invalidate(ctx, pattern)
	return t.l2.Invalidate(ctx, pattern)
}

func (t *TieredCache) Clear(ctx context.Context) error {
	_ = t.l1.Clear(ctx)
	return t.l2.Clear(ctx)
}

func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}

// capped clones e with its TTL limited to the L1 lifetime.
func (t *TieredCache) capped(e *Entry) *Entry {
	cp := *e
	if cp.TTL <= 0 || cp.TTL > t.l1TTL {
		cp.TTL = t.l1TTL
	}
	return &cp
}
