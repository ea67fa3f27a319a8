// Package dedup collapses concurrent identical in-flight requests into one
// shared execution. Two callers asking for the same method+URL+body before
// the first settles share a single network call and receive the same result
// or the same error.
//
// # Cancellation policy
//
// Cancelling one joined caller detaches only that caller: its Do returns
// the context error, while the shared execution keeps running for everyone
// else (and to completion even if every caller detaches, so its result can
// still populate the cache). Abandoning the shared call on first
// cancellation would let one impatient caller fail the others.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Deduplicator collapses concurrent identical calls.
// The zero value is not usable; use New.
type Deduplicator struct {
	group   singleflight.Group
	mu      sync.Mutex
	pending map[string]time.Time // key -> startedAt, for observability
}

// New creates a Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{pending: make(map[string]time.Time)}
}

// Key builds a deduplication key from method, full URL (including query)
// and serialized body. The body is hashed so large payloads do not bloat
// the pending map; distinct bodies always produce distinct keys.
func Key(method, url string, body []byte) string {
	if len(body) == 0 {
		return method + " " + url
	}
	sum := sha256.Sum256(body)
	return method + " " + url + " " + hex.EncodeToString(sum[:])
}

// Do executes fn under key, joining an existing in-flight execution when
// one is present. fn runs with context.WithoutCancel(ctx) so a joined
// caller's cancellation never aborts the shared call; the cancelled caller
// itself unblocks immediately with ctx.Err(). The bool result reports
// whether the value was shared with other callers.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, bool, error) {
	d.track(key)

	// The shared execution is detached from any single caller's
	// lifetime. Its own deadline is enforced inside fn by the
	// per-request timeout.
	execCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (interface{}, error) {
		defer d.untrack(key)
		return fn(execCtx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Pending returns the keys currently in flight and when each started.
func (d *Deduplicator) Pending() map[string]time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]time.Time, len(d.pending))
	for k, v := range d.pending {
		out[k] = v
	}
	return out
}

func (d *Deduplicator) track(key string) {
	d.mu.Lock()
	if _, exists := d.pending[key]; !exists {
		d.pending[key] = time.Now()
	}
	d.mu.Unlock()
}

func (d *Deduplicator) untrack(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}
