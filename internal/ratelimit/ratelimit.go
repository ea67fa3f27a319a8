// Package ratelimit provides a process-local politeness throttle for
// outgoing requests, one token bucket per endpoint family. It protects the
// backend from bursts out of this client without any shared state. The
// limiter charges one token per logical request; retry attempts within a
// request are paced by the retry backoff, not by the bucket.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds token bucket parameters applied to every resource.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter hands out per-resource token buckets.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*rate.Limiter
}

// New creates a limiter. A non-positive rate disables limiting entirely:
// Wait then returns immediately.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the resource's bucket grants a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, resource string) error {
	if l == nil || l.cfg.RequestsPerSecond <= 0 {
		return nil
	}
	return l.bucket(resource).Wait(ctx)
}

// Allow reports whether a token is available without blocking.
func (l *Limiter) Allow(resource string) bool {
	if l == nil || l.cfg.RequestsPerSecond <= 0 {
		return true
	}
	return l.bucket(resource).Allow()
}

func (l *Limiter) bucket(resource string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.buckets[resource] = b
	}
	return b
}
