// Package retry re-invokes a failing operation using bounded exponential
// backoff with jitter. Only errors the configured classifier marks as
// transient are retried; everything else surfaces after the first attempt.
// The executor never sleeps past Policy.MaxDelay per attempt and never runs
// past Policy.MaxAttempts, so worst-case latency is bounded by
// configuration, not by luck.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/minyanly/dirclient/internal/apierr"
)

// Policy configures the retry executor for one logical call.
type Policy struct {
	MaxAttempts int           // Total attempts including the first (min 1)
	BaseDelay   time.Duration // Delay before the second attempt
	MaxDelay    time.Duration // Cap on any single backoff sleep
	Multiplier  float64       // Exponential growth factor between attempts
	Jitter      float64       // Random spread, 0-1 (0.5 = ±50%)

	// Classify reports whether an error is worth re-attempting.
	// Nil selects apierr.Retryable.
	Classify func(error) bool
}

// DefaultPolicy returns the policy used when a request carries no explicit
// retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.5,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Classify == nil {
		p.Classify = apierr.Retryable
	}
	return p
}

// Result reports what a call to Do cost, for observability.
type Result struct {
	Attempts int           // How many times the operation ran
	Elapsed  time.Duration // Wall time including backoff sleeps
}

// Do runs op until it succeeds, the classifier rejects its error, attempts
// are exhausted, or ctx is done. The returned error is always the one from
// the final attempt (or ctx.Err() when cancellation cut the backoff short);
// Result is valid in both the success and failure case.
func Do(ctx context.Context, p Policy, op func(context.Context) error) (Result, error) {
	p = p.normalized()
	start := time.Now()
	var lastErr error

	for attempt := 1; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, nil
		}
		if attempt >= p.MaxAttempts || !p.Classify(lastErr) {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, lastErr
		}

		select {
		case <-time.After(p.delay(attempt)):
		case <-ctx.Done():
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, ctx.Err()
		}
	}
}

// delay computes the backoff sleep after the given 1-based attempt:
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay), spread by ±Jitter.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
