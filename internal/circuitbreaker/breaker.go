// Package circuitbreaker implements the per-resource circuit breaker that
// protects a flaky backend from being hammered by a failing client path.
//
// # State machine
//
//	Closed ──(failures in window ≥ threshold)──► Open ──(Cooldown elapsed)──► HalfOpen
//	  ▲                                                                           │
//	  └────────────(SuccessThreshold consecutive successes)──────────────────────┘
//	                (any probe failure) ─────────────────────────────────────► Open
//
// # Window semantics
//
// The breaker keeps the outcomes of the last VolumeThreshold calls. It
// trips when the failure count inside that window reaches FailureThreshold,
// or, when FailureRatio is set, when the windowed failure rate reaches the
// ratio with at least VolumeThreshold calls observed. A count-based window
// tracks "the last N calls" directly, so a slow trickle of failures trips
// the breaker just as reliably as a burst.
//
// # Concurrency
//
// All public methods are safe for concurrent use; they acquire the internal
// mutex for every call. The Registry uses a separate read-write mutex so
// the common read path (Get for an existing breaker) does not contend with
// the rare write path (new resource registered or removed).
//
// # Invariants
//
//   - The window slice never holds more than VolumeThreshold outcomes.
//   - Open→HalfOpen happens only after Cooldown has elapsed since openedAt.
//   - Any failure in HalfOpen reopens immediately and restarts the cooldown.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects a call without
// invoking it. Callers must treat this as a fast-fail, not a network
// failure: the retry layer never re-attempts it.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation, calls pass through
	StateOpen                  // Calls are rejected
	StateHalfOpen              // A limited number of probe calls are allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker configuration.
type Config struct {
	FailureThreshold int           // Failures within the window that trip the breaker
	VolumeThreshold  int           // Size of the rolling window (last N calls)
	FailureRatio     float64       // Optional: trip on failure rate (0-1) instead of absolute count
	Cooldown         time.Duration // How long the breaker stays open before probing
	SuccessThreshold int           // Consecutive half-open successes required to close
}

// DefaultConfig returns the breaker configuration used when a resource has
// no explicit policy.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		VolumeThreshold:  10,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

type outcome struct {
	at time.Time
	ok bool
}

// Breaker is a per-resource circuit breaker.
type Breaker struct {
	mu         sync.Mutex
	cfg        Config
	state      State
	window     []outcome // outcomes of the last VolumeThreshold calls
	openedAt   time.Time
	halfOpenOK int  // consecutive successful probes in half-open
	probing    bool // a half-open trial call is currently in flight
}

// New creates a new circuit breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.VolumeThreshold < cfg.FailureThreshold {
		cfg.VolumeThreshold = cfg.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg}
}

// Allow checks whether a call should be allowed through the breaker.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.toHalfOpen()
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		// One trial call at a time: its outcome decides the next
		// transition.
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return true
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.record(true)
	case StateHalfOpen:
		b.probing = false
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.window = b.window[:0]
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.record(false)
		b.checkThreshold()
	case StateHalfOpen:
		// Probe failed, reopen immediately
		b.probing = false
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// State returns the current breaker state, applying the automatic
// Open→HalfOpen transition when the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.toHalfOpen()
	}
	return b.state
}

// Do runs fn behind the breaker. When the breaker is open it returns
// ErrOpen without invoking fn; otherwise fn's outcome is recorded.
// A fn failure caused purely by ctx cancellation still counts as a
// failure: the backend did not answer in time.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// must be called under lock
func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.halfOpenOK = 0
	b.probing = false
}

// record appends an outcome, keeping the window at VolumeThreshold
// entries. Must be called under lock.
func (b *Breaker) record(ok bool) {
	b.window = append(b.window, outcome{at: time.Now(), ok: ok})
	if excess := len(b.window) - b.cfg.VolumeThreshold; excess > 0 {
		copy(b.window, b.window[excess:])
		b.window = b.window[:b.cfg.VolumeThreshold]
	}
}

// checkThreshold trips the breaker when the windowed failure count (or
// rate, when FailureRatio is configured) crosses the threshold. Must be
// called under lock.
func (b *Breaker) checkThreshold() {
	failures := 0
	for _, o := range b.window {
		if !o.ok {
			failures++
		}
	}
	tripped := failures >= b.cfg.FailureThreshold
	if b.cfg.FailureRatio > 0 {
		tripped = len(b.window) >= b.cfg.VolumeThreshold &&
			float64(failures)/float64(len(b.window)) >= b.cfg.FailureRatio
	}
	if tripped {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// Registry holds per-resource circuit breakers so that failures against
// one endpoint family never trip the breaker for an unrelated one.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry; cfg applies to every resource.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a resource, creating one on first use.
func (r *Registry) Get(resource string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[resource]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double check
	if b, ok := r.breakers[resource]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[resource] = b
	return b
}

// Do runs fn behind the breaker for the named resource.
func (r *Registry) Do(ctx context.Context, resource string, fn func(context.Context) error) error {
	return r.Get(resource).Do(ctx, fn)
}

// Remove deletes the breaker for a resource.
func (r *Registry) Remove(resource string) {
	r.mu.Lock()
	delete(r.breakers, resource)
	r.mu.Unlock()
}

// Reset returns every breaker to the closed state with cleared counters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for resource := range r.breakers {
		r.breakers[resource] = New(r.cfg)
	}
}

// Snapshot returns a map of resource name to breaker state for
// observability.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for resource, b := range r.breakers {
		out[resource] = b.State().String()
	}
	return out
}
