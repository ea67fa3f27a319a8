// Package client implements the request orchestrator: the layer that
// composes cache, deduplication, circuit breaking, retry and the raw HTTP
// call into one resilient pipeline against the directory backend.
//
// Control flow for a cacheable read:
//
//	Do ──► cache lookup ──hit──► envelope (no network)
//	        │ miss
//	        ▼
//	      dedup ──► breaker ──► retry ──► HTTP fetch
//	        ▲                                │
//	        └── joined callers share one call┘
//
// Mutating requests skip the cache and dedup layers, carry an idempotency
// key, and invalidate cached entries for the touched resource on success.
// All shared state (cache, breaker registry, pending-request map) is owned
// by the Client instance; two Clients never interfere, so tests construct
// isolated pipelines freely.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/minyanly/dirclient/internal/cache"
	"github.com/minyanly/dirclient/internal/circuitbreaker"
	"github.com/minyanly/dirclient/internal/config"
	"github.com/minyanly/dirclient/internal/dedup"
	"github.com/minyanly/dirclient/internal/logging"
	"github.com/minyanly/dirclient/internal/metrics"
	"github.com/minyanly/dirclient/internal/ratelimit"
	"github.com/minyanly/dirclient/internal/retry"
)

// maxResponseBody caps how much of a response the client will read.
const maxResponseBody = 8 << 20 // 8 MiB

// Client is the resilient API client. Construct with New; the zero value
// is not usable.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	timeout    time.Duration
	defaultTTL time.Duration

	cache       cache.Cache
	breakers    *circuitbreaker.Registry
	dedup       *dedup.Deduplicator
	policy      retry.Policy
	limiter     *ratelimit.Limiter
	stats       *metrics.Metrics
	prom        *metrics.PrometheusMetrics
	recorder    *metrics.Recorder
	reqLog      *logging.RequestLogger
	tokens      TokenSource
	invalidator *cache.Invalidator
	auth        authNotifier
}

// Option customizes a Client beyond what config covers.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache replaces the response cache (e.g. a tiered Redis-backed one).
func WithCache(store cache.Cache) Option {
	return func(c *Client) { c.cache = store }
}

// WithTokenSource sets the bearer token supplier.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithPrometheus attaches a Prometheus mirror for the pipeline counters.
func WithPrometheus(pm *metrics.PrometheusMetrics) Option {
	return func(c *Client) { c.prom = pm }
}

// WithRecorder attaches a metric recorder for off-process export.
func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithRequestLogger attaches a per-request logger.
func WithRequestLogger(l *logging.RequestLogger) Option {
	return func(c *Client) { c.reqLog = l }
}

// WithInvalidator attaches a cross-instance cache invalidation publisher.
func WithInvalidator(iv *cache.Invalidator) Option {
	return func(c *Client) { c.invalidator = iv }
}

// New builds a Client from config. Every pipeline component is owned by
// the returned instance.
func New(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.Backend.BaseURL,
		userAgent:  cfg.Backend.UserAgent,
		timeout:    cfg.Backend.Timeout,
		defaultTTL: cfg.Cache.DefaultTTL,
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			VolumeThreshold:  cfg.Breaker.VolumeThreshold,
			FailureRatio:     cfg.Breaker.FailureRatio,
			Cooldown:         cfg.Breaker.Cooldown,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		}),
		dedup: dedup.New(),
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  cfg.Retry.Multiplier,
			Jitter:      cfg.Retry.Jitter,
		},
		stats:  metrics.New(),
		tokens: StaticToken(cfg.Backend.AuthToken),
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if cfg.RateLimit.Enabled {
		c.limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
	}
	for _, opt := range opts {
		opt(c)
	}
	// The default in-memory cache runs a sweep goroutine; build it only
	// when no option supplied a cache.
	if c.cache == nil {
		c.cache = cache.NewInMemoryCache(cfg.Cache.MaxEntries)
	}
	if c.recorder != nil && c.prom != nil {
		c.recorder.OnFlushFailure(c.prom.ObserveFlushFailure)
	}
	return c
}

// OnAuthFailure subscribes fn to 401/403 responses. The returned func
// removes the subscription.
func (c *Client) OnAuthFailure(fn func(AuthEvent)) (unsubscribe func()) {
	return c.auth.subscribe(fn)
}

// Stats returns a snapshot of the pipeline counters.
func (c *Client) Stats() metrics.Snapshot {
	return c.stats.Stats()
}

// Breakers returns resource name → breaker state for observability.
func (c *Client) Breakers() map[string]string {
	return c.breakers.Snapshot()
}

// InvalidateCache removes cached responses whose key contains pattern and
// broadcasts the invalidation to sibling instances when an invalidator is
// attached.
func (c *Client) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	n, err := c.cache.Invalidate(ctx, pattern)
	if c.prom != nil {
		c.prom.ObserveCacheOp("invalidate")
	}
	if c.invalidator != nil {
		if perr := c.invalidator.Publish(ctx, pattern); perr != nil {
			logging.Op().Warn("publish cache invalidation failed", "pattern", pattern, "error", perr)
		}
	}
	return n, err
}

// Close releases the cache and stops the metric recorder.
func (c *Client) Close() error {
	if c.recorder != nil {
		c.recorder.Close()
	}
	if c.invalidator != nil {
		_ = c.invalidator.Close()
	}
	return c.cache.Close()
}
