// Package metrics collects pipeline observability data: aggregate atomic
// counters for cheap hot-path recording, per-endpoint stats, a bounded
// flush queue for shipping metric records off-process, and a Prometheus
// mirror for scraping. Recording is best-effort and never fails; a broken
// metrics path must not be able to break a request.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metric is one observability record queued for export.
type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Metrics aggregates pipeline counters. Instances are constructor-injected
// into the client so tests can run isolated pipelines; there is no package
// global.
type Metrics struct {
	RequestsTotal    atomic.Int64
	RequestsFailed   atomic.Int64
	CacheHits        atomic.Int64
	CacheMisses      atomic.Int64
	NotModified      atomic.Int64 // conditional GETs answered with 304
	RetriesTotal     atomic.Int64 // attempts beyond the first
	BreakerRejected  atomic.Int64 // fast-fails while a breaker was open
	DedupJoined      atomic.Int64 // callers that joined an in-flight call
	TotalLatencyMs   atomic.Int64
	MinLatencyMs     atomic.Int64
	MaxLatencyMs     atomic.Int64
	BytesReceived    atomic.Int64

	endpointStats sync.Map // resource -> *EndpointMetrics

	startTime time.Time
}

// EndpointMetrics tracks counters for a single endpoint family.
type EndpointMetrics struct {
	Requests atomic.Int64
	Failures atomic.Int64
	Hits     atomic.Int64
	TotalMs  atomic.Int64
	MinMs    atomic.Int64
	MaxMs    atomic.Int64
}

// New creates an empty metrics aggregate.
func New() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // max int64
	return m
}

// StartTime returns when this metrics instance was created.
func (m *Metrics) StartTime() time.Time { return m.startTime }

// RecordRequest records a completed request against an endpoint family.
func (m *Metrics) RecordRequest(resource string, durationMs int64, size int, success bool) {
	m.RequestsTotal.Add(1)
	if !success {
		m.RequestsFailed.Add(1)
	}
	m.TotalLatencyMs.Add(durationMs)
	m.BytesReceived.Add(int64(size))
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	em := m.endpoint(resource)
	em.Requests.Add(1)
	if !success {
		em.Failures.Add(1)
	}
	em.TotalMs.Add(durationMs)
	updateMin(&em.MinMs, durationMs)
	updateMax(&em.MaxMs, durationMs)
}

// RecordCacheHit records a read served from cache for an endpoint family.
func (m *Metrics) RecordCacheHit(resource string) {
	m.CacheHits.Add(1)
	m.endpoint(resource).Hits.Add(1)
}

// RecordCacheMiss records a read that had to go to the network.
func (m *Metrics) RecordCacheMiss(resource string) {
	m.CacheMisses.Add(1)
}

// RecordNotModified records a conditional GET answered with 304.
func (m *Metrics) RecordNotModified(resource string) {
	m.NotModified.Add(1)
	m.endpoint(resource).Hits.Add(1)
}

// RecordRetries records attempts beyond the first for one request.
func (m *Metrics) RecordRetries(n int) {
	if n > 0 {
		m.RetriesTotal.Add(int64(n))
	}
}

// RecordBreakerRejection records a breaker fast-fail.
func (m *Metrics) RecordBreakerRejection(resource string) {
	m.BreakerRejected.Add(1)
}

// RecordDedupJoin records a caller that shared another caller's in-flight
// network call.
func (m *Metrics) RecordDedupJoin() {
	m.DedupJoined.Add(1)
}

func (m *Metrics) endpoint(resource string) *EndpointMetrics {
	if v, ok := m.endpointStats.Load(resource); ok {
		return v.(*EndpointMetrics)
	}
	em := &EndpointMetrics{}
	em.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.endpointStats.LoadOrStore(resource, em)
	return actual.(*EndpointMetrics)
}

// EndpointSnapshot is a point-in-time view of one endpoint family.
type EndpointSnapshot struct {
	Resource string `json:"resource"`
	Requests int64  `json:"requests"`
	Failures int64  `json:"failures"`
	Hits     int64  `json:"cache_hits"`
	AvgMs    int64  `json:"avg_ms"`
	MinMs    int64  `json:"min_ms"`
	MaxMs    int64  `json:"max_ms"`
}

// Snapshot is a point-in-time view of the aggregate counters.
type Snapshot struct {
	UptimeSeconds   int64              `json:"uptime_seconds"`
	Requests        int64              `json:"requests"`
	Failed          int64              `json:"failed"`
	CacheHits       int64              `json:"cache_hits"`
	CacheMisses     int64              `json:"cache_misses"`
	NotModified     int64              `json:"not_modified"`
	Retries         int64              `json:"retries"`
	BreakerRejected int64              `json:"breaker_rejected"`
	DedupJoined     int64              `json:"dedup_joined"`
	AvgLatencyMs    int64              `json:"avg_latency_ms"`
	BytesReceived   int64              `json:"bytes_received"`
	Endpoints       []EndpointSnapshot `json:"endpoints"`
}

// Stats returns a consistent-enough snapshot for display.
func (m *Metrics) Stats() Snapshot {
	s := Snapshot{
		UptimeSeconds:   int64(time.Since(m.startTime).Seconds()),
		Requests:        m.RequestsTotal.Load(),
		Failed:          m.RequestsFailed.Load(),
		CacheHits:       m.CacheHits.Load(),
		CacheMisses:     m.CacheMisses.Load(),
		NotModified:     m.NotModified.Load(),
		Retries:         m.RetriesTotal.Load(),
		BreakerRejected: m.BreakerRejected.Load(),
		DedupJoined:     m.DedupJoined.Load(),
		BytesReceived:   m.BytesReceived.Load(),
	}
	if s.Requests > 0 {
		s.AvgLatencyMs = m.TotalLatencyMs.Load() / s.Requests
	}
	m.endpointStats.Range(func(key, value any) bool {
		em := value.(*EndpointMetrics)
		es := EndpointSnapshot{
			Resource: key.(string),
			Requests: em.Requests.Load(),
			Failures: em.Failures.Load(),
			Hits:     em.Hits.Load(),
			MinMs:    em.MinMs.Load(),
			MaxMs:    em.MaxMs.Load(),
		}
		if es.Requests > 0 {
			es.AvgMs = em.TotalMs.Load() / es.Requests
		}
		s.Endpoints = append(s.Endpoints, es)
		return true
	})
	return s
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		cur := target.Load()
		if value >= cur {
			return
		}
		if target.CompareAndSwap(cur, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		cur := target.Load()
		if value <= cur {
			return
		}
		if target.CompareAndSwap(cur, value) {
			return
		}
	}
}
