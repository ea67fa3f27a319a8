package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minyanly/dirclient/internal/apierr"
	"github.com/minyanly/dirclient/internal/cache"
	"github.com/minyanly/dirclient/internal/config"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend.BaseURL = baseURL
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.VolumeThreshold = 5
	cfg.Breaker.Cooldown = time.Minute
	return cfg
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := New(testConfig(baseURL))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDoValidatesRequest(t *testing.T) {
	c := newTestClient(t, "http://unused.example")
	ctx := context.Background()

	cases := []*Request{
		{Method: "TRACE", Endpoint: "/restaurants"},
		{Method: http.MethodGet, Endpoint: ""},
		{Method: http.MethodGet, Endpoint: "restaurants"},
		{Method: http.MethodPost, Endpoint: "/restaurants", Cacheable: true},
	}
	for _, req := range cases {
		_, err := c.Do(ctx, req)
		if apierr.KindOf(err) != apierr.KindValidation {
			t.Fatalf("req %+v: err = %v, want validation error", req, err)
		}
	}
}

func TestDoUnwrapsBackendEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"id":"42","name":"Glatt Spot"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Get(context.Background(), "/restaurants/42", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := resp.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "42" || got.Name != "Glatt Spot" {
		t.Fatalf("payload = %+v", got)
	}
	if resp.Attempts != 1 || resp.FromCache {
		t.Fatalf("attempts = %d, fromCache = %v", resp.Attempts, resp.FromCache)
	}
}

func TestDoEnvelopeLogicalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"listing not visible"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Get(context.Background(), "/restaurants/9", nil)
	e := apierr.As(err)
	if e == nil || e.Kind != apierr.KindHTTP {
		t.Fatalf("err = %v, want http error despite 200 status", err)
	}
	if e.Message != "listing not visible" {
		t.Fatalf("message = %q", e.Message)
	}
}

func TestDoCachesSecondRead(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"data":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	first, err := c.Get(ctx, "/restaurants", nil)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if first.FromCache {
		t.Fatal("first read claims to be cached")
	}

	second, err := c.Get(ctx, "/restaurants", nil)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !second.FromCache {
		t.Fatal("second read not served from cache")
	}
	if second.Attempts != 0 {
		t.Fatalf("cached read attempts = %d, want 0", second.Attempts)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("backend hit %d times, want 1", n)
	}
	if string(first.Data) != string(second.Data) {
		t.Fatalf("cached data diverged: %s vs %s", first.Data, second.Data)
	}
}

func TestDoQueryDistinguishesCacheEntries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"city":"` + r.URL.Query().Get("city") + `"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/restaurants", url.Values{"city": {"Brooklyn"}}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := c.Get(ctx, "/restaurants", url.Values{"city": {"Teaneck"}}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("backend hit %d times, want 2 for distinct queries", n)
	}
}

func TestDoRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.Get(context.Background(), "/restaurants", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", resp.Attempts)
	}
	if got := c.Stats().Retries; got != 1 {
		t.Fatalf("retries counter = %d, want 1", got)
	}
}

func TestDoDoesNotRetryClientError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no such listing"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Get(context.Background(), "/restaurants/404", nil)
	e := apierr.As(err)
	if e == nil || e.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 http error", err)
	}
	if e.Message != "no such listing" {
		t.Fatalf("message = %q, want backend error body message", e.Message)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("backend hit %d times, want 1 for a 404", n)
	}
}

func TestDoBreakerFastFails(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	// the breaker counts one failure per request, however many retry
	// attempts it burned; FailureThreshold is 3
	for i := 0; i < 3; i++ {
		if _, err := c.Do(ctx, &Request{Method: http.MethodGet, Endpoint: "/restaurants"}); err == nil {
			t.Fatal("expected failure")
		}
	}
	before := hits.Load()

	_, err := c.Do(ctx, &Request{Method: http.MethodGet, Endpoint: "/restaurants"})
	if apierr.KindOf(err) != apierr.KindCircuitOpen {
		t.Fatalf("err = %v, want circuit open", err)
	}
	if hits.Load() != before {
		t.Fatal("open breaker let a call through to the backend")
	}
	if c.Stats().BreakerRejected == 0 {
		t.Fatal("breaker rejection not counted")
	}

	// an unrelated resource is unaffected
	if _, err := c.Do(ctx, &Request{Method: http.MethodGet, Endpoint: "/synagogues"}); apierr.KindOf(err) == apierr.KindCircuitOpen {
		t.Fatal("breaker tripped for an unrelated resource")
	}

	if state := c.Breakers()["restaurants"]; state != "open" {
		t.Fatalf("restaurants breaker = %q, want open", state)
	}
}

func TestDoRevalidate304(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"data":{"id":"7"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/mikvahs/7", nil); err != nil {
		t.Fatalf("priming get: %v", err)
	}

	req := NewGet("/mikvahs/7", nil)
	req.Revalidate = true
	resp, err := c.Do(ctx, req)
	if err != nil {
		t.Fatalf("revalidating get: %v", err)
	}
	if !resp.NotModified {
		t.Fatal("revalidated response not flagged NotModified")
	}
	if string(resp.Data) != `{"id":"7"}` {
		t.Fatalf("data = %s, want cached payload re-served", resp.Data)
	}
	if n := hits.Load(); n != 2 {
		t.Fatalf("backend hit %d times, want 2 (prime + conditional)", n)
	}
	if c.Stats().NotModified != 1 {
		t.Fatalf("not-modified counter = %d, want 1", c.Stats().NotModified)
	}
}

func TestDoWriteSendsIdempotencyKeyAndInvalidates(t *testing.T) {
	var mu sync.Mutex
	var idemKeys []string
	var getHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mu.Lock()
			idemKeys = append(idemKeys, r.Header.Get("Idempotency-Key"))
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"new"}`))
			return
		}
		getHits.Add(1)
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/stores", nil); err != nil {
		t.Fatalf("priming get: %v", err)
	}

	resp, err := c.Post(ctx, "/stores", map[string]string{"name": "Kosher Korner"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.Status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.Status)
	}
	mu.Lock()
	if len(idemKeys) != 1 || idemKeys[0] == "" {
		t.Fatalf("idempotency keys = %v, want one generated key", idemKeys)
	}
	mu.Unlock()

	// the write invalidated the cached family, so this goes to the network
	if _, err := c.Get(ctx, "/stores", nil); err != nil {
		t.Fatalf("get after write: %v", err)
	}
	if n := getHits.Load(); n != 2 {
		t.Fatalf("backend GETs = %d, want 2 (cache invalidated by write)", n)
	}
}

func TestDoWriteKeepsCallerIdempotencyKey(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("Idempotency-Key"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	req := &Request{
		Method:         http.MethodPut,
		Endpoint:       "/stores/5",
		Body:           map[string]string{"name": "x"},
		IdempotencyKey: "caller-chosen-key",
	}
	if _, err := c.Do(context.Background(), req); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got.Load() != "caller-chosen-key" {
		t.Fatalf("idempotency key = %v, want caller-chosen-key", got.Load())
	}
}

func TestDoDeduplicatesConcurrentReads(t *testing.T) {
	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// uncacheable so every call would otherwise hit the network
			_, errs[i] = c.Do(ctx, &Request{Method: http.MethodGet, Endpoint: "/synagogues"})
		}(i)
	}

	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("backend hit %d times, want 1 shared call", n)
	}
	if c.Stats().DedupJoined == 0 {
		t.Fatal("dedup joins not counted")
	}
}

func TestDoAuthFailureNotifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var events []AuthEvent
	unsubscribe := c.OnAuthFailure(func(ev AuthEvent) { events = append(events, ev) })

	_, err := c.Get(context.Background(), "/restaurants", nil)
	if e := apierr.As(err); e == nil || e.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
	if len(events) != 1 || events[0].Status != 401 || events[0].Endpoint != "/restaurants" {
		t.Fatalf("events = %+v", events)
	}

	unsubscribe()
	_, _ = c.Get(context.Background(), "/synagogues", nil)
	if len(events) != 1 {
		t.Fatal("unsubscribed callback still invoked")
	}
}

func TestDoSendsAuthAndAgentHeaders(t *testing.T) {
	var auth, agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		agent.Store(r.Header.Get("User-Agent"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Backend.AuthToken = "tok-123"
	c := New(cfg)
	defer c.Close()

	if _, err := c.Get(context.Background(), "/restaurants", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if auth.Load() != "Bearer tok-123" {
		t.Fatalf("authorization = %v", auth.Load())
	}
	if agent.Load() != "dirclient/1.0" {
		t.Fatalf("user-agent = %v", agent.Load())
	}
}

func TestDoTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 1
	c := New(cfg)
	defer c.Close()

	req := NewGet("/restaurants", nil)
	req.Timeout = 20 * time.Millisecond
	_, err := c.Do(context.Background(), req)
	if apierr.KindOf(err) != apierr.KindTimeout {
		t.Fatalf("err = %v, want timeout kind", err)
	}
}

func TestDoNetworkErrorClassified(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1") // nothing listens here
	cfg.Retry.MaxAttempts = 1
	c := New(cfg)
	defer c.Close()

	_, err := c.Get(context.Background(), "/restaurants", nil)
	if apierr.KindOf(err) != apierr.KindNetwork {
		t.Fatalf("err = %v, want network kind", err)
	}
}

func TestInvalidateCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/restaurants", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	n, err := c.InvalidateCache(ctx, "/restaurants")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("invalidated %d entries, want 1", n)
	}
	if _, err := c.Get(ctx, "/restaurants", nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("backend hits = %d, want 2 after invalidation", got)
	}
}

func TestRequestResource(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
	}{
		{"/restaurants", "restaurants"},
		{"/restaurants/42/reviews", "restaurants"},
		{"/", "root"},
	}
	for _, c := range cases {
		r := Request{Endpoint: c.endpoint}
		if got := r.resource(); got != c.want {
			t.Fatalf("resource(%q) = %q, want %q", c.endpoint, got, c.want)
		}
	}
}

func TestEncodeBody(t *testing.T) {
	if b, err := encodeBody(nil); err != nil || b != nil {
		t.Fatalf("nil body = %v, %v", b, err)
	}
	if b, _ := encodeBody([]byte(`raw`)); string(b) != "raw" {
		t.Fatalf("[]byte body = %q", b)
	}
	if b, _ := encodeBody(json.RawMessage(`{"a":1}`)); string(b) != `{"a":1}` {
		t.Fatalf("raw message body = %q", b)
	}
	b, err := encodeBody(map[string]int{"n": 1})
	if err != nil || string(b) != `{"n":1}` {
		t.Fatalf("marshalled body = %q, %v", b, err)
	}
}

func TestNewWithCacheDoesNotLeakDefaultCache(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 25; i++ {
		c := New(testConfig("http://unused.example"), WithCache(cache.NewInMemoryCache(8)))
		if err := c.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines grew from %d to %d after closing every client", before, runtime.NumGoroutine())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDoDetachedCallerErrorIsTyped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL)
	go func() {
		_, _ = c.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/restaurants"})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, &Request{Method: http.MethodGet, Endpoint: "/restaurants"})
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-errCh
	if apierr.As(err) == nil {
		t.Fatalf("err = %v (%T), want *apierr.Error", err, err)
	}
	if apierr.KindOf(err) != apierr.KindCanceled {
		t.Fatalf("kind = %v, want canceled", apierr.KindOf(err))
	}
}

func TestDoRetriesDoNotConsumeRateTokens(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 2
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 1
	c := New(cfg)
	defer c.Close()

	start := time.Now()
	resp, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/restaurants"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", resp.Attempts)
	}
	// One token covers the whole logical request; a second token would
	// not refill for a full second at this rate.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("request took %v, retry attempt waited on the bucket", elapsed)
	}
}

func TestDoRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("a"), maxResponseBody+2))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxAttempts = 1
	c := New(cfg)
	defer c.Close()

	_, err := c.Do(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/restaurants"})
	e := apierr.As(err)
	if e == nil || e.Kind != apierr.KindHTTP {
		t.Fatalf("err = %v, want http-kind error", err)
	}
	if !strings.Contains(e.Message, "read limit") {
		t.Fatalf("message = %q, want read limit mention", e.Message)
	}
}
