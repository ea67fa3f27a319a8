package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/minyanly/dirclient/internal/apierr"
	"github.com/minyanly/dirclient/internal/cache"
	"github.com/minyanly/dirclient/internal/circuitbreaker"
	"github.com/minyanly/dirclient/internal/dedup"
	"github.com/minyanly/dirclient/internal/logging"
	"github.com/minyanly/dirclient/internal/metrics"
	"github.com/minyanly/dirclient/internal/observability"
	"github.com/minyanly/dirclient/internal/retry"
)

// netResult is what one resolved network exchange produces, before the
// orchestrator turns it into a Response envelope.
type netResult struct {
	Status      int
	Header      http.Header
	Body        []byte
	Validator   string
	NotModified bool
	Attempts    int
}

// Do executes a logical request through the full pipeline and returns the
// normalized envelope, or a typed *apierr.Error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		return nil, err
	}
	urlStr, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	resource := req.resource()
	key := dedup.Key(req.Method, urlStr, bodyBytes)
	requestID := uuid.New().String()[:8]

	ctx, span := observability.StartClientSpan(ctx, "dirclient.request",
		observability.AttrMethod.String(req.Method),
		observability.AttrEndpoint.String(req.Endpoint),
		observability.AttrResource.String(resource),
		observability.AttrRequestID.String(requestID),
	)
	defer span.End()

	cacheable := req.Cacheable && req.Method == http.MethodGet

	// Cache lookup: a fresh hit answers without touching the network.
	// With Revalidate set, a hit only contributes its validator and the
	// request proceeds as a conditional fetch.
	var validator string
	if cacheable {
		if entry, cerr := c.cache.Get(ctx, key); cerr == nil {
			if !req.Revalidate {
				c.stats.RecordCacheHit(resource)
				if c.prom != nil {
					c.prom.ObserveCacheOp("hit")
				}
				resp := c.envelope(entry, start)
				c.finish(span, req, resource, requestID, resp, nil, start)
				return resp, nil
			}
			validator = entry.Validator
		} else {
			c.stats.RecordCacheMiss(resource)
			if c.prom != nil {
				c.prom.ObserveCacheOp("miss")
			}
		}
	}

	idemKey := req.IdempotencyKey
	if req.mutating() && idemKey == "" {
		idemKey = uuid.New().String()
	}

	var nr *netResult
	if req.mutating() {
		// Writes are never deduplicated: two identical POSTs are two
		// distinct logical operations. Idempotency is the backend's
		// job, keyed by the Idempotency-Key header.
		nr, err = c.fetchResilient(ctx, req, resource, urlStr, bodyBytes, validator, idemKey)
	} else {
		var v interface{}
		var shared bool
		v, shared, err = c.dedup.Do(ctx, key, func(execCtx context.Context) (interface{}, error) {
			return c.fetchResilient(execCtx, req, resource, urlStr, bodyBytes, validator, "")
		})
		if err != nil && apierr.As(err) == nil {
			// A caller detached from a shared call gets its bare context
			// error back; fold it into the error taxonomy.
			if errors.Is(err, context.DeadlineExceeded) {
				err = apierr.Timeout(err)
			} else {
				err = apierr.Canceled(err)
			}
		}
		if shared && err == nil {
			c.stats.RecordDedupJoin()
			if c.prom != nil {
				c.prom.ObserveDedupJoin()
			}
			span.SetAttributes(observability.AttrDedupJoin.Bool(true))
		}
		if err == nil {
			nr = v.(*netResult)
		}
	}

	if err != nil {
		c.observeFailure(span, req, resource, requestID, err, start)
		return nil, err
	}

	if nr.NotModified {
		resp, rerr := c.serveRevalidated(ctx, req, resource, urlStr, bodyBytes, key, nr, start)
		if rerr != nil {
			c.observeFailure(span, req, resource, requestID, rerr, start)
			return nil, rerr
		}
		c.finish(span, req, resource, requestID, resp, nil, start)
		return resp, nil
	}

	if cacheable {
		ttl := req.TTL
		if ttl <= 0 {
			ttl = c.defaultTTL
		}
		if serr := c.cache.Set(ctx, key, &cache.Entry{
			Data:      nr.Body,
			Status:    nr.Status,
			Validator: nr.Validator,
			TTL:       ttl,
		}); serr != nil {
			// Caching is best-effort; a broken cache never fails a
			// request that already succeeded.
			logging.Op().Warn("cache store failed", "key", key, "error", serr)
		}
	}

	if req.mutating() {
		c.invalidateAfterWrite(ctx, req)
	}

	resp := &Response{
		Data:     nr.Body,
		Status:   nr.Status,
		Header:   nr.Header,
		Attempts: nr.Attempts,
		Elapsed:  time.Since(start),
	}
	c.finish(span, req, resource, requestID, resp, nr, start)
	return resp, nil
}

// fetchResilient runs the network call behind the breaker and retry
// layers: breaker outside, retry inside, so a tripped breaker fails fast
// without burning retry attempts.
func (c *Client) fetchResilient(ctx context.Context, req *Request, resource, urlStr string, body []byte, validator, idemKey string) (*netResult, error) {
	if err := c.limiter.Wait(ctx, resource); err != nil {
		return nil, apierr.Canceled(err)
	}

	var nr *netResult
	var res retry.Result
	err := c.breakers.Do(ctx, resource, func(bctx context.Context) error {
		var rerr error
		res, rerr = retry.Do(bctx, c.policy, func(actx context.Context) error {
			r, ferr := c.rawFetch(actx, req.Method, urlStr, body, validator, idemKey, req.Timeout)
			if ferr != nil {
				return ferr
			}
			nr = r
			return nil
		})
		return rerr
	})
	c.stats.RecordRetries(res.Attempts - 1)
	if c.prom != nil {
		c.prom.ObserveRetries(res.Attempts - 1)
		c.prom.SetBreakerState(resource, int(c.breakers.Get(resource).State()))
	}
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			c.stats.RecordBreakerRejection(resource)
			if c.prom != nil {
				c.prom.ObserveBreakerRejection(resource)
			}
			return nil, apierr.CircuitOpen(resource, err)
		}
		return nil, err
	}
	nr.Attempts = res.Attempts
	return nr, nil
}

// rawFetch performs exactly one HTTP exchange with the per-attempt timeout
// applied, and classifies everything that can go wrong.
func (c *Client) rawFetch(ctx context.Context, method, urlStr string, body []byte, validator, idemKey string, timeout time.Duration) (*netResult, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(tctx, method, urlStr, reader)
	if err != nil {
		return nil, apierr.Validation("build request: %v", err)
	}
	if len(body) > 0 {
		hreq.Header.Set("Content-Type", "application/json")
	}
	hreq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		hreq.Header.Set("User-Agent", c.userAgent)
	}
	if token, terr := c.tokens.Token(tctx); terr != nil {
		return nil, apierr.Validation("auth token: %v", terr)
	} else if token != "" {
		hreq.Header.Set("Authorization", "Bearer "+token)
	}
	if validator != "" {
		hreq.Header.Set("If-None-Match", validator)
	}
	if idemKey != "" {
		hreq.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, apierr.ClassifyTransport(tctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, apierr.ClassifyTransport(tctx, err)
	}
	if len(raw) > maxResponseBody {
		return nil, apierr.FromResponse(resp.StatusCode, "response body exceeds the read limit", nil)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &netResult{Status: resp.StatusCode, Header: resp.Header, NotModified: true}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		payload, perr := extractPayload(resp.StatusCode, raw)
		if perr != nil {
			return nil, perr
		}
		return &netResult{
			Status:    resp.StatusCode,
			Header:    resp.Header,
			Body:      payload,
			Validator: resp.Header.Get("ETag"),
		}, nil
	default:
		return nil, apierr.FromResponse(resp.StatusCode, errorMessage(raw), raw)
	}
}

// serveRevalidated handles a 304: the cached entry gets a fresh TTL and is
// re-served. If the entry vanished between the conditional fetch and now,
// fall back to one unconditional fetch.
func (c *Client) serveRevalidated(ctx context.Context, req *Request, resource, urlStr string, body []byte, key string, nr *netResult, start time.Time) (*Response, error) {
	ctx, span := observability.StartSpan(ctx, "dirclient.revalidate",
		observability.AttrResource.String(resource))
	defer span.End()

	if terr := c.cache.Touch(ctx, key); terr == nil {
		if entry, gerr := c.cache.Get(ctx, key); gerr == nil {
			c.stats.RecordNotModified(resource)
			if c.prom != nil {
				c.prom.ObserveCacheOp("not_modified")
			}
			resp := c.envelope(entry, start)
			resp.NotModified = true
			resp.Attempts = nr.Attempts
			return resp, nil
		}
	}

	// 304 with nothing to serve: refetch without the validator.
	full, err := c.fetchResilient(ctx, req, resource, urlStr, body, "", "")
	if err != nil {
		return nil, err
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	_ = c.cache.Set(ctx, key, &cache.Entry{
		Data:      full.Body,
		Status:    full.Status,
		Validator: full.Validator,
		TTL:       ttl,
	})
	return &Response{
		Data:     full.Body,
		Status:   full.Status,
		Header:   full.Header,
		Attempts: nr.Attempts + full.Attempts,
		Elapsed:  time.Since(start),
	}, nil
}

// invalidateAfterWrite drops cached reads for the endpoint family a
// mutation touched, locally and across instances.
func (c *Client) invalidateAfterWrite(ctx context.Context, req *Request) {
	pattern := "/" + req.resource()
	traceID, spanID := spanIDs(observability.SpanFromContext(ctx))
	if _, err := c.cache.Invalidate(ctx, pattern); err != nil {
		logging.OpWithTrace(traceID, spanID).Warn("cache invalidation failed", "pattern", pattern, "error", err)
	}
	if c.prom != nil {
		c.prom.ObserveCacheOp("invalidate")
	}
	if c.invalidator != nil {
		if err := c.invalidator.Publish(ctx, pattern); err != nil {
			logging.OpWithTrace(traceID, spanID).Warn("publish cache invalidation failed", "pattern", pattern, "error", err)
		}
	}
}

// spanIDs returns the trace and span IDs for log correlation, or empty
// strings when the span is not recording into a real trace.
func spanIDs(span trace.Span) (traceID, spanID string) {
	sc := span.SpanContext()
	if !sc.HasTraceID() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// envelope wraps a cached entry as a Response.
func (c *Client) envelope(entry *cache.Entry, start time.Time) *Response {
	return &Response{
		Data:      entry.Data,
		Status:    entry.Status,
		FromCache: true,
		Elapsed:   time.Since(start),
	}
}

// finish records success-path observability: metrics, span, request log.
// nr is nil when the response came straight from the cache.
func (c *Client) finish(span trace.Span, req *Request, resource, requestID string, resp *Response, nr *netResult, start time.Time) {
	elapsed := time.Since(start)
	durationMs := elapsed.Milliseconds()

	if nr != nil {
		c.stats.RecordRequest(resource, durationMs, len(resp.Data), true)
		if c.prom != nil {
			c.prom.ObserveRequest(resource, req.Method, "ok", elapsed, len(resp.Data))
		}
	}
	if c.recorder != nil {
		c.recorder.Record(metrics.Metric{
			Name:  "dirclient.request.duration",
			Value: float64(durationMs),
			Unit:  "ms",
			Tags: map[string]string{
				"resource": resource,
				"method":   req.Method,
				"outcome":  "ok",
			},
		})
	}
	span.SetAttributes(
		observability.AttrStatus.Int(resp.Status),
		observability.AttrAttempts.Int(resp.Attempts),
		observability.AttrFromCache.Bool(resp.FromCache),
	)
	observability.SetSpanOK(span)
	if c.reqLog != nil {
		traceID, spanID := spanIDs(span)
		c.reqLog.Log(&logging.RequestLog{
			RequestID:  requestID,
			TraceID:    traceID,
			SpanID:     spanID,
			Method:     req.Method,
			Endpoint:   req.Endpoint,
			Resource:   resource,
			Status:     resp.Status,
			DurationMs: durationMs,
			Attempts:   resp.Attempts,
			FromCache:  resp.FromCache,
			Success:    true,
			BodySize:   len(resp.Data),
		})
	}
}

// observeFailure records failure-path observability and fans out auth
// failures to subscribers.
func (c *Client) observeFailure(span trace.Span, req *Request, resource, requestID string, err error, start time.Time) {
	elapsed := time.Since(start)
	durationMs := elapsed.Milliseconds()
	kind := apierr.KindOf(err)

	c.stats.RecordRequest(resource, durationMs, 0, false)
	if c.prom != nil {
		c.prom.ObserveRequest(resource, req.Method, kind.String(), elapsed, 0)
	}
	if c.recorder != nil {
		c.recorder.Record(metrics.Metric{
			Name:  "dirclient.request.duration",
			Value: float64(durationMs),
			Unit:  "ms",
			Tags: map[string]string{
				"resource": resource,
				"method":   req.Method,
				"outcome":  kind.String(),
			},
		})
	}
	observability.SetSpanError(span, err)
	if c.reqLog != nil {
		status := 0
		if e := apierr.As(err); e != nil {
			status = e.Status
		}
		traceID, spanID := spanIDs(span)
		c.reqLog.Log(&logging.RequestLog{
			RequestID:  requestID,
			TraceID:    traceID,
			SpanID:     spanID,
			Method:     req.Method,
			Endpoint:   req.Endpoint,
			Resource:   resource,
			Status:     status,
			DurationMs: durationMs,
			Success:    false,
			Error:      err.Error(),
		})
	}
	if apierr.Unauthorized(err) {
		c.auth.notify(AuthEvent{Status: apierr.As(err).Status, Endpoint: req.Endpoint})
	}
}

func (c *Client) buildURL(req *Request) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", apierr.Validation("bad base URL %q: %v", c.baseURL, err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + req.Endpoint
	if len(req.Query) > 0 {
		base.RawQuery = req.Query.Encode()
	}
	return base.String(), nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apierr.Validation("encode body: %v", err)
		}
		return data, nil
	}
}

// Get performs a cacheable GET.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.Do(ctx, NewGet(endpoint, query))
}

// GetJSON performs a cacheable GET and decodes the payload into v.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, v any) error {
	resp, err := c.Get(ctx, endpoint, query)
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Endpoint: endpoint, Body: body})
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Endpoint: endpoint, Body: body})
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Endpoint: endpoint})
}
