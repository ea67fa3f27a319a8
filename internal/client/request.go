package client

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minyanly/dirclient/internal/apierr"
)

// Request is one logical API call. Endpoint is a path relative to the
// configured base URL (e.g. "/restaurants/42").
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     any // JSON-marshalled; []byte and nil pass through untouched

	// Cacheable marks the response for storing; only honored for GET.
	// Use NewGet for the common case, which sets it.
	Cacheable bool

	// TTL overrides the client's default cache TTL for this response.
	TTL time.Duration

	// Revalidate forces a conditional fetch even when a fresh cached
	// entry exists: the stored validator is sent as If-None-Match and a
	// 304 re-serves the cached data with a refreshed TTL.
	Revalidate bool

	// IdempotencyKey is attached to mutating requests so the backend
	// can drop duplicate retries of the same logical write. Left empty,
	// the client generates one.
	IdempotencyKey string

	// Timeout overrides the client's per-request timeout.
	Timeout time.Duration
}

// NewGet builds a cacheable GET request.
func NewGet(endpoint string, query url.Values) *Request {
	return &Request{
		Method:    http.MethodGet,
		Endpoint:  endpoint,
		Query:     query,
		Cacheable: true,
	}
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// validate rejects malformed requests before any network I/O.
func (r *Request) validate() error {
	if r.Method == "" || !allowedMethods[r.Method] {
		return apierr.Validation("unsupported method %q", r.Method)
	}
	if r.Endpoint == "" {
		return apierr.Validation("empty endpoint")
	}
	if !strings.HasPrefix(r.Endpoint, "/") {
		return apierr.Validation("endpoint must start with /: %q", r.Endpoint)
	}
	if r.mutating() && r.Cacheable {
		return apierr.Validation("mutating %s request cannot be cacheable", r.Method)
	}
	return nil
}

func (r *Request) mutating() bool {
	return r.Method != http.MethodGet
}

// resource returns the endpoint family used for breaker scoping, rate
// limiting and metrics: the first path segment of the endpoint, so
// "/restaurants/42/reviews" and "/restaurants" share one breaker while
// "/synagogues" gets its own.
func (r *Request) resource() string {
	p := strings.TrimPrefix(r.Endpoint, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "root"
	}
	return p
}
