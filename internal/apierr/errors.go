// Package apierr defines the error taxonomy shared by every layer of the
// request pipeline. Each failure a caller can observe is tagged with a
// Kind so call sites branch on classification instead of string matching:
//
//	KindNetwork     connection failed before any response arrived
//	KindTimeout     the call exceeded its deadline
//	KindHTTP        a response arrived with a non-2xx status
//	KindCircuitOpen the breaker short-circuited the call, no I/O happened
//	KindValidation  the request was rejected client-side, no I/O happened
//	KindCanceled    the caller's context was canceled
//
// Retryable reports whether the retry layer may re-attempt an error.
// Circuit-open errors are deliberately not retryable here: recovery from a
// tripped breaker is governed by the breaker's own cooldown, not by the
// retry loop.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindHTTP
	KindCircuitOpen
	KindValidation
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network_error"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http_error"
	case KindCircuitOpen:
		return "circuit_open"
	case KindValidation:
		return "validation_error"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the typed error surfaced by the orchestrator. Status and Body
// are only set for KindHTTP.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Body    []byte
	cause   error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Network wraps a connection-level failure.
func Network(cause error) *Error {
	return &Error{Kind: KindNetwork, Message: cause.Error(), cause: cause}
}

// Timeout wraps a deadline failure.
func Timeout(cause error) *Error {
	return &Error{Kind: KindTimeout, Message: cause.Error(), cause: cause}
}

// Canceled wraps a caller-initiated cancellation.
func Canceled(cause error) *Error {
	return &Error{Kind: KindCanceled, Message: cause.Error(), cause: cause}
}

// Validation reports a request rejected before any network I/O.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// CircuitOpen reports a breaker fast-fail for the named resource.
func CircuitOpen(resource string, cause error) *Error {
	return &Error{
		Kind:    KindCircuitOpen,
		Message: fmt.Sprintf("circuit open for %s", resource),
		cause:   cause,
	}
}

// FromResponse builds an HTTP error from a non-2xx response. message should
// be the human-readable message extracted from the backend error body when
// present, or empty to fall back to the status text.
func FromResponse(status int, message string, body []byte) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: KindHTTP, Status: status, Message: message, Body: body}
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// KindOf returns the classification of err, mapping unclassified errors to
// KindNetwork (the conservative default for an unknown transport failure).
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindNetwork
}

// retryableStatuses are the HTTP statuses worth re-attempting: transient
// server errors plus request-timeout and rate-limit pushback.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Retryable reports whether the retry layer may re-attempt err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTP:
		return retryableStatuses[As(err).Status]
	default:
		return false
	}
}

// Unauthorized reports whether err is an HTTP 401/403. These are terminal
// for the request but actionable for the caller (trigger token refresh).
func Unauthorized(err error) bool {
	e := As(err)
	return e != nil && e.Kind == KindHTTP &&
		(e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// ClassifyTransport maps an error returned by http.Client.Do into the
// taxonomy. The caller's context is consulted first so a deadline that
// fired mid-transfer is reported as a timeout, not a connection failure.
func ClassifyTransport(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Timeout(err)
		}
		return Canceled(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return Timeout(err)
	}
	return Network(err)
}
