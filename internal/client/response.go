package client

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/minyanly/dirclient/internal/apierr"
)

// Response is the normalized result envelope every successful call
// produces, whether the data came from the network or the cache.
type Response struct {
	Data        json.RawMessage
	Status      int
	Header      http.Header
	FromCache   bool // served from the local cache without a network call
	NotModified bool // revalidated: backend answered 304, cache re-served
	Attempts    int  // network attempts made (0 for pure cache hits)
	Elapsed     time.Duration
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return apierr.Validation("empty response body")
	}
	return json.Unmarshal(r.Data, v)
}

// backendEnvelope is the wire shape the directory backend wraps results
// in. Success defaults to true when the field is absent so plain JSON
// responses work too.
type backendEnvelope struct {
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// extractPayload interprets the backend envelope convention on a 2xx body:
// an explicit success=false is a logical failure even with a 2xx status,
// and a data field unwraps to the payload. Anything that is not an
// envelope passes through untouched.
func extractPayload(status int, body []byte) (json.RawMessage, error) {
	var env backendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Not a JSON object envelope; raw body is the payload.
		return body, nil
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return nil, apierr.FromResponse(status, msg, body)
	}
	if len(env.Data) > 0 {
		return env.Data, nil
	}
	return body, nil
}

// errorMessage pulls the human-readable message out of a backend error
// body, or returns "" when the body is not the expected JSON shape.
func errorMessage(body []byte) string {
	var env backendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	if env.Message != "" {
		return env.Message
	}
	return env.Error
}
