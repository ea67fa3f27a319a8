package client

import (
	"context"
	"sync"
)

// TokenSource supplies the bearer token attached to outgoing requests.
// Token issuance and refresh live outside this library; a source may
// return an empty token to send the request unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// AuthEvent describes an authentication failure observed on a request.
type AuthEvent struct {
	Status   int    // 401 or 403
	Endpoint string // the endpoint that was rejected
}

// authNotifier fans auth failures out to subscribers. Subscribers get an
// explicit unsubscribe func; there is no polling.
type authNotifier struct {
	mu   sync.Mutex
	subs map[int]func(AuthEvent)
	next int
}

// subscribe registers fn and returns its unsubscribe func.
func (n *authNotifier) subscribe(fn func(AuthEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(AuthEvent))
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// notify delivers ev to every subscriber. Callbacks run synchronously and
// are expected to be fast; a subscriber kicking off a token refresh should
// do so in its own goroutine.
func (n *authNotifier) notify(ev AuthEvent) {
	n.mu.Lock()
	fns := make([]func(AuthEvent), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
