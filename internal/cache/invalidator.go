package cache

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the Redis Pub/Sub channel used for cache
// invalidation signals. When any client instance performs a mutating
// request it publishes the affected resource pattern to this channel.
// All subscribed instances invalidate matching keys from their local
// cache, so cross-instance staleness is bounded by pub/sub latency
// instead of TTL expiry.
const InvalidationChannel = "dirclient:cache:invalidate"

// Invalidator listens for invalidation signals over Redis Pub/Sub and
// evicts matching keys from a local cache (typically the L1 in-memory
// cache in a tiered setup).
type Invalidator struct {
	local  Cache
	client *redis.Client
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewInvalidator creates an invalidator that subscribes to Redis Pub/Sub
// and invalidates patterns in the local cache when signals arrive.
func NewInvalidator(local Cache, client *redis.Client) *Invalidator {
	return &Invalidator{local: local, client: client}
}

// Start begins listening for invalidation signals. It blocks until the
// context is cancelled or Close is called.
func (iv *Invalidator) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	iv.mu.Lock()
	iv.cancel = cancel
	iv.mu.Unlock()

	pubsub := iv.client.Subscribe(subCtx, InvalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// msg.Payload is the resource pattern to invalidate
			_, _ = iv.local.Invalidate(subCtx, msg.Payload)
		}
	}
}

// Publish broadcasts an invalidation signal for the given resource pattern.
// Called after a mutating request succeeds.
func (iv *Invalidator) Publish(ctx context.Context, pattern string) error {
	return iv.client.Publish(ctx, InvalidationChannel, pattern).Err()
}

// Close stops the invalidation listener.
func (iv *Invalidator) Close() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.closed {
		return nil
	}
	iv.closed = true
	if iv.cancel != nil {
		iv.cancel()
	}
	return nil
}
