package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory cache when no limit is configured.
const DefaultMaxEntries = 1024

// InMemoryCache is the default cache backend: a mutex-guarded map with lazy
// expiry on read, a periodic sweep, and size-bounded eviction. When the
// entry count would exceed the maximum, the entries with the oldest
// StoredAt are evicted first (insertion-time order, not access-time).
type InMemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
	closed     bool
	stop       chan struct{}
}

// NewInMemoryCache creates an in-memory cache with periodic eviction.
// maxEntries <= 0 selects DefaultMaxEntries.
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &InMemoryCache{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Expired() {
		delete(c.entries, key)
		return nil, ErrNotFound
	}
	cp := *e
	cp.Data = append([]byte(nil), e.Data...)
	return &cp, nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	cp := *e
	cp.Data = append([]byte(nil), e.Data...)
	cp.StoredAt = time.Now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest(len(c.entries) - c.maxEntries + 1)
	}
	c.entries[key] = &cp
	return nil
}

func (c *InMemoryCache) Touch(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return ErrNotFound
	}
	if e.Expired() {
		delete(c.entries, key)
		return ErrNotFound
	}
	e.StoredAt = time.Now()
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Invalidate(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.Contains(key, pattern) {
			delete(c.entries, key)
			n++
		}
	}
	return n, nil
}

func (c *InMemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Ping(_ context.Context) error { return nil }

func (c *InMemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stop)
	c.entries = nil
	return nil
}

// Len reports the current entry count.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictOldest removes the n entries with the oldest StoredAt.
// Must be called under lock. Linear scan per eviction; entry counts are
// bounded by maxEntries so this stays cheap.
func (c *InMemoryCache) evictOldest(n int) {
	for ; n > 0; n-- {
		var oldestKey string
		var oldestAt time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.StoredAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.StoredAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

func (c *InMemoryCache) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			for key, e := range c.entries {
				if e.Expired() {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
