package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newEntry(data string, ttl time.Duration) *Entry {
	return &Entry{
		Data:     []byte(data),
		Status:   200,
		StoredAt: time.Now(),
		TTL:      ttl,
	}
}

func TestInMemoryCacheSetGet(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", newEntry("hello", time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	e, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(e.Data) != "hello" {
		t.Fatalf("data = %q, want hello", e.Data)
	}
	if e.Status != 200 {
		t.Fatalf("status = %d, want 200", e.Status)
	}
}

func TestInMemoryCacheMiss(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()

	_, err := c.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	e := newEntry("stale", 10*time.Millisecond)
	if err := c.Set(ctx, "k1", e); err != nil {
		t.Fatalf("set: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after expiry", err)
	}
	// the expired read must also remove the entry
	if n := c.Len(); n != 0 {
		t.Fatalf("len = %d after expired read, want 0", n)
	}
}

func TestInMemoryCacheZeroTTLNeverExpires(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", newEntry("keep", 0)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestInMemoryCacheEviction(t *testing.T) {
	const max = 8
	c := NewInMemoryCache(max)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < max; i++ {
		if err := c.Set(ctx, fmt.Sprintf("k%d", i), newEntry("v", time.Minute)); err != nil {
			t.Fatalf("set: %v", err)
		}
		time.Sleep(time.Millisecond) // distinct StoredAt per entry
	}
	if n := c.Len(); n != max {
		t.Fatalf("len = %d, want %d", n, max)
	}

	// one more entry evicts the oldest (k0), not the newest
	if err := c.Set(ctx, "overflow", newEntry("v", time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if n := c.Len(); n != max {
		t.Fatalf("len = %d after overflow, want %d", n, max)
	}
	if _, err := c.Get(ctx, "k0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest entry survived eviction: err = %v", err)
	}
	if _, err := c.Get(ctx, "overflow"); err != nil {
		t.Fatalf("new entry missing after eviction: %v", err)
	}
}

func TestInMemoryCacheInvalidate(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	keys := []string{
		"GET https://api.example.com/restaurants",
		"GET https://api.example.com/restaurants/42",
		"GET https://api.example.com/synagogues",
	}
	for _, k := range keys {
		if err := c.Set(ctx, k, newEntry("v", time.Minute)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	n, err := c.Invalidate(ctx, "/restaurants")
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 2 {
		t.Fatalf("invalidated %d entries, want 2", n)
	}
	if _, err := c.Get(ctx, keys[2]); err != nil {
		t.Fatalf("unrelated entry invalidated: %v", err)
	}
}

func TestInMemoryCacheTouch(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", newEntry("v", 60*time.Millisecond)); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if err := c.Touch(ctx, "k1"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	// without the touch the entry would be past its TTL here
	time.Sleep(40 * time.Millisecond)
	if _, err := c.Get(ctx, "k1"); err != nil {
		t.Fatalf("get after touch: %v", err)
	}

	if err := c.Touch(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("touch absent: err = %v, want ErrNotFound", err)
	}
}

func TestInMemoryCacheClear(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := c.Set(ctx, fmt.Sprintf("k%d", i), newEntry("v", time.Minute)); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := c.Len(); n != 0 {
		t.Fatalf("len = %d after clear, want 0", n)
	}
}

func TestInMemoryCacheCopyOnRead(t *testing.T) {
	c := NewInMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k1", newEntry("abc", time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	e1, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	e1.Data[0] = 'X'

	e2, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(e2.Data) != "abc" {
		t.Fatalf("stored entry mutated through returned copy: %q", e2.Data)
	}
}
