package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache backed by Redis, suitable for use as a shared
// L2 cache when several client instances serve the same application.
// Entries are stored as JSON with the TTL also enforced by Redis expiry, so
// a crashed instance never leaves stale data behind.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisCacheConfig holds configuration for the Redis cache.
type RedisCacheConfig struct {
	Addr      string // Redis address (e.g. "localhost:6379")
	Password  string // Redis password
	DB        int    // Redis database number
	KeyPrefix string // Key prefix for namespacing (default: "dirclient:cache:")
}

const defaultKeyPrefix = "dirclient:cache:"

// NewRedisCache creates a new Redis-backed cache.
func NewRedisCache(cfg RedisCacheConfig) *RedisCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client, prefix: prefix}
}

// NewRedisCacheFromClient creates a Redis cache using an existing client.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string {
	return c.prefix + k
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	val, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = c.client.Del(ctx, c.key(key)).Err()
		return nil, ErrNotFound
	}
	if e.Expired() {
		_ = c.client.Del(ctx, c.key(key)).Err()
		return nil, ErrNotFound
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, e *Entry) error {
	cp := *e
	cp.StoredAt = time.Now()
	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, cp.TTL).Err()
}

func (c *RedisCache) Touch(ctx context.Context, key string) error {
	e, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, e)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	match := c.prefix + "*" + pattern + "*"
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.Invalidate(ctx, "")
	return err
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
