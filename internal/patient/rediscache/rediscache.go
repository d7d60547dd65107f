// Package rediscache implements patient.SummaryCache on Redis so generated
// summaries survive restarts and are shared between replicas.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/triagedesk/internal/patient"
)

// KeyPrefix namespaces summary keys in a shared Redis.
const KeyPrefix = "triagedesk:summary:"

// scanBatch is the SCAN COUNT hint used when walking the key space.
const scanBatch = 100

// client is the subset of redis.Cmdable the cache uses.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache stores summaries as plain strings with a TTL.
type Cache struct {
	rdb client
}

// New wraps an existing client (e.g. *redis.Client).
func New(rdb client) *Cache {
	return &Cache{rdb: rdb}
}

// Dial parses a redis:// URL, pings the server and returns the client and cache.
// The caller closes the client.
func Dial(ctx context.Context, url string) (*redis.Client, *Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, New(rdb), nil
}

// Get returns the cached summary, if any.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, KeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Stats counts summary keys. Redis evicts expired keys itself, so every key
// found is valid.
func (c *Cache) Stats(ctx context.Context) (patient.CacheStats, error) {
	var n int
	err := c.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	if err != nil {
		return patient.CacheStats{}, err
	}
	return patient.CacheStats{Total: n, Valid: n}, nil
}

// Clear deletes every summary key and reports how many were removed. Keys
// outside KeyPrefix are left alone.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	var n int
	err := c.scan(ctx, func(keys []string) error {
		deleted, err := c.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		n += int(deleted)
		return nil
	})
	return n, err
}

// scan walks KeyPrefix keys a page at a time. fn is never called with an
// empty page.
func (c *Cache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, KeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
