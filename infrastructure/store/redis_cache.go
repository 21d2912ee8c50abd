package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intellego/evalpipe/internal/ports"
)

const clearScanCount = 100

// RedisCache implements ports.CacheStore on Redis. Keys are namespaced
// under "<prefix>cache:" so Clear never touches stored results.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a cache on client. An empty prefix uses
// DefaultKeyPrefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefixOrDefault(prefix) + "cache:",
	}
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

// Get returns the cached bytes for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ports.NewCacheError(key, "Get", err)
	}
	return data, true, nil
}

// Set stores value under key. A zero expiration keeps it forever.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, expiration).Err(); err != nil {
		return ports.NewCacheError(key, "Set", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return ports.NewCacheError(key, "Delete", err)
	}
	return nil
}

// Clear removes every key under the cache prefix. It uses SCAN so large
// caches do not block the server.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", clearScanCount).Iterator()
	batch := make([]string, 0, clearScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == clearScanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return ports.NewCacheError(c.prefix+"*", "Clear", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return ports.NewCacheError(c.prefix+"*", "Clear", fmt.Errorf("scanning keys: %w", err))
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return ports.NewCacheError(c.prefix+"*", "Clear", err)
		}
	}
	return nil
}

var _ ports.CacheStore = (*RedisCache)(nil)
