// Package store provides persistence for evaluation results: a Redis-backed
// result sink, Redis and in-memory cache stores, and an evaluator decorator
// that serves identical resubmissions from the cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "evalpipe:"

// ErrNotFound is returned when a stored result does not exist.
var ErrNotFound = errors.New("not found")

const pingTimeout = 5 * time.Second

// NewRedisClient parses url, connects and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultKeyPrefix
	}
	return prefix
}
