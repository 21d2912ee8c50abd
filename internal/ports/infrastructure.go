package ports

import (
	"context"
	"time"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers.
// Implementations handle provider-specific details like authentication,
// request formatting, prompt-cache markers and usage normalisation.
type LLMClient interface {
	// Complete sends one completion request to the provider.
	// The returned usage is already normalised into the four billing tiers.
	// Errors from the provider carry an IsRetryable classification.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// CacheStore defines the interface for caching serialised evaluation
// results. Implementations could use Redis or in-memory storage.
type CacheStore interface {
	// Get retrieves a cached value by key.
	// Returns the value and true if found, or nil and false if not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with an expiration time.
	// A zero duration means the item doesn't expire.
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Clear removes all values owned by this store.
	Clear(ctx context.Context) error
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
