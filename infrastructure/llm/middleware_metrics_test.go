package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/ports"
)

type metricRecord struct {
	kind   string
	name   string
	value  float64
	labels map[string]string
}

// recordingCollector captures every metric call for inspection.
type recordingCollector struct {
	mu      sync.Mutex
	records []metricRecord
}

func (c *recordingCollector) add(kind, name string, v float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, metricRecord{kind: kind, name: name, value: v, labels: labels})
}

func (c *recordingCollector) RecordLatency(op string, d time.Duration, labels map[string]string) {
	c.add("latency", op, d.Seconds(), labels)
}

func (c *recordingCollector) RecordCounter(m string, v float64, labels map[string]string) {
	c.add("counter", m, v, labels)
}

func (c *recordingCollector) RecordGauge(m string, v float64, labels map[string]string) {
	c.add("gauge", m, v, labels)
}

func (c *recordingCollector) RecordHistogram(m string, v float64, labels map[string]string) {
	c.add("histogram", m, v, labels)
}

func (c *recordingCollector) find(name string) []metricRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []metricRecord
	for _, r := range c.records {
		if r.name == name {
			out = append(out, r)
		}
	}
	return out
}

func (c *recordingCollector) tokensByType() map[string]float64 {
	out := map[string]float64{}
	for _, r := range c.find("llm_tokens_total") {
		out[r.labels["token_type"]] += r.value
	}
	return out
}

var _ ports.MetricsCollector = (*recordingCollector)(nil)

func TestMetricsMiddleware_RecordsSuccessfulRequests(t *testing.T) {
	// Given a provider that reports all four usage tiers
	mock := NewMockCoreLLM()
	mock.Model = "claude-haiku-4-5"
	mock.Usage = ports.TokenUsage{Input: 100, Output: 40, CacheWrite: 0, CacheRead: 3000}
	collector := &recordingCollector{}
	wrapped := MetricsMiddleware(collector)(mock)

	// When a request succeeds
	resp, err := wrapped.DoRequest(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)

	// Then latency and request count are labelled with provider and status
	latency := collector.find("llm_latency_seconds")
	require.Len(t, latency, 1)
	assert.Equal(t, "histogram", latency[0].kind)
	assert.Equal(t, "anthropic", latency[0].labels["provider"])
	assert.Equal(t, "success", latency[0].labels["status"])

	requests := collector.find("llm_requests_total")
	require.Len(t, requests, 1)
	assert.Equal(t, 1.0, requests[0].value)

	// And token counters are split by tier, skipping empty tiers
	assert.Equal(t, map[string]float64{"input": 100, "output": 40, "cache_read": 3000}, collector.tokensByType())
}

func TestMetricsMiddleware_TokenLabelsAreIndependent(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Usage = ports.TokenUsage{Input: 1, Output: 2, CacheWrite: 3, CacheRead: 4}
	collector := &recordingCollector{}
	wrapped := MetricsMiddleware(collector)(mock)

	_, err := wrapped.DoRequest(context.Background(), testReq)
	require.NoError(t, err)

	tokens := collector.find("llm_tokens_total")
	require.Len(t, tokens, 4)
	seen := map[string]bool{}
	for _, r := range tokens {
		seen[r.labels["token_type"]] = true
	}
	assert.Len(t, seen, 4, "each counter call must carry its own label map")
	_, hasTokenType := collector.find("llm_requests_total")[0].labels["token_type"]
	assert.False(t, hasTokenType)
}

func TestMetricsMiddleware_Status(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status string
	}{
		{"generic failure", errors.New("service error"), "error"},
		{"circuit open", ErrCircuitOpen, "circuit_open"},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), "timeout"},
		{"classified timeout", NewProviderError("openai", ErrorTypeTimeout, 0, "", nil), "timeout"},
		{"rate limited", NewProviderError("openai", ErrorTypeRateLimit, 429, "", nil), "rate_limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCoreLLM()
			mock.Model = "gpt-4o-mini"
			mock.Error = tt.err
			collector := &recordingCollector{}
			wrapped := MetricsMiddleware(collector)(mock)

			_, err := wrapped.DoRequest(context.Background(), testReq)
			require.Error(t, err)

			requests := collector.find("llm_requests_total")
			require.Len(t, requests, 1)
			assert.Equal(t, tt.status, requests[0].labels["status"])
			assert.Equal(t, "openai", requests[0].labels["provider"])
			assert.Empty(t, collector.find("llm_tokens_total"), "no tokens on failure")
		})
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	wrapped := MetricsMiddleware(nil)(NewMockCoreLLM())
	resp, err := wrapped.DoRequest(context.Background(), testReq)
	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)
}

func TestProviderForModel(t *testing.T) {
	tests := map[string]string{
		"gpt-4o-mini":      "openai",
		"o3-mini":          "openai",
		"claude-haiku-4-5": "anthropic",
		"gemini-2.5-flash": "google",
		"llama-3":          "unknown",
	}
	for model, want := range tests {
		assert.Equal(t, want, providerForModel(model), model)
	}
}

func TestMetricsMiddleware_PassesThroughModel(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := MetricsMiddleware(&recordingCollector{})(mock)

	wrapped.SetModel("gemini-2.5-flash")
	assert.Equal(t, "gemini-2.5-flash", wrapped.GetModel())
	assert.Equal(t, "gemini-2.5-flash", mock.GetModel())
}
