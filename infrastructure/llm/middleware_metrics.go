package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// metricsLLM records request latency, status and four-tier token usage.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects request metrics.
// Token usage is counted per tier so cache effectiveness is visible.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{
			next:      next,
			collector: collector,
		}
	}
}

// DoRequest executes the request and records llm_latency_seconds,
// llm_requests_total and llm_tokens_total.
func (m *metricsLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	start := time.Now()
	resp, err := m.next.DoRequest(ctx, req)

	if m.collector == nil {
		return resp, err
	}

	model := m.next.GetModel()
	labels := map[string]string{
		"provider": providerForModel(model),
		"model":    model,
		"status":   requestStatus(err),
	}

	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil && resp != nil {
		for _, tier := range []struct {
			name  string
			count int
		}{
			{"input", resp.Usage.Input},
			{"output", resp.Usage.Output},
			{"cache_write", resp.Usage.CacheWrite},
			{"cache_read", resp.Usage.CacheRead},
		} {
			if tier.count == 0 {
				continue
			}
			tl := make(map[string]string, len(labels)+1)
			for k, v := range labels {
				tl[k] = v
			}
			tl["token_type"] = tier.name
			m.collector.RecordCounter("llm_tokens_total", float64(tier.count), tl)
		}
	}

	return resp, err
}

func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Type {
		case ErrorTypeTimeout:
			return "timeout"
		case ErrorTypeRateLimit:
			return "rate_limited"
		}
	}
	return "error"
}

// providerForModel guesses the provider label from the model name.
func providerForModel(model string) string {
	switch {
	case strings.Contains(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.Contains(model, "claude"):
		return "anthropic"
	case strings.Contains(model, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
