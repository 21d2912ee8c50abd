// Package llm provides a unified interface for sending evaluation prompts to
// LLM providers with built-in support for prompt caching, usage
// normalisation, rate limiting, circuit breaking, metrics, and tracing.
//
// Providers (Anthropic, OpenAI, Google) sit behind the CoreLLM interface.
// Cross-cutting concerns are composed as Middleware around a provider so the
// scoring and adjustment units never see provider-specific details.
//
// Basic usage:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-haiku-4-5",
//	})
//	resp, err := client.Complete(ctx, ports.CompletionRequest{
//	    SystemSegments: []ports.Segment{{Text: rubric, Cacheable: true}},
//	    UserMessage:    answers,
//	})
//
// With middleware:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: key,
//	    Model:  "claude-haiku-4-5",
//	    Middleware: []llm.Middleware{
//	        llm.TracingMiddleware("evalpipe"),
//	        llm.MetricsMiddleware(collector),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	        llm.RateLimitMiddleware(20, 40),
//	        llm.TimeoutMiddleware(60 * time.Second),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// CoreLLM defines the minimal interface that LLM providers must implement.
// Middleware wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends one completion request to the provider.
	// The response usage is normalised into the four billing tiers.
	DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel updates the model to use for subsequent requests.
	SetModel(model string)
}

// TokenEstimator provides pluggable token estimation strategies.
type TokenEstimator interface {
	// EstimateTokens returns an approximate token count for the given text.
	EstimateTokens(text string) int
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the LLM provider.
	APIKey string

	// Model specifies which LLM model to use for requests.
	Model string

	// BaseURL overrides the default API endpoint for the provider.
	// Leave empty to use the provider's default endpoint.
	BaseURL string

	// Timeout bounds the underlying HTTP client. Zero leaves it unbounded;
	// per-call deadlines belong to TimeoutMiddleware.
	Timeout time.Duration

	// HTTPClient replaces the provider SDK's HTTP client when set.
	HTTPClient *http.Client

	// TokenEstimator provides custom token counting logic.
	// If nil, a simple character-based estimator is used.
	TokenEstimator TokenEstimator

	// Middleware is applied in order; the first entry is the outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting functionality.
type Middleware func(CoreLLM) CoreLLM

// Client implements the ports.LLMClient interface with all cross-cutting concerns.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

// NewClient creates a new LLM client with the specified provider and configuration.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := lookupProviderFactory(providerType)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return NewClientFromCore(core, config.TokenEstimator, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM with middleware.
func NewClientFromCore(core CoreLLM, estimator TokenEstimator, middleware ...Middleware) *Client {
	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}

	if estimator == nil {
		estimator = &SimpleTokenEstimator{}
	}

	return &Client{
		core:      core,
		estimator: estimator,
	}
}

var _ ports.LLMClient = (*Client)(nil)

// Complete sends a completion request through the middleware chain.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return c.core.DoRequest(ctx, req)
}

// EstimateTokens returns an approximate token count for the given text.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the currently configured model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// SimpleTokenEstimator assumes roughly 4 characters per token.
type SimpleTokenEstimator struct{}

// EstimateTokens returns an approximate token count using character-based heuristics.
func (e *SimpleTokenEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory allows registration of custom LLM provider factories.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

func lookupProviderFactory(providerType string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[providerType]
	return f, ok
}
