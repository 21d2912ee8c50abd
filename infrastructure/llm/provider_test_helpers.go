package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/ports"
)

// MockProvider represents a mock implementation of the CoreLLM interface.
// It is used for testing provider-agnostic logic without making actual API calls.
type MockProvider struct {
	BaseProvider
	// DoRequestFunc allows injecting custom logic into the DoRequest method.
	// If nil, a default mock response is returned.
	DoRequestFunc func(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
	// CallCount tracks the number of times DoRequest has been invoked.
	CallCount int
}

// DoRequest implements the CoreLLM interface for MockProvider.
func (m *MockProvider) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	m.CallCount++
	if m.DoRequestFunc != nil {
		return m.DoRequestFunc(ctx, req)
	}
	return &ports.CompletionResponse{
		Text:  "mock response",
		Usage: ports.TokenUsage{Input: 10, Output: 5},
		Model: m.GetModel(),
	}, nil
}

// ProviderTestSuite defines a standardized suite of live tests for any
// CoreLLM provider.
type ProviderTestSuite struct {
	t        *testing.T
	provider CoreLLM
	config   ClientConfig
}

// NewProviderTestSuite creates a new test suite for a given provider using
// its registered factory.
func NewProviderTestSuite(t *testing.T, factoryName string, config ClientConfig) *ProviderTestSuite {
	factory, exists := lookupProviderFactory(factoryName)
	if !exists {
		t.Fatalf("Provider factory %s not found", factoryName)
	}

	provider, err := factory(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	return &ProviderTestSuite{
		t:        t,
		provider: provider,
		config:   config,
	}
}

// TestBasicRequest verifies that a provider can handle a simple request.
func (pts *ProviderTestSuite) TestBasicRequest() {
	resp, err := pts.provider.DoRequest(context.Background(), ports.CompletionRequest{UserMessage: "Hello, world!"})

	require.NoError(pts.t, err, "Basic request should not fail")
	assert.NotEmpty(pts.t, resp.Text, "Response should not be empty")
	assert.Positive(pts.t, resp.Usage.Input+resp.Usage.CacheRead, "Input token count should be positive")
	assert.Positive(pts.t, resp.Usage.Output, "Output token count should be positive")
}

// TestRequestWithOptions validates system segments, temperature and token
// limits against the live API.
func (pts *ProviderTestSuite) TestRequestWithOptions() {
	testCases := []struct {
		name string
		req  ports.CompletionRequest
	}{
		{
			name: "with temperature",
			req:  ports.CompletionRequest{UserMessage: "Test prompt", Temperature: ports.Float64(0.7)},
		},
		{
			name: "with max tokens",
			req:  ports.CompletionRequest{UserMessage: "Test prompt", MaxTokens: 100},
		},
		{
			name: "with cacheable system segment",
			req: ports.CompletionRequest{
				SystemSegments: []ports.Segment{{Text: "You are a helpful assistant.", Cacheable: true}},
				UserMessage:    "Test prompt",
			},
		},
	}

	for _, tc := range testCases {
		pts.t.Run(tc.name, func(t *testing.T) {
			resp, err := pts.provider.DoRequest(context.Background(), tc.req)
			require.NoError(t, err, "Request with options should not fail")
			assert.NotEmpty(t, resp.Text, "Response should not be empty")
		})
	}
}

// TestErrorHandling ensures the provider does not panic on degenerate input.
func (pts *ProviderTestSuite) TestErrorHandling() {
	_, err := pts.provider.DoRequest(context.Background(), ports.CompletionRequest{})
	assert.ErrorIs(pts.t, err, ErrEmptyPrompt)

	_, _ = pts.provider.DoRequest(context.Background(), ports.CompletionRequest{
		UserMessage: "test",
		Temperature: ports.Float64(3.0),
		MaxTokens:   -1,
	})
}

// TestContextCancellation confirms that a canceled context is reported as a
// terminal cancellation.
func (pts *ProviderTestSuite) TestContextCancellation() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pts.provider.DoRequest(ctx, ports.CompletionRequest{UserMessage: "Test prompt"})
	require.Error(pts.t, err, "Expected error for cancelled context")
	assert.False(pts.t, IsRetryable(err))
}

// TestTimeout checks that a request fails once the context deadline passes.
func (pts *ProviderTestSuite) TestTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()

	time.Sleep(2 * time.Millisecond)

	_, err := pts.provider.DoRequest(ctx, ports.CompletionRequest{UserMessage: "Test prompt"})
	assert.Error(pts.t, err, "Expected timeout error")
}

// TestModelGetterSetter validates the provider's GetModel and SetModel methods.
func (pts *ProviderTestSuite) TestModelGetterSetter() {
	originalModel := pts.provider.GetModel()

	pts.provider.SetModel("test-model-123")
	assert.Equal(pts.t, "test-model-123", pts.provider.GetModel(), "Model should be updated correctly")

	pts.provider.SetModel(originalModel)
}
