package llm

import (
	"context"
	"sync"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// MockCoreLLM provides a configurable mock implementation of CoreLLM for testing.
// It allows precise control over response behavior, timing, and error conditions
// to facilitate middleware testing.
type MockCoreLLM struct {
	mu sync.Mutex

	// Response configuration
	Response      string
	Usage         ports.TokenUsage
	Error         error
	Model         string
	ResponseDelay time.Duration

	// Behavior flags
	FailUntilAttempt int  // Fail for first N attempts, then succeed
	AlternateErrors  bool // Alternate between success and failure

	// Tracking
	CallCount      int
	LastRequest    ports.CompletionRequest
	Contexts       []context.Context
	CallTimestamps []time.Time
}

// NewMockCoreLLM creates a new mock CoreLLM with default successful behavior.
func NewMockCoreLLM() *MockCoreLLM {
	return &MockCoreLLM{
		Response: "test response",
		Usage:    ports.TokenUsage{Input: 10, Output: 20},
		Model:    "test-model",
	}
}

// DoRequest implements the CoreLLM interface with configurable behavior.
// The simulated delay runs outside the lock so concurrent callers overlap.
func (m *MockCoreLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastRequest = req
	m.Contexts = append(m.Contexts, ctx)
	m.CallTimestamps = append(m.CallTimestamps, time.Now())
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		return nil, m.failure("simulated failure")
	}

	if m.AlternateErrors && call%2 == 0 {
		return nil, m.failure("alternating failure")
	}

	if m.Error != nil {
		return nil, m.Error
	}

	return &ports.CompletionResponse{
		Text:      m.Response,
		Usage:     m.Usage,
		RequestID: "mock-request",
		Model:     m.Model,
	}, nil
}

func (m *MockCoreLLM) failure(msg string) error {
	if m.Error != nil {
		return m.Error
	}
	return &testError{message: msg, retryable: true}
}

// GetModel returns the configured model name.
func (m *MockCoreLLM) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the model name.
func (m *MockCoreLLM) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}

// Reset clears all tracking data while preserving configuration.
func (m *MockCoreLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.LastRequest = ports.CompletionRequest{}
	m.Contexts = nil
	m.CallTimestamps = nil
}

// GetCallCount returns the number of times DoRequest was called.
func (m *MockCoreLLM) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// testError provides a simple error type for testing.
type testError struct {
	message   string
	retryable bool
}

func (e *testError) Error() string { return e.message }

// IsRetryable marks simulated failures as transient unless told otherwise.
func (e *testError) IsRetryable() bool { return e.retryable }
