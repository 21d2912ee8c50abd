package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryMiddleware_SucceedsAfterTransientFailures(t *testing.T) {
	// Given a provider that fails twice with a retryable error
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 2
	wrapped := RetryMiddleware(3, time.Millisecond, 10*time.Millisecond)(mock)

	// When the request is sent
	resp, err := wrapped.DoRequest(context.Background(), testReq)

	// Then the third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, "test response", resp.Text)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRetryMiddleware_GivesUpAfterMaxRetries(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 100
	wrapped := RetryMiddleware(2, time.Millisecond, 5*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), testReq)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed after 3 attempts")
	assert.Contains(t, err.Error(), "simulated failure")
	assert.True(t, IsRetryable(err), "the wrapped classification survives")
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRetryMiddleware_DoesNotRetryTerminalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"authentication", NewProviderError("anthropic", ErrorTypeAuthentication, 401, "bad key", nil)},
		{"bad request", NewProviderError("anthropic", ErrorTypeBadRequest, 400, "bad", nil)},
		{"unclassified", errors.New("plain failure")},
		{"circuit open", ErrCircuitOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockCoreLLM()
			mock.Error = tt.err
			wrapped := RetryMiddleware(3, time.Millisecond, 5*time.Millisecond)(mock)

			_, err := wrapped.DoRequest(context.Background(), testReq)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, mock.GetCallCount())
		})
	}
}

func TestRetryMiddleware_RetriesClassifiedTransientErrors(t *testing.T) {
	mock := NewMockCoreLLM()
	mock.Error = NewProviderError("openai", ErrorTypeRateLimit, 429, "slow down", nil)
	wrapped := RetryMiddleware(2, time.Millisecond, 5*time.Millisecond)(mock)

	_, err := wrapped.DoRequest(context.Background(), testReq)

	require.Error(t, err)
	assert.Equal(t, 3, mock.GetCallCount())
}

func TestRetryMiddleware_StopsWhenContextEnds(t *testing.T) {
	// Given a long backoff and a short deadline
	mock := NewMockCoreLLM()
	mock.FailUntilAttempt = 100
	wrapped := RetryMiddleware(5, time.Second, 5*time.Second)(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := wrapped.DoRequest(ctx, testReq)

	// Then the loop returns the context error during the first backoff
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRetryMiddleware_CalculateDelay(t *testing.T) {
	r := &retryLLM{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}

	for attempt, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		d := r.calculateDelay(attempt)
		assert.GreaterOrEqual(t, d, base*3/4, "attempt %d lower bound", attempt)
		assert.Less(t, d, base*5/4+time.Nanosecond, "attempt %d upper bound", attempt)
	}

	assert.Equal(t, time.Second, r.calculateDelay(10), "capped at maxDelay")
	assert.Equal(t, time.Second, r.calculateDelay(1000), "large attempts are bounded")
}
