package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	// Given a rate limiter that allows 10 requests per second
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(10), 1)(mock)

	// When making a single request
	resp, err := wrapped.DoRequest(context.Background(), testReq)

	// Then it should succeed immediately
	require.NoError(t, err, "request should succeed within rate limit")
	assert.Equal(t, "test response", resp.Text)
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRateLimitMiddleware_DelaysRequestsExceedingRate(t *testing.T) {
	// Given a rate limiter that allows 2 requests per second with burst of 1
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(2), 1)(mock)
	ctx := context.Background()

	// When making two requests back to back
	start := time.Now()
	_, err := wrapped.DoRequest(ctx, testReq)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "first request should be immediate")

	start = time.Now()
	_, err = wrapped.DoRequest(ctx, testReq)
	second := time.Since(start)

	// Then the second waits for the bucket to refill
	require.NoError(t, err)
	assert.Greater(t, second, 400*time.Millisecond)
	assert.Less(t, second, 700*time.Millisecond)
	assert.Equal(t, 2, mock.GetCallCount())
}

func TestRateLimitMiddleware_ContextEndsWhileWaiting(t *testing.T) {
	// Given a drained bucket that refills once per second
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(1), 1)(mock)
	_, err := wrapped.DoRequest(context.Background(), testReq)
	require.NoError(t, err)

	// When the caller's deadline is shorter than the refill
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp, err := wrapped.DoRequest(ctx, testReq)

	// Then the request fails without reaching the provider
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 1, mock.GetCallCount())
}

func TestRateLimitMiddleware_CanceledContext(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(1), 1)(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := wrapped.DoRequest(ctx, testReq)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, mock.GetCallCount())
}

func TestRateLimitMiddleware_SharedAcrossGoroutines(t *testing.T) {
	// Given a burst of 5 and a slow refill
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Limit(1), 5)(mock)

	// When 5 goroutines call at once
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wrapped.DoRequest(context.Background(), testReq)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Then all fit in the burst
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 5, mock.GetCallCount())
}

func TestRateLimitMiddleware_PassesThroughModel(t *testing.T) {
	mock := NewMockCoreLLM()
	wrapped := RateLimitMiddleware(rate.Inf, 1)(mock)

	wrapped.SetModel("other-model")
	assert.Equal(t, "other-model", wrapped.GetModel())
}
