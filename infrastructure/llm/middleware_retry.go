package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// retryLLM retries transient provider failures with exponential backoff.
// Only errors classified as retryable are retried; an open circuit or an
// ended context stops the loop immediately.
type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries failed requests with
// exponential backoff and jitter. maxRetries counts retries, so a request is
// attempted at most maxRetries+1 times.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// DoRequest executes the request with automatic retry logic.
func (r *retryLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		resp, err := r.next.DoRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil || !IsRetryable(err) {
			return nil, err
		}

		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.calculateDelay(attempt)):
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *retryLLM) calculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	// #nosec G115 - attempt is bounded between 0 and 30
	delay := r.baseDelay * time.Duration(1<<uint(attempt))

	// Jitter in [-25%, +25%).
	// #nosec G404 - weak RNG is fine for jitter
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - delay/4

	if r.maxDelay > 0 && delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

// GetModel returns the model name from the wrapped implementation.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *retryLLM) SetModel(m string) { r.next.SetModel(m) }
