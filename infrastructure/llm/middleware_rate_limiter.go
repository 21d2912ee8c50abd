package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/intellego/evalpipe/internal/ports"
)

// rateLimitedLLM paces provider calls with a token bucket shared by every
// request that goes through the same middleware instance.
type rateLimitedLLM struct {
	next    CoreLLM
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket. The limit sets requests per second; burst allows short
// spikes above it.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:    next,
			limiter: limiter,
		}
	}
}

// DoRequest waits for a token before forwarding the request. A context that
// ends while waiting returns the context error without calling the provider.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.DoRequest(ctx, req)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedLLM) SetModel(m string) { r.next.SetModel(m) }
