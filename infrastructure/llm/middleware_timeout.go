package llm

import (
	"context"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// timeoutLLM bounds each provider call with its own deadline.
type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces a per-call deadline.
// A non-positive timeout leaves the caller's context untouched.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{
			next:    next,
			timeout: timeout,
		}
	}
}

// DoRequest executes the request under the configured deadline. A shorter
// deadline already on ctx still wins.
func (t *timeoutLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if t.timeout <= 0 {
		return t.next.DoRequest(ctx, req)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DoRequest(ctx, req)
}

// GetModel returns the model name from the wrapped implementation.
func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *timeoutLLM) SetModel(m string) { t.next.SetModel(m) }
