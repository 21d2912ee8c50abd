package llm

import (
	"strings"
	"sync"

	"github.com/intellego/evalpipe/internal/ports"
)

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 2000

// BaseProvider provides common, thread-safe functionality for all LLM providers,
// primarily for managing the model name.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the name of the model currently configured for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name for the provider.
// It is safe for concurrent use.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// requestParams is a CompletionRequest after defaults and range checks.
type requestParams struct {
	model       string
	maxTokens   int
	temperature *float64
	system      []ports.Segment
	user        string
	stop        []string
}

// resolveRequest applies defaults to req and drops out-of-range values so
// every provider sees the same normalised parameters.
func resolveRequest(req ports.CompletionRequest, model string) (requestParams, error) {
	if strings.TrimSpace(req.UserMessage) == "" && strings.TrimSpace(req.SystemText()) == "" {
		return requestParams{}, ErrEmptyPrompt
	}

	p := requestParams{
		model:     model,
		maxTokens: req.MaxTokens,
		user:      req.UserMessage,
		stop:      req.StopSequences,
	}
	if !IsPositiveInt(p.maxTokens) {
		p.maxTokens = DefaultMaxTokens
	}
	if req.Temperature != nil && IsValidTemperature(*req.Temperature) {
		t := *req.Temperature
		p.temperature = &t
	}
	for _, s := range req.SystemSegments {
		if strings.TrimSpace(s.Text) != "" {
			p.system = append(p.system, s)
		}
	}
	return p, nil
}

// systemText joins the system segments for providers without per-block
// cache markers.
func (p requestParams) systemText() string {
	return ports.CompletionRequest{SystemSegments: p.system}.SystemText()
}

// nonNegative guards against providers reporting cached tokens larger than
// the prompt total.
func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
