// Package testutils provides fakes and reply fixtures shared by tests across
// the evaluation pipeline.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/intellego/evalpipe/internal/ports"
)

// ScriptedReply is one canned provider answer.
type ScriptedReply struct {
	// Pattern is matched case-insensitively against the user message.
	// An empty pattern matches every request.
	Pattern string
	// Text is the reply body.
	Text string
	// Usage is reported with the reply.
	Usage ports.TokenUsage
	// Err, when set, is returned instead of a reply.
	Err error
}

// ScriptedLLMClient implements ports.LLMClient with deterministic replies.
// Queued replies are consumed in order first; once the queue is empty the
// first pattern reply whose pattern occurs in the user message answers.
// Every request is recorded for later inspection.
type ScriptedLLMClient struct {
	mu       sync.Mutex
	model    string
	queue    []ScriptedReply
	patterns []ScriptedReply
	requests []ports.CompletionRequest
}

// NewScriptedLLMClient creates a client reporting model.
func NewScriptedLLMClient(model string) *ScriptedLLMClient {
	return &ScriptedLLMClient{model: model}
}

// Enqueue appends replies that are returned once each, in order.
func (m *ScriptedLLMClient) Enqueue(replies ...ScriptedReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, replies...)
}

// AddResponse registers a reusable pattern reply.
func (m *ScriptedLLMClient) AddResponse(reply ScriptedReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, reply)
}

// Complete returns the next scripted reply for req.
func (m *ScriptedLLMClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.UserMessage) == "" && len(req.SystemSegments) == 0 {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	reply, ok := m.nextLocked(req.UserMessage)
	model := m.model
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no scripted reply for request %d", len(m.Requests()))
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &ports.CompletionResponse{
		Text:      reply.Text,
		Usage:     reply.Usage,
		RequestID: fmt.Sprintf("scripted-%d", m.CallCount()),
		Model:     model,
	}, nil
}

func (m *ScriptedLLMClient) nextLocked(userMessage string) (ScriptedReply, bool) {
	if len(m.queue) > 0 {
		reply := m.queue[0]
		m.queue = m.queue[1:]
		return reply, true
	}
	msg := strings.ToLower(userMessage)
	for _, p := range m.patterns {
		if p.Pattern == "" || strings.Contains(msg, strings.ToLower(p.Pattern)) {
			return p, true
		}
	}
	return ScriptedReply{}, false
}

// EstimateTokens approximates four characters per token.
func (m *ScriptedLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens, nil
}

// GetModel returns the scripted model identifier.
func (m *ScriptedLLMClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SetModel changes the reported model.
func (m *ScriptedLLMClient) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// Requests returns a copy of every request received so far.
func (m *ScriptedLLMClient) Requests() []ports.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.CompletionRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, if any.
func (m *ScriptedLLMClient) LastRequest() (ports.CompletionRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return ports.CompletionRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// CallCount returns the number of Complete calls received.
func (m *ScriptedLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset drops every scripted reply and recorded request.
func (m *ScriptedLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.patterns = nil
	m.requests = nil
}

// Verify interface compliance at compile time.
var _ ports.LLMClient = (*ScriptedLLMClient)(nil)
