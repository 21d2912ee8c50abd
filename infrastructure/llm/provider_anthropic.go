package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/intellego/evalpipe/internal/ports"
)

// AnthropicDefaultModel is used when the configuration names no model.
const AnthropicDefaultModel = "claude-haiku-4-5"

// anthropicMaxCacheBlocks is the number of cache breakpoints the Messages
// API accepts per request.
const anthropicMaxCacheBlocks = 4

func init() {
	RegisterProviderFactory("anthropic", newAnthropicProvider)
}

// anthropicProvider implements the CoreLLM interface for Anthropic's Messages API.
// Cacheable system segments are sent as separate system blocks carrying an
// ephemeral cache_control marker.
type anthropicProvider struct {
	BaseProvider
	client          anthropic.Client
	errorClassifier *ErrorClassifier
}

// newAnthropicProvider creates a new Anthropic provider instance.
func newAnthropicProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = AnthropicDefaultModel
	}

	// Retries belong to the middleware chain and the batch orchestrator.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(validatedURL))
	}
	if hc := httpClientFor(config); hc != nil {
		opts = append(opts, option.WithHTTPClient(hc))
	}

	return &anthropicProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          anthropic.NewClient(opts...),
		errorClassifier: &ErrorClassifier{Provider: "anthropic"},
	}, nil
}

// DoRequest sends a request to Anthropic's Messages API and returns the
// response with four-tier usage.
func (p *anthropicProvider) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	params, err := resolveRequest(req, p.GetModel())
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, p.buildParams(params))
	if err != nil {
		return nil, p.handleError(err)
	}

	return p.processResponse(message, params.model)
}

// buildParams creates the API request parameters.
func (p *anthropicProvider) buildParams(params requestParams) anthropic.MessageNewParams {
	out := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.model),
		MaxTokens: int64(params.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(params.user)),
		},
	}

	if params.temperature != nil {
		out.Temperature = anthropic.Float(ClampFloat64(*params.temperature, 0.0, 1.0))
	}
	if len(params.stop) > 0 {
		out.StopSequences = params.stop
	}

	marked := 0
	for _, seg := range params.system {
		block := anthropic.TextBlockParam{Text: seg.Text}
		if seg.Cacheable && marked < anthropicMaxCacheBlocks {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
			marked++
		}
		out.System = append(out.System, block)
	}

	return out
}

// processResponse extracts content and usage from the API response.
func (p *anthropicProvider) processResponse(message *anthropic.Message, model string) (*ports.CompletionResponse, error) {
	var text strings.Builder
	for _, block := range message.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		}
	}

	if text.Len() == 0 {
		return nil, NewProviderError("anthropic", ErrorTypeUnknown, 0, "no text content", ErrEmptyResponse)
	}

	if message.Model != "" {
		model = string(message.Model)
	}

	return &ports.CompletionResponse{
		Text: text.String(),
		Usage: ports.TokenUsage{
			Input:      nonNegative(int(message.Usage.InputTokens)),
			Output:     nonNegative(int(message.Usage.OutputTokens)),
			CacheWrite: nonNegative(int(message.Usage.CacheCreationInputTokens)),
			CacheRead:  nonNegative(int(message.Usage.CacheReadInputTokens)),
		},
		RequestID: message.ID,
		Model:     model,
	}, nil
}

// handleError classifies Anthropic SDK errors into ProviderError values.
func (p *anthropicProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return p.errorClassifier.ClassifyHTTPError(apiErr.StatusCode, http.StatusText(apiErr.StatusCode), err)
	}

	return p.errorClassifier.ClassifyTransportError(err)
}
