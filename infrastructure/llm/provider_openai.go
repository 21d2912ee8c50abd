package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/intellego/evalpipe/internal/ports"
)

// OpenAIDefaultModel is used when the configuration names no model.
const OpenAIDefaultModel = "gpt-4o-mini"

func init() {
	RegisterProviderFactory("openai", newOpenAIProvider)
}

// openAIProvider implements the CoreLLM interface for OpenAI's chat
// completions API. OpenAI caches long prompt prefixes automatically, so the
// system segments are sent as one leading system message to keep the prefix
// stable across calls.
type openAIProvider struct {
	BaseProvider
	client          *openai.Client
	errorClassifier *ErrorClassifier
}

// newOpenAIProvider creates a new OpenAI provider instance.
func newOpenAIProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = OpenAIDefaultModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		clientConfig.BaseURL = validatedURL
	}
	if hc := httpClientFor(config); hc != nil {
		clientConfig.HTTPClient = hc
	}

	return &openAIProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          openai.NewClientWithConfig(clientConfig),
		errorClassifier: &ErrorClassifier{Provider: "openai"},
	}, nil
}

// DoRequest sends a chat completion request and returns the first choice.
// Cached prompt tokens are reported as cache reads and removed from the
// input tier.
func (p *openAIProvider) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	params, err := resolveRequest(req, p.GetModel())
	if err != nil {
		return nil, err
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.buildChatCompletionRequest(params))
	if err != nil {
		return nil, p.handleError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", ErrorTypeUnknown, 0, "", ErrNoResponseChoice)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, NewProviderError("openai", ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}

	model := params.model
	if resp.Model != "" {
		model = resp.Model
	}

	return &ports.CompletionResponse{
		Text:      content,
		Usage:     openAIUsage(resp.Usage),
		RequestID: resp.ID,
		Model:     model,
	}, nil
}

// openAIUsage splits the prompt total into uncached input and cache reads.
// OpenAI does not bill cache writes separately.
func openAIUsage(u openai.Usage) ports.TokenUsage {
	cached := 0
	if u.PromptTokensDetails != nil {
		cached = u.PromptTokensDetails.CachedTokens
	}
	return ports.TokenUsage{
		Input:     nonNegative(u.PromptTokens - cached),
		Output:    nonNegative(u.CompletionTokens),
		CacheRead: nonNegative(cached),
	}
}

// buildChatCompletionRequest creates an openai.ChatCompletionRequest from
// normalised parameters.
func (p *openAIProvider) buildChatCompletionRequest(params requestParams) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system := params.systemText(); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	if params.user != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: params.user,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:     params.model,
		Messages:  messages,
		MaxTokens: params.maxTokens,
		Stop:      params.stop,
	}
	if params.temperature != nil {
		req.Temperature = float32(ClampFloat64(*params.temperature, 0.0, 2.0))
	}
	return req
}

// handleError classifies and wraps errors from the OpenAI API.
func (p *openAIProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "unknown error"
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.HTTPStatusCode, message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return p.errorClassifier.ClassifyHTTPError(reqErr.HTTPStatusCode, reqErr.HTTPStatus, err)
	}

	return p.errorClassifier.ClassifyTransportError(err)
}
