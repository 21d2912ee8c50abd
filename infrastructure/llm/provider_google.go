package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/intellego/evalpipe/internal/ports"
)

// GoogleDefaultModel is the default model for the Google provider.
const GoogleDefaultModel = "gemini-2.5-flash"

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider implements the CoreLLM interface for Google's Gemini API.
// System segments travel as the system instruction, which Gemini caches
// implicitly when the prefix repeats.
type googleProvider struct {
	BaseProvider
	client          *genai.Client
	errorClassifier *ErrorClassifier
}

// newGoogleProvider creates a new Google Gemini provider instance.
func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	authConfig, err := buildAuthConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}

	client, err := genai.NewClient(context.Background(), authConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}

	return &googleProvider{
		BaseProvider:    BaseProvider{model: model},
		client:          client,
		errorClassifier: &ErrorClassifier{Provider: "google"},
	}, nil
}

// DoRequest sends a request to the Gemini API and returns the response with
// cached prompt tokens reported separately.
func (p *googleProvider) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	params, err := resolveRequest(req, p.GetModel())
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Models.GenerateContent(ctx, params.model, buildContents(params), buildGenerationConfig(params))
	if err != nil {
		return nil, p.handleError(err)
	}

	return p.processResponse(resp, params.model)
}

func (p *googleProvider) processResponse(resp *genai.GenerateContentResponse, model string) (*ports.CompletionResponse, error) {
	if resp == nil {
		return nil, NewProviderError("google", ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}
	content := resp.Text()
	if content == "" {
		return nil, NewProviderError("google", ErrorTypeUnknown, 0, "", ErrEmptyResponse)
	}

	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}

	return &ports.CompletionResponse{
		Text:      content,
		Usage:     googleUsage(resp.UsageMetadata),
		RequestID: resp.ResponseID,
		Model:     model,
	}, nil
}

// googleUsage splits the prompt count into uncached input and cache reads.
func googleUsage(usage *genai.GenerateContentResponseUsageMetadata) ports.TokenUsage {
	if usage == nil {
		return ports.TokenUsage{}
	}
	cached := int(usage.CachedContentTokenCount)
	return ports.TokenUsage{
		Input:     nonNegative(int(usage.PromptTokenCount) - cached),
		Output:    nonNegative(int(usage.CandidatesTokenCount)),
		CacheRead: nonNegative(cached),
	}
}

// buildContents creates the user turn. A request with only system text sends
// that text as the user turn, since Gemini requires at least one content.
func buildContents(params requestParams) []*genai.Content {
	text := params.user
	if strings.TrimSpace(text) == "" {
		text = params.systemText()
	}
	return []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
}

// buildGenerationConfig creates the generation configuration for a Gemini
// request.
func buildGenerationConfig(params requestParams) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if strings.TrimSpace(params.user) != "" {
		if system := params.systemText(); system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
	}

	if params.temperature != nil {
		config.Temperature = genai.Ptr(float32(ClampFloat64(*params.temperature, 0.0, 2.0)))
	}

	if params.maxTokens > math.MaxInt32 {
		config.MaxOutputTokens = math.MaxInt32
	} else {
		config.MaxOutputTokens = int32(params.maxTokens)
	}

	if len(params.stop) > 0 {
		config.StopSequences = params.stop
	}

	return config
}

// handleError classifies Gemini errors. The genai client reports HTTP
// failures as APIError values; older transports surface googleapi.Error.
func (p *googleProvider) handleError(err error) error {
	if isContextError(err) {
		return p.errorClassifier.ClassifyContextError(err)
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		if isSafetyMessage(genaiErr.Message) {
			return NewProviderError("google", ErrorTypeContentPolicy, genaiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(genaiErr.Code, genaiErr.Message, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" && len(apiErr.Errors) > 0 {
			message = apiErr.Errors[0].Message
		}
		if containsContentPolicyError(apiErr) {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code,
				"request blocked by safety filters", err)
		}
		return p.errorClassifier.ClassifyHTTPError(apiErr.Code, message, err)
	}

	return p.errorClassifier.ClassifyTransportError(err)
}

// buildAuthConfig creates the client configuration. Only API keys are
// supported; a credentials file path is rejected with guidance.
func buildAuthConfig(config ClientConfig) (*genai.ClientConfig, error) {
	if looksLikeFilePath(config.APIKey) {
		if !fileExists(config.APIKey) {
			return nil, fmt.Errorf("credentials file not found: %s", config.APIKey)
		}
		return nil, fmt.Errorf("service account authentication requires additional configuration. " +
			"Please use API key authentication or set GOOGLE_APPLICATION_CREDENTIALS environment variable")
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		validatedURL, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		cc.HTTPOptions.BaseURL = validatedURL
	}
	if hc := httpClientFor(config); hc != nil {
		cc.HTTPClient = hc
	}
	return cc, nil
}

// looksLikeFilePath checks if a string appears to be a file path.
func looksLikeFilePath(s string) bool {
	if filepath.IsAbs(s) {
		return true
	}

	if strings.Contains(s, "/") || strings.Contains(s, "\\") {
		return true
	}

	lower := strings.ToLower(s)
	return strings.HasSuffix(lower, ".json") ||
		strings.HasSuffix(lower, ".p12") ||
		strings.HasSuffix(lower, ".pem") ||
		strings.Contains(lower, "credentials")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isSafetyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") ||
		strings.Contains(lower, "policy") ||
		strings.Contains(lower, "blocked")
}

// containsContentPolicyError checks if a Google API error is related to
// content policy violations.
func containsContentPolicyError(apiErr *googleapi.Error) bool {
	if isSafetyMessage(apiErr.Message) {
		return true
	}
	for _, e := range apiErr.Errors {
		if e.Reason == "SAFETY" || e.Reason == "BLOCKED" {
			return true
		}
	}
	return false
}
