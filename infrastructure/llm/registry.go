package llm

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/intellego/evalpipe/internal/ports"
)

// Registry builds and caches one client per "provider/model" pair, so the
// scoring and adjustment passes can run on different models while sharing
// middleware defaults.
//
//	registry, err := llm.NewRegistry(llm.RegistryConfig{
//	    DefaultProvider: "anthropic",
//	    Providers:       llm.DefaultProviders,
//	})
//	scorer, err := registry.GetClient("anthropic/claude-haiku-4-5")
//	adjuster, err := registry.GetClient("openai")
type Registry struct {
	providers         map[string]ProviderConfig
	clients           map[string]ports.LLMClient
	defaultProvider   string
	defaultMiddleware []Middleware
	defaultTimeout    time.Duration
	estimator         TokenEstimator
	apiKeys           map[string]string
	lookupEnv         func(string) (string, bool)
	mu                sync.RWMutex
}

// ProviderConfig holds provider-specific configuration.
type ProviderConfig struct {
	// Type selects the registered provider factory.
	Type string
	// EnvVar names the environment variable holding the API key.
	EnvVar string
	// DefaultModel is used when a spec names only the provider.
	DefaultModel string
	// SupportedModels restricts the accepted models; empty allows any.
	SupportedModels []string
	// BaseURL overrides the default API endpoint.
	BaseURL string
	// Middleware is appended after the registry defaults.
	Middleware []Middleware
}

// RegistryConfig holds configuration for the provider registry.
type RegistryConfig struct {
	Providers         map[string]ProviderConfig
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware
	// TokenEstimator is shared by every client; nil uses the simple estimator.
	TokenEstimator TokenEstimator
	// APIKeys overrides the environment per provider name.
	APIKeys map[string]string
	// LookupEnv replaces os.LookupEnv, mainly for tests.
	LookupEnv func(string) (string, bool)
}

// DefaultProviders lists the built-in providers.
var DefaultProviders = map[string]ProviderConfig{
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
	},
}

// NewRegistry creates a new provider registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DefaultProvider == "" {
		return nil, fmt.Errorf("default provider cannot be empty")
	}
	if _, exists := config.Providers[config.DefaultProvider]; !exists {
		return nil, fmt.Errorf("default provider %q not found in providers configuration", config.DefaultProvider)
	}

	lookup := config.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]ports.LLMClient),
		defaultProvider:   config.DefaultProvider,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
		estimator:         config.TokenEstimator,
		apiKeys:           config.APIKeys,
		lookupEnv:         lookup,
	}, nil
}

// GetDefaultClient returns a client for the default provider and its
// default model.
func (r *Registry) GetDefaultClient() (ports.LLMClient, error) {
	return r.GetClient(r.defaultProvider)
}

// GetClient retrieves a client by "provider" or "provider/model". Clients are
// created lazily and cached.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("provider specification cannot be empty; use GetDefaultClient() for default provider")
	}

	provider, model := r.parseSpec(spec)
	key := buildCacheKey(provider, model)

	r.mu.RLock()
	client, exists := r.clients[key]
	r.mu.RUnlock()
	if exists {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[key]; exists {
		return client, nil
	}

	client, err := r.createClient(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

// RegisterClient stores a ready-made client under spec, replacing any
// cached client for the same key.
func (r *Registry) RegisterClient(spec string, client ports.LLMClient) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("client name cannot be empty")
	}
	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	provider, model := r.parseSpec(spec)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[buildCacheKey(provider, model)] = client
	return nil
}

// RegisteredClients returns the sorted cache keys of every built client.
func (r *Registry) RegisteredClients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.clients))
	for k := range r.clients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseSpec splits "provider/model"; a bare provider takes its default model.
func (r *Registry) parseSpec(spec string) (provider, model string) {
	provider, model, found := strings.Cut(strings.TrimSpace(spec), "/")
	if !found || model == "" {
		if pc, ok := r.providers[provider]; ok {
			model = pc.DefaultModel
		}
	}
	return provider, model
}

func buildCacheKey(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + "/" + model
}

func (r *Registry) createClient(provider, model string) (ports.LLMClient, error) {
	pc, exists := r.providers[provider]
	if !exists {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if len(pc.SupportedModels) > 0 && !slices.Contains(pc.SupportedModels, model) {
		return nil, fmt.Errorf("model %q is not supported by provider %q. Supported models: %v",
			model, provider, pc.SupportedModels)
	}

	apiKey := r.apiKeys[provider]
	if apiKey == "" {
		apiKey, _ = r.lookupEnv(pc.EnvVar)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s environment variable not set for provider %q", pc.EnvVar, provider)
	}

	middleware := append([]Middleware{}, r.defaultMiddleware...)
	middleware = append(middleware, pc.Middleware...)

	return NewClient(pc.Type, ClientConfig{
		APIKey:         apiKey,
		Model:          model,
		BaseURL:        pc.BaseURL,
		Timeout:        r.defaultTimeout,
		TokenEstimator: r.estimator,
		Middleware:     middleware,
	})
}
