package application

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/intellego/evalpipe/infrastructure/llm"
	"github.com/intellego/evalpipe/infrastructure/middleware"
	"github.com/intellego/evalpipe/infrastructure/store"
	"github.com/intellego/evalpipe/infrastructure/units"
	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/pkg/logger"
	"github.com/intellego/evalpipe/internal/ports"
)

const (
	tracingServiceName = "evalpipe"
	estimatorCacheSize = 256
	maxRetryDelay      = 30 * time.Second
)

// Pipeline is the assembled evaluation stack: provider client with its
// middleware, scoring and adjustment units, optional result sink and
// evaluation cache, and the batch orchestrator.
type Pipeline struct {
	Config       *Config
	Catalog      *domain.Catalog
	Client       ports.LLMClient
	Evaluator    ports.Evaluator
	Adjuster     ports.Adjuster
	Sink         ports.ResultSink
	Orchestrator *Orchestrator
	Metrics      *middleware.PrometheusMetrics

	logger *logger.Logger
	redis  *redis.Client
}

type pipelineOptions struct {
	logger     *logger.Logger
	registerer prometheus.Registerer
	client     ports.LLMClient
	adjClient  ports.LLMClient
	lookupEnv  func(string) (string, bool)
}

// PipelineOption customises NewPipeline.
type PipelineOption func(*pipelineOptions)

// WithPipelineLogger replaces the logger built from the log section.
func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(o *pipelineOptions) { o.logger = l }
}

// WithRegisterer enables Prometheus metrics on reg.
func WithRegisterer(reg prometheus.Registerer) PipelineOption {
	return func(o *pipelineOptions) { o.registerer = reg }
}

// WithLLMClient uses client for scoring instead of building a provider
// client from the llm section. It is also used for the adjustment pass
// unless WithAdjustmentClient is given.
func WithLLMClient(client ports.LLMClient) PipelineOption {
	return func(o *pipelineOptions) { o.client = client }
}

// WithAdjustmentClient uses client for the adjustment pass.
func WithAdjustmentClient(client ports.LLMClient) PipelineOption {
	return func(o *pipelineOptions) { o.adjClient = client }
}

// WithLookupEnv replaces os.LookupEnv for API key resolution.
func WithLookupEnv(fn func(string) (string, bool)) PipelineOption {
	return func(o *pipelineOptions) { o.lookupEnv = fn }
}

// NewPipeline assembles the pipeline described by cfg.
func NewPipeline(ctx context.Context, cfg *Config, opts ...PipelineOption) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	var po pipelineOptions
	for _, opt := range opts {
		opt(&po)
	}

	log := po.logger
	if log == nil {
		log = logger.New(cfg.Log.Level, cfg.Log.Format, nil)
	}

	catalog, err := domain.BuiltinCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading rubric catalog: %w", err)
	}

	p := &Pipeline{Config: cfg, Catalog: catalog, logger: log}
	if po.registerer != nil {
		p.Metrics = middleware.NewPrometheusMetrics(po.registerer)
	}

	scorer, adjClient, err := p.buildClients(cfg, po)
	if err != nil {
		return nil, err
	}
	p.Client = scorer

	rates := cfg.Pricing.RateTable()
	scoring, err := units.NewScoringUnit(scorer, units.ScoringConfig{
		MaxTokens:          cfg.LLM.MaxTokens,
		Temperature:        cfg.LLM.Temperature,
		MinCacheableTokens: units.DefaultMinCacheableTokens,
	},
		units.WithScoringRates(rates),
		units.WithScoringLogger(log),
		units.WithScoringCatalog(catalog),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scoring unit: %w", err)
	}
	p.Evaluator = scoring

	if cfg.Adjustment.Enabled {
		adjCfg := units.DefaultAdjustmentConfig()
		adjCfg.MaxTokens = cfg.Adjustment.MaxTokens
		adjCfg.Temperature = cfg.Adjustment.Temperature
		adjuster, err := units.NewAdjustmentUnit(adjClient, adjCfg,
			units.WithAdjustmentRates(rates),
			units.WithAdjustmentLogger(log),
		)
		if err != nil {
			return nil, fmt.Errorf("creating adjustment unit: %w", err)
		}
		p.Adjuster = adjuster
	}

	if err := p.buildStore(ctx, cfg, scorer.GetModel()); err != nil {
		return nil, err
	}

	orchOpts := []OrchestratorOption{WithLogger(log)}
	if p.Adjuster != nil {
		orchOpts = append(orchOpts, WithAdjuster(p.Adjuster))
	}
	if p.Sink != nil {
		orchOpts = append(orchOpts, WithResultSink(p.Sink))
	}
	if p.Metrics != nil {
		orchOpts = append(orchOpts, WithMetrics(p.Metrics))
	}
	p.Orchestrator, err = NewOrchestrator(p.Evaluator, orchOpts...)
	if err != nil {
		return nil, err
	}

	log.Info("pipeline ready",
		"provider", cfg.LLM.Provider,
		"model", scorer.GetModel(),
		"adjustment", p.Adjuster != nil,
		"sink", p.Sink != nil,
		"cache_evaluations", cfg.Store.CacheEvaluations,
	)
	return p, nil
}

// buildClients returns the scoring and adjustment clients.
func (p *Pipeline) buildClients(cfg *Config, po pipelineOptions) (ports.LLMClient, ports.LLMClient, error) {
	if po.client != nil {
		adj := po.adjClient
		if adj == nil {
			adj = po.client
		}
		return po.client, adj, nil
	}

	providers := maps.Clone(llm.DefaultProviders)
	if cfg.LLM.BaseURL != "" {
		pc := providers[cfg.LLM.Provider]
		pc.BaseURL = cfg.LLM.BaseURL
		providers[cfg.LLM.Provider] = pc
	}
	var apiKeys map[string]string
	if cfg.LLM.APIKey != "" {
		apiKeys = map[string]string{cfg.LLM.Provider: cfg.LLM.APIKey}
	}

	registry, err := llm.NewRegistry(llm.RegistryConfig{
		Providers:         providers,
		DefaultProvider:   cfg.LLM.Provider,
		DefaultMiddleware: p.middlewareChain(cfg.LLM),
		TokenEstimator:    llm.NewCachingTokenEstimator(llm.NewCharacterBasedTokenEstimator(4), estimatorCacheSize),
		APIKeys:           apiKeys,
		LookupEnv:         po.lookupEnv,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating provider registry: %w", err)
	}

	scorer, err := registry.GetClient(cfg.LLM.Provider + "/" + cfg.ScoringModel())
	if err != nil {
		return nil, nil, fmt.Errorf("creating scoring client: %w", err)
	}

	adj := ports.LLMClient(scorer)
	if po.adjClient != nil {
		adj = po.adjClient
	} else if cfg.Adjustment.Enabled && cfg.Adjustment.Model != "" {
		if adj, err = registry.GetClient(cfg.Adjustment.Model); err != nil {
			return nil, nil, fmt.Errorf("creating adjustment client: %w", err)
		}
	}
	return scorer, adj, nil
}

// middlewareChain orders the provider middleware from outermost to
// innermost: tracing, metrics, retry, circuit breaker, rate limit, timeout.
// Each retry attempt therefore passes the breaker, waits for a rate token
// and gets its own deadline.
func (p *Pipeline) middlewareChain(c LLMConfig) []llm.Middleware {
	var chain []llm.Middleware
	if c.Tracing {
		chain = append(chain, llm.TracingMiddleware(tracingServiceName))
	}
	if p.Metrics != nil {
		chain = append(chain, llm.MetricsMiddleware(p.Metrics))
	}
	if c.Retries > 0 {
		chain = append(chain, llm.RetryMiddleware(c.Retries, c.RetryBaseDelay, maxRetryDelay))
	}
	if c.CircuitMaxFailures > 0 {
		var cbm llm.CircuitBreakerMetrics
		if p.Metrics != nil {
			cbm = p.Metrics.CircuitBreaker(c.Provider)
		}
		chain = append(chain, llm.CircuitBreakerMiddlewareWithMetrics(c.CircuitMaxFailures, c.CircuitCooldown, cbm))
	}
	if c.RateLimitRPS > 0 {
		burst := max(c.RateLimitBurst, 1)
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(c.RateLimitRPS), burst))
	}
	chain = append(chain, llm.TimeoutMiddleware(c.Timeout))
	return chain
}

// buildStore connects the optional Redis sink and the evaluation cache.
func (p *Pipeline) buildStore(ctx context.Context, cfg *Config, model string) error {
	var cache ports.CacheStore
	if cfg.Store.RedisURL != "" {
		client, err := store.NewRedisClient(ctx, cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting result store: %w", err)
		}
		p.redis = client
		p.Sink = store.NewRedisSink(client, cfg.Store.KeyPrefix, cfg.Store.TTL)
		if cfg.Store.CacheEvaluations {
			cache = store.NewRedisCache(client, cfg.Store.KeyPrefix)
		}
	} else if cfg.Store.CacheEvaluations {
		cache = store.NewMemoryCache()
	}

	if cache != nil {
		p.Evaluator = store.NewCachingEvaluator(p.Evaluator, cache, p.Catalog, model, cfg.Store.CacheTTL, p.logger)
	}
	return nil
}

// EvaluationOutcome is the result of one interactive evaluation.
type EvaluationOutcome struct {
	Evaluation *domain.EvaluationResult `json:"evaluation"`
	Adjustment *domain.AdjustmentRecord `json:"adjustment,omitempty"`
}

// Evaluate scores one response set, runs the adjustment unless adjust is
// false, and persists the pair when a sink is configured.
func (p *Pipeline) Evaluate(
	ctx context.Context,
	itemID string,
	responses domain.ResponseSet,
	subject string,
	rubric domain.RubricSelector,
	adjust bool,
) (*EvaluationOutcome, error) {
	eval, err := p.Evaluator.Evaluate(ctx, itemID, responses, subject, rubric)
	if err != nil {
		return nil, err
	}

	out := &EvaluationOutcome{Evaluation: eval}
	if adjust && p.Adjuster != nil {
		out.Adjustment = p.Adjuster.Adjust(ctx, eval, responses, subject)
	}

	if p.Sink != nil {
		if err := p.Sink.Save(ctx, eval, out.Adjustment); err != nil {
			p.logger.WithItem(itemID).WithError(err).Warn("failed to persist result")
		}
	}
	return out, nil
}

// RunBatch runs jobs through the orchestrator.
func (p *Pipeline) RunBatch(ctx context.Context, jobs []domain.BatchJob, opts BatchOptions) *domain.BatchResult {
	return p.Orchestrator.RunBatch(ctx, jobs, opts)
}

// Close releases the store connection.
func (p *Pipeline) Close() error {
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}
