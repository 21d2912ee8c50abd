package units

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/pkg/logger"
	"github.com/intellego/evalpipe/internal/ports"
)

var _ ports.Evaluator = (*ScoringUnit)(nil)

// Default configuration values for the scoring unit.
const (
	DefaultScoringMaxTokens   = 2000
	DefaultScoringTemperature = 0.1
	// DefaultMinCacheableTokens is the smallest prompt prefix most providers
	// will cache.
	DefaultMinCacheableTokens = 1024
	// DefaultMetricValue fills a metric the legacy reply format omitted.
	DefaultMetricValue = 50
)

// ScoringConfig defines the configuration parameters for the ScoringUnit.
type ScoringConfig struct {
	// MaxTokens limits the length of the provider reply.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"required,min=256,max=8192"`

	// Temperature controls randomness; low values keep grading consistent.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=1.0"`

	// MinCacheableTokens is the prefix size below which the unit logs that
	// the prompt cache will not engage. Zero disables the check.
	MinCacheableTokens int `yaml:"min_cacheable_tokens" json:"min_cacheable_tokens" validate:"min=0"`
}

// DefaultScoringConfig returns a ScoringConfig with the default values.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxTokens:          DefaultScoringMaxTokens,
		Temperature:        DefaultScoringTemperature,
		MinCacheableTokens: DefaultMinCacheableTokens,
	}
}

// ScoringUnit grades a response set against a rubric with exactly one
// provider call. Levels read from the reply are turned into the weighted
// score and the skill metrics locally, so the provider never does the
// arithmetic. The unit is stateless and safe for concurrent use.
type ScoringUnit struct {
	name      string
	config    ScoringConfig
	llmClient ports.LLMClient
	catalog   *domain.Catalog
	rates     domain.RateTable
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// ScoringOption customises a ScoringUnit.
type ScoringOption func(*ScoringUnit)

// WithScoringRates sets the prices used for cost accounting.
func WithScoringRates(rates domain.RateTable) ScoringOption {
	return func(u *ScoringUnit) { u.rates = rates }
}

// WithScoringLogger sets the unit logger.
func WithScoringLogger(l *logger.Logger) ScoringOption {
	return func(u *ScoringUnit) { u.logger = logger.OrDiscard(l).WithComponent(u.name) }
}

// WithScoringCatalog replaces the built-in rubric catalog.
func WithScoringCatalog(c *domain.Catalog) ScoringOption {
	return func(u *ScoringUnit) {
		if c != nil {
			u.catalog = c
		}
	}
}

// NewScoringUnit creates a scoring unit. The built-in rubric catalog and
// the default rate table are used unless overridden by options.
func NewScoringUnit(llmClient ports.LLMClient, config ScoringConfig, opts ...ScoringOption) (*ScoringUnit, error) {
	if llmClient == nil {
		return nil, ErrNilLLMClient
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid scoring configuration: %w", err)
	}
	catalog, err := domain.BuiltinCatalog()
	if err != nil {
		return nil, fmt.Errorf("load rubric catalog: %w", err)
	}

	u := &ScoringUnit{
		name:      "scoring-unit",
		config:    config,
		llmClient: llmClient,
		catalog:   catalog,
		rates:     domain.DefaultRateTable(),
		logger:    logger.Discard(),
		tracer:    otel.Tracer("scoring-unit"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Name returns the unit identifier used in logs.
func (u *ScoringUnit) Name() string { return u.name }

// Evaluate scores responses against the selected rubric. Input problems
// return *domain.ValidationError; provider failures are returned wrapped so
// their retry classification survives. Reply parsing never fails: missing
// pieces default and are listed in EvaluationResult.Degraded.
func (u *ScoringUnit) Evaluate(
	ctx context.Context,
	itemID string,
	responses domain.ResponseSet,
	subject string,
	sel domain.RubricSelector,
) (*domain.EvaluationResult, error) {
	ctx, span := u.tracer.Start(ctx, "ScoringUnit.Evaluate",
		trace.WithAttributes(
			attribute.String("eval.item_id", itemID),
			attribute.Int("eval.answers_count", len(responses)),
			attribute.Bool("eval.custom_rubric", sel.IsCustom()),
		),
	)
	defer span.End()

	start := u.now()
	log := u.logger.WithItem(itemID)

	subject = domain.NormalizeSubject(subject)
	if err := responses.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid response set")
		return nil, err
	}
	rubricText, phase, err := sel.Resolve(u.catalog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid rubric selector")
		return nil, err
	}
	span.SetAttributes(attribute.Int("eval.phase", int(phase)))

	req, err := BuildRequest(subject, rubricText, phase, responses, u.config.MaxTokens, u.config.Temperature)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unit %s: %w", u.name, err)
	}
	u.checkCacheablePrefix(log, req)

	resp, err := u.llmClient.Complete(ctx, req)
	if err != nil {
		err = fmt.Errorf("unit %s: provider call failed for item %s: %w", u.name, itemID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		return nil, err
	}

	parsed := ParseEvaluationReply(resp.Text)
	result := u.buildResult(log, parsed)
	result.ItemID = itemID
	result.Subject = subject
	result.Phase = phase
	result.RawProviderText = resp.Text

	model := resp.Model
	if model == "" {
		model = u.llmClient.GetModel()
	}
	result.Cost = u.rates.Cost(model, domain.TokenCounts{
		Input:      resp.Usage.Input,
		Output:     resp.Usage.Output,
		CacheWrite: resp.Usage.CacheWrite,
		CacheRead:  resp.Usage.CacheRead,
	})
	result.EvaluatedAt = u.now().UTC()
	result.Latency = result.EvaluatedAt.Sub(start.UTC())

	span.SetAttributes(
		attribute.Int("eval.score", result.Score),
		attribute.Int("eval.tokens_in", result.Cost.InputTokens),
		attribute.Int("eval.tokens_out", result.Cost.OutputTokens),
		attribute.Int("eval.tokens_cache_write", result.Cost.CacheWriteTokens),
		attribute.Int("eval.tokens_cache_read", result.Cost.CacheReadTokens),
		attribute.Int("eval.tokens_total", resp.Usage.Total()),
		attribute.Bool("eval.cache_hit", result.Cost.CacheHit),
		attribute.Float64("eval.cost_usd", result.Cost.CostUSD),
		attribute.Int("eval.degraded_sections", len(result.Degraded)),
	)

	log.Info("evaluation scored",
		"model", model,
		"score", result.Score,
		"input_tokens", result.Cost.InputTokens,
		"output_tokens", result.Cost.OutputTokens,
		"cache_write_tokens", result.Cost.CacheWriteTokens,
		"cache_read_tokens", result.Cost.CacheReadTokens,
		"total_tokens", resp.Usage.Total(),
		"cache_hit", result.Cost.CacheHit,
		"cost_usd", result.Cost.CostUSD,
		"latency_ms", result.Latency.Milliseconds(),
	)
	return result, nil
}

// buildResult turns a parsed reply into scores. When at least one level
// parsed, missing levels default to domain.DefaultLevel. When none did, the
// legacy score and metric lines are used instead.
func (u *ScoringUnit) buildResult(log *logger.Logger, parsed *ParsedReply) *domain.EvaluationResult {
	result := &domain.EvaluationResult{}

	if parsed.LevelCount() > 0 {
		for i, l := range parsed.Levels {
			if !l.Valid() {
				l = domain.DefaultLevel
				result.Degraded = append(result.Degraded, levelField(i))
				log.Debug("level missing from reply, using default",
					"criterion", fmt.Sprintf("Q%d", i+1), "level", int(l))
			}
			result.Levels[i] = l
		}
		result.SubScores = domain.SubScoresFromLevels(result.Levels)
		// Level points are always inside [0,100], so neither call can fail.
		result.Score, _ = domain.WeightedScore(result.SubScores)
		result.SkillMetrics, _ = domain.ComputeSkillMetrics(result.SubScores)
	} else {
		for i := range parsed.Levels {
			result.Degraded = append(result.Degraded, levelField(i))
		}
		log.Debug("no level lines in reply, using score and metric lines")

		if parsed.Score != nil {
			result.Score = domain.ClampInt(*parsed.Score, 0, 100)
		} else {
			result.Degraded = append(result.Degraded, "score")
		}
		var metrics [domain.CriterionCount]int
		for i, m := range parsed.Metrics {
			if m == nil {
				metrics[i] = DefaultMetricValue
				result.Degraded = append(result.Degraded, domain.MetricNames[i])
				continue
			}
			metrics[i] = *m
		}
		result.SkillMetrics = domain.SkillMetricsFromArray(metrics).Clamped()
	}

	for _, s := range Sections {
		if _, ok := parsed.Section(s); !ok {
			result.Degraded = append(result.Degraded, string(s))
			log.Debug("section missing from reply", "section", string(s))
		}
		text := parsed.SectionOrDefault(s)
		switch s {
		case SectionStrengths:
			result.Strengths = text
		case SectionImprovements:
			result.Improvements = text
		case SectionGeneralComments:
			result.GeneralComments = text
		case SectionAnalysis:
			result.Analysis = text
		}
	}
	return result
}

func levelField(i int) string { return fmt.Sprintf("q%d_level", i+1) }

// checkCacheablePrefix logs when the cacheable prefix is too short for the
// provider to cache, which turns every call into a full-price call.
func (u *ScoringUnit) checkCacheablePrefix(log *logger.Logger, req ports.CompletionRequest) {
	if u.config.MinCacheableTokens <= 0 {
		return
	}
	var prefix strings.Builder
	for _, s := range req.SystemSegments {
		if s.Cacheable {
			prefix.WriteString(s.Text)
		}
	}
	n, err := u.llmClient.EstimateTokens(prefix.String())
	if err != nil || n >= u.config.MinCacheableTokens {
		return
	}
	log.Debug("cacheable prompt prefix below provider minimum",
		"estimated_tokens", n, "minimum", u.config.MinCacheableTokens)
}
