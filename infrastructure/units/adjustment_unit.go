package units

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/pkg/logger"
	"github.com/intellego/evalpipe/internal/ports"
)

var _ ports.Adjuster = (*AdjustmentUnit)(nil)

// Default configuration values for the adjustment unit.
const (
	DefaultAdjustmentMaxTokens   = 1200
	DefaultAdjustmentTemperature = 0.2
	DefaultGroundingThreshold    = 0.8
)

// Justifications recorded when the unit itself decides the outcome.
const (
	reasonNoEvaluation      = "no evaluation to adjust"
	reasonProviderFailed    = "adjustment unavailable: provider call failed"
	reasonNoJSON            = "adjustment unavailable: reply carried no JSON object"
	reasonInvalidJSON       = "adjustment unavailable: reply JSON could not be decoded"
	reasonScoreDiscarded    = "score adjustment discarded: justification and evidence are required"
	reasonMetricsDiscarded  = "metric adjustments discarded: justification and evidence are required"
	reasonNoAdjustmentGiven = "no adjustment"
)

// AdjustmentConfig defines the configuration parameters for the AdjustmentUnit.
type AdjustmentConfig struct {
	// MaxTokens limits the length of the provider reply.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"required,min=128,max=8192"`

	// Temperature controls randomness of the review.
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=1.0"`

	// GroundingThreshold is the minimum similarity at which an evidence
	// quote counts as found in the answers.
	GroundingThreshold float64 `yaml:"grounding_threshold" json:"grounding_threshold" validate:"gt=0.0,max=1.0"`
}

// DefaultAdjustmentConfig returns an AdjustmentConfig with the default values.
func DefaultAdjustmentConfig() AdjustmentConfig {
	return AdjustmentConfig{
		MaxTokens:          DefaultAdjustmentMaxTokens,
		Temperature:        DefaultAdjustmentTemperature,
		GroundingThreshold: DefaultGroundingThreshold,
	}
}

// metricDeltaFields mirrors the metric delta object of the reply.
type metricDeltaFields struct {
	Comprehension        float64 `json:"comprehension"`
	CriticalThinking     float64 `json:"criticalThinking"`
	SelfRegulation       float64 `json:"selfRegulation"`
	PracticalApplication float64 `json:"practicalApplication"`
	Metacognition        float64 `json:"metacognition"`
}

func (m *metricDeltaFields) rounded() [domain.CriterionCount]int {
	if m == nil {
		return [domain.CriterionCount]int{}
	}
	return [domain.CriterionCount]int{
		domain.RoundHalfUp(m.Comprehension),
		domain.RoundHalfUp(m.CriticalThinking),
		domain.RoundHalfUp(m.SelfRegulation),
		domain.RoundHalfUp(m.PracticalApplication),
		domain.RoundHalfUp(m.Metacognition),
	}
}

// adjustmentReply is the JSON object the provider returns. The older field
// names "adjustment", "evidenceForAdjustment" and "metricsAdjustment" are
// accepted as well.
type adjustmentReply struct {
	Delta                 *float64           `json:"delta"`
	Adjustment            *float64           `json:"adjustment"`
	Justification         string             `json:"justification" validate:"max=4000"`
	EvidenceQuote         string             `json:"evidenceQuote" validate:"max=2000"`
	EvidenceForAdjustment string             `json:"evidenceForAdjustment" validate:"max=2000"`
	MetricDeltas          *metricDeltaFields `json:"metricDeltas"`
	MetricsAdjustment     *metricDeltaFields `json:"metricsAdjustment"`
	MetricsJustification  string             `json:"metricsJustification" validate:"max=4000"`
}

func (r *adjustmentReply) scoreDelta() int {
	switch {
	case r.Delta != nil:
		return domain.RoundHalfUp(*r.Delta)
	case r.Adjustment != nil:
		return domain.RoundHalfUp(*r.Adjustment)
	default:
		return 0
	}
}

func (r *adjustmentReply) evidence() string {
	if strings.TrimSpace(r.EvidenceQuote) != "" {
		return strings.TrimSpace(r.EvidenceQuote)
	}
	return strings.TrimSpace(r.EvidenceForAdjustment)
}

func (r *adjustmentReply) metricDeltas() [domain.CriterionCount]int {
	if r.MetricDeltas != nil {
		return r.MetricDeltas.rounded()
	}
	return r.MetricsAdjustment.rounded()
}

// AdjustmentUnit runs the second, independent review of a finished
// evaluation. It may move the score by at most domain.MaxScoreDelta and
// each metric by at most domain.MaxMetricDelta, and only with a written
// justification. It never fails: any problem yields a neutral record.
type AdjustmentUnit struct {
	name      string
	config    AdjustmentConfig
	llmClient ports.LLMClient
	rates     domain.RateTable
	logger    *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// AdjustmentOption customises an AdjustmentUnit.
type AdjustmentOption func(*AdjustmentUnit)

// WithAdjustmentRates sets the prices used for cost accounting.
func WithAdjustmentRates(rates domain.RateTable) AdjustmentOption {
	return func(u *AdjustmentUnit) { u.rates = rates }
}

// WithAdjustmentLogger sets the unit logger.
func WithAdjustmentLogger(l *logger.Logger) AdjustmentOption {
	return func(u *AdjustmentUnit) { u.logger = logger.OrDiscard(l).WithComponent(u.name) }
}

// NewAdjustmentUnit creates an adjustment unit.
func NewAdjustmentUnit(llmClient ports.LLMClient, config AdjustmentConfig, opts ...AdjustmentOption) (*AdjustmentUnit, error) {
	if llmClient == nil {
		return nil, ErrNilLLMClient
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid adjustment configuration: %w", err)
	}
	u := &AdjustmentUnit{
		name:      "adjustment-unit",
		config:    config,
		llmClient: llmClient,
		rates:     domain.DefaultRateTable(),
		logger:    logger.Discard(),
		tracer:    otel.Tracer("adjustment-unit"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Name returns the unit identifier used in logs.
func (u *AdjustmentUnit) Name() string { return u.name }

// Adjust reviews eval against the original answers and returns the bounded
// adjustment. The original evaluation is never modified.
func (u *AdjustmentUnit) Adjust(
	ctx context.Context,
	eval *domain.EvaluationResult,
	responses domain.ResponseSet,
	subject string,
) *domain.AdjustmentRecord {
	ctx, span := u.tracer.Start(ctx, "AdjustmentUnit.Adjust")
	defer span.End()

	model := u.llmClient.GetModel()
	if eval == nil {
		span.SetAttributes(attribute.Bool("adjust.neutral", true))
		u.logger.Warn("adjustment skipped", "reason", reasonNoEvaluation)
		return domain.NeutralAdjustment(nil, model, reasonNoEvaluation)
	}

	log := u.logger.WithItem(eval.ItemID)
	span.SetAttributes(
		attribute.String("eval.item_id", eval.ItemID),
		attribute.Int("adjust.original_score", eval.Score),
	)
	if strings.TrimSpace(subject) == "" {
		subject = eval.Subject
	}

	neutral := func(reason string, err error) *domain.AdjustmentRecord {
		if err != nil {
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Bool("adjust.neutral", true))
		log.WithError(err).Warn("adjustment fell back to neutral", "reason", reason)
		return domain.NeutralAdjustment(eval, model, reason)
	}

	req, err := u.buildRequest(eval, responses, subject)
	if err != nil {
		return neutral(reasonProviderFailed, err)
	}
	resp, err := u.llmClient.Complete(ctx, req)
	if err != nil {
		return neutral(reasonProviderFailed, err)
	}

	raw := extractJSON(resp.Text)
	if raw == "" {
		return neutral(reasonNoJSON, ErrNoJSON)
	}
	var reply adjustmentReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return neutral(reasonInvalidJSON, err)
	}
	if err := validate.Struct(reply); err != nil {
		return neutral(reasonInvalidJSON, err)
	}

	if resp.Model != "" {
		model = resp.Model
	}
	cost := u.rates.Cost(model, domain.TokenCounts{
		Input:      resp.Usage.Input,
		Output:     resp.Usage.Output,
		CacheWrite: resp.Usage.CacheWrite,
		CacheRead:  resp.Usage.CacheRead,
	})

	rec := u.applyReply(log, eval, &reply, responses)
	rec.Cost = cost

	span.SetAttributes(
		attribute.Int("adjust.delta", rec.Delta),
		attribute.Int("adjust.adjusted_score", rec.AdjustedScore),
		attribute.Bool("adjust.metrics_adjusted", rec.MetricsWereAdjusted),
		attribute.Bool("adjust.evidence_grounded", rec.EvidenceGrounded),
		attribute.Float64("adjust.cost_usd", cost.CostUSD),
	)
	log.Info("adjustment applied",
		"model", model,
		"original_score", rec.OriginalScore,
		"adjusted_score", rec.AdjustedScore,
		"delta", rec.Delta,
		"metrics_adjusted", rec.MetricsWereAdjusted,
		"evidence_grounded", rec.EvidenceGrounded,
		"cache_hit", cost.CacheHit,
		"cost_usd", cost.CostUSD,
	)
	return rec
}

// applyReply enforces the justification rule and the bounds, then builds
// the record from the effective deltas.
func (u *AdjustmentUnit) applyReply(
	log *logger.Logger,
	eval *domain.EvaluationResult,
	reply *adjustmentReply,
	responses domain.ResponseSet,
) *domain.AdjustmentRecord {
	scoreDelta := reply.scoreDelta()
	justification := strings.TrimSpace(reply.Justification)
	evidence := reply.evidence()
	if scoreDelta != 0 && (justification == "" || evidence == "") {
		log.Warn("score adjustment without justification discarded", "requested", scoreDelta)
		scoreDelta = 0
		justification = reasonScoreDiscarded
	}

	metricDeltas := reply.metricDeltas()
	metricsJustification := strings.TrimSpace(reply.MetricsJustification)
	if metricDeltas != ([domain.CriterionCount]int{}) && (metricsJustification == "" || evidence == "") {
		log.Warn("metric adjustments without justification discarded", "requested", metricDeltas)
		metricDeltas = [domain.CriterionCount]int{}
		metricsJustification = reasonMetricsDiscarded
	}

	score, metrics, effScore, effMetrics, clamped := domain.ApplyAdjustment(
		eval.Score, eval.SkillMetrics, scoreDelta, metricDeltas)
	for _, field := range clamped {
		requested, applied := scoreDelta, domain.ClampInt(scoreDelta, -domain.MaxScoreDelta, domain.MaxScoreDelta)
		for i, name := range domain.MetricNames {
			if name == field {
				requested = metricDeltas[i]
				applied = domain.ClampInt(requested, -domain.MaxMetricDelta, domain.MaxMetricDelta)
			}
		}
		log.Warn("adjustment outside bounds clamped",
			"field", field, "requested", requested, "applied", applied)
	}

	var metricsAdjusted bool
	for _, d := range effMetrics {
		if d != 0 {
			metricsAdjusted = true
			break
		}
	}

	if justification == "" && metricsAdjusted {
		justification = metricsJustification
	}
	if justification == "" {
		justification = reasonNoAdjustmentGiven
	}
	if evidence == "" {
		evidence = domain.NeutralEvidence
	}

	return &domain.AdjustmentRecord{
		ItemID:               eval.ItemID,
		OriginalScore:        eval.Score,
		AdjustedScore:        score,
		Delta:                effScore,
		Justification:        justification,
		EvidenceQuote:        evidence,
		EvidenceGrounded:     isGrounded(evidence, responses, u.config.GroundingThreshold),
		OriginalMetrics:      eval.SkillMetrics,
		AdjustedMetrics:      metrics,
		PerMetricDelta:       effMetrics,
		MetricsJustification: metricsJustification,
		MetricsWereAdjusted:  metricsAdjusted,
		AppliedAt:            u.now().UTC(),
	}
}

// isGrounded reports whether quote appears in the answers, either verbatim
// after folding or as an answer window within the similarity threshold.
func isGrounded(quote string, responses domain.ResponseSet, threshold float64) bool {
	q := foldString(strings.Trim(quote, "\"'“”«»…. "))
	if q == "" || q == foldString(domain.NeutralEvidence) {
		return false
	}
	qRunes := utf8.RuneCountInString(q)

	for _, item := range responses {
		answer := foldString(item.AnswerText)
		if strings.Contains(answer, q) {
			return true
		}
		a := []rune(answer)
		if len(a) <= qRunes {
			if similarity(q, answer) >= threshold {
				return true
			}
			continue
		}
		step := 1
		if qRunes > 64 {
			step = qRunes / 16
		}
		for i := 0; i+qRunes <= len(a); i += step {
			if similarity(q, string(a[i:i+qRunes])) >= threshold {
				return true
			}
		}
	}
	return false
}

const adjustmentSystemPrompt = `You are a senior teacher reviewing a strict rubric-based evaluation of a reflective weekly report.

Your job is to decide whether the strict score is fair for a REFLECTIVE report, separating genuine reflection from superficial answers:
- Honest reflection on difficulties counts even when the writing is informal.
- Depth of thinking matters more than the number of words.
- Poor expression is not lack of understanding.
- Generic answers without reflection or copied text do not deserve credit.

Adjustment rules:
1. The score may move by at most -10 to +10 points.
2. Each skill metric may move by at most -15 to +15 points.
3. Every non-zero adjustment needs a justification and a literal quote from the student's answers.
4. When in doubt, adjust less or not at all.

Reply ONLY with a JSON object, no markdown:
{
  "delta": number,
  "justification": string,
  "evidenceQuote": string,
  "metricDeltas": {
    "comprehension": number,
    "criticalThinking": number,
    "selfRegulation": number,
    "practicalApplication": number,
    "metacognition": number
  },
  "metricsJustification": string
}
Use 0 for anything you do not adjust.`

var adjustmentUserTemplate = template.Must(template.New("adjustment-user").Funcs(GetTemplateFuncMap()).Parse(
	`ORIGINAL EVALUATION (strict rubric):
Score: {{.Eval.Score}}/100
Levels:{{range $i, $l := .Eval.Levels}} Q{{add $i 1}}={{printf "%d" $l}}{{end}}

Skill metrics:
- comprehension: {{.Eval.SkillMetrics.Comprehension}}/100
- criticalThinking: {{.Eval.SkillMetrics.CriticalThinking}}/100
- selfRegulation: {{.Eval.SkillMetrics.SelfRegulation}}/100
- practicalApplication: {{.Eval.SkillMetrics.PracticalApplication}}/100
- metacognition: {{.Eval.SkillMetrics.Metacognition}}/100

Strengths:
{{.Eval.Strengths}}

Improvements:
{{.Eval.Improvements}}

---

STUDENT ANSWERS ({{.Subject}}):
{{range $i, $a := .Answers}}
Q{{add $i 1}}: {{trim $a.QuestionText}}
A{{add $i 1}}: {{orDefault (truncate (trim $a.AnswerText) $.MaxAnswerRunes) "(no answer)"}}
{{end}}
---

Review whether {{.Eval.Score}}/100 and the metrics are fair for a reflective report and reply with the adjustment JSON.`))

func (u *AdjustmentUnit) buildRequest(
	eval *domain.EvaluationResult,
	responses domain.ResponseSet,
	subject string,
) (ports.CompletionRequest, error) {
	data := struct {
		Eval           *domain.EvaluationResult
		Answers        domain.ResponseSet
		Subject        string
		MaxAnswerRunes int
	}{eval, responses, subject, maxAnswerRunes}

	var buf bytes.Buffer
	if err := adjustmentUserTemplate.Execute(&buf, data); err != nil {
		return ports.CompletionRequest{}, fmt.Errorf("failed to render adjustment prompt: %w", err)
	}
	return ports.CompletionRequest{
		SystemSegments: []ports.Segment{{Text: adjustmentSystemPrompt, Cacheable: true}},
		UserMessage:    buf.String(),
		MaxTokens:      u.config.MaxTokens,
		Temperature:    ports.Float64(u.config.Temperature),
	}, nil
}
