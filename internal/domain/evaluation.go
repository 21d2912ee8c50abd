package domain

import (
	"strings"
	"time"
)

// NotSpecified is the default for any text section missing from a reply.
const NotSpecified = "not specified"

// DefaultSubject is used when an evaluation names no subject.
const DefaultSubject = "general"

// NormalizeSubject trims subject and substitutes DefaultSubject when
// nothing is left.
func NormalizeSubject(subject string) string {
	if s := strings.TrimSpace(subject); s != "" {
		return s
	}
	return DefaultSubject
}

// NeutralEvidence marks the evidence of an adjustment that did not run.
const NeutralEvidence = "N/A"

// Adjustment bounds. They are enforced locally regardless of what the
// provider replies.
const (
	MaxScoreDelta  = 10
	MaxMetricDelta = 15
)

// EvaluationResult is the first-pass evaluation of one response set. It is
// created once by the scoring unit and never mutated afterwards.
type EvaluationResult struct {
	ItemID          string                 `json:"itemId"`
	Subject         string                 `json:"subject"`
	Phase           Phase                  `json:"phase,omitempty"`
	Score           int                    `json:"score"`
	SubScores       SubScores              `json:"subScores"`
	Levels          [CriterionCount]Level  `json:"levels"`
	SkillMetrics    SkillMetrics           `json:"skillMetrics"`
	Strengths       string                 `json:"strengths"`
	Improvements    string                 `json:"improvements"`
	GeneralComments string                 `json:"generalComments"`
	Analysis        string                 `json:"analysis"`
	RawProviderText string                 `json:"rawProviderText"`
	Cost            CostInfo               `json:"cost"`
	Latency         time.Duration          `json:"latency"`
	EvaluatedAt     time.Time              `json:"evaluatedAt"`
	// Degraded names every section that fell back to its default.
	Degraded []string `json:"degraded,omitempty"`
}

// IsDegraded reports whether any section of the reply was missing.
func (e *EvaluationResult) IsDegraded() bool { return len(e.Degraded) > 0 }

// AdjustmentRecord is the bounded outcome of the contextual adjustment pass.
type AdjustmentRecord struct {
	ItemID               string              `json:"itemId"`
	OriginalScore        int                 `json:"originalScore"`
	AdjustedScore        int                 `json:"adjustedScore"`
	Delta                int                 `json:"delta"`
	Justification        string              `json:"justification"`
	EvidenceQuote        string              `json:"evidenceQuote"`
	EvidenceGrounded     bool                `json:"evidenceGrounded"`
	OriginalMetrics      SkillMetrics        `json:"originalMetrics"`
	AdjustedMetrics      SkillMetrics        `json:"adjustedMetrics"`
	PerMetricDelta       [CriterionCount]int `json:"perMetricDelta"`
	MetricsJustification string              `json:"metricsJustification,omitempty"`
	MetricsWereAdjusted  bool                `json:"metricsWereAdjusted"`
	Cost                 CostInfo            `json:"cost"`
	AppliedAt            time.Time           `json:"appliedAt"`
	// Neutral is set when the record is the zero-delta fallback.
	Neutral bool `json:"neutral"`
}

// NeutralAdjustment builds the zero-delta record that stands in for an
// adjustment that failed or was skipped. The original evaluation stands.
func NeutralAdjustment(eval *EvaluationResult, model, reason string) *AdjustmentRecord {
	rec := &AdjustmentRecord{
		Justification: reason,
		EvidenceQuote: NeutralEvidence,
		Cost:          CostInfo{Model: model},
		AppliedAt:     time.Now().UTC(),
		Neutral:       true,
	}
	if eval != nil {
		rec.ItemID = eval.ItemID
		rec.OriginalScore = eval.Score
		rec.AdjustedScore = eval.Score
		rec.OriginalMetrics = eval.SkillMetrics
		rec.AdjustedMetrics = eval.SkillMetrics
	}
	return rec
}

// ApplyAdjustment clamps the requested deltas to their bounds, applies them
// to the original values and returns the effective deltas. The returned
// clamped flags report which requested values were out of bounds.
func ApplyAdjustment(
	origScore int,
	origMetrics SkillMetrics,
	scoreDelta int,
	metricDeltas [CriterionCount]int,
) (score int, metrics SkillMetrics, effScore int, effMetrics [CriterionCount]int, clamped []string) {
	d := ClampInt(scoreDelta, -MaxScoreDelta, MaxScoreDelta)
	if d != scoreDelta {
		clamped = append(clamped, "score")
	}
	score = ClampInt(origScore+d, 0, 100)
	effScore = score - origScore

	orig := origMetrics.AsArray()
	var adj [CriterionCount]int
	for i, md := range metricDeltas {
		c := ClampInt(md, -MaxMetricDelta, MaxMetricDelta)
		if c != md {
			clamped = append(clamped, MetricNames[i])
		}
		adj[i] = ClampInt(orig[i]+c, 0, 100)
		effMetrics[i] = adj[i] - orig[i]
	}
	return score, SkillMetricsFromArray(adj), effScore, effMetrics, clamped
}
