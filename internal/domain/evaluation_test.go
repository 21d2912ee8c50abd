package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyAdjustment(t *testing.T) {
	metrics := SkillMetrics{50, 60, 70, 80, 90}

	tests := []struct {
		name          string
		origScore     int
		scoreDelta    int
		metricDeltas  [CriterionCount]int
		wantScore     int
		wantEffScore  int
		wantMetrics   SkillMetrics
		wantEffMetric [CriterionCount]int
		wantClamped   []string
	}{
		{
			name:          "within bounds",
			origScore:     70,
			scoreDelta:    5,
			metricDeltas:  [CriterionCount]int{1, -2, 3, 0, 0},
			wantScore:     75,
			wantEffScore:  5,
			wantMetrics:   SkillMetrics{51, 58, 73, 80, 90},
			wantEffMetric: [CriterionCount]int{1, -2, 3, 0, 0},
		},
		{
			name:          "score delta clamped then range clamped",
			origScore:     98,
			scoreDelta:    25,
			wantScore:     100,
			wantEffScore:  2,
			wantMetrics:   metrics,
			wantClamped:   []string{"score"},
			wantEffMetric: [CriterionCount]int{},
		},
		{
			name:          "negative clamp at zero",
			origScore:     4,
			scoreDelta:    -10,
			wantScore:     0,
			wantEffScore:  -4,
			wantMetrics:   metrics,
			wantEffMetric: [CriterionCount]int{},
		},
		{
			name:          "metric deltas clamped",
			origScore:     60,
			metricDeltas:  [CriterionCount]int{40, -40, 0, 0, 15},
			wantScore:     60,
			wantEffScore:  0,
			wantMetrics:   SkillMetrics{65, 45, 70, 80, 100},
			wantEffMetric: [CriterionCount]int{15, -15, 0, 0, 10},
			wantClamped:   []string{"comprehension", "criticalThinking"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, m, eff, effM, clamped := ApplyAdjustment(tt.origScore, metrics, tt.scoreDelta, tt.metricDeltas)

			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantEffScore, eff)
			assert.Equal(t, tt.wantMetrics, m)
			assert.Equal(t, tt.wantEffMetric, effM)
			assert.Equal(t, tt.wantClamped, clamped)
			assert.LessOrEqual(t, abs(score-tt.origScore), MaxScoreDelta)
		})
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestNeutralAdjustment(t *testing.T) {
	eval := &EvaluationResult{ItemID: "item-1", Score: 74, SkillMetrics: SkillMetrics{84, 76, 56, 81, 55}}

	rec := NeutralAdjustment(eval, "claude-haiku", "provider unavailable")

	assert.True(t, rec.Neutral)
	assert.Equal(t, "item-1", rec.ItemID)
	assert.Equal(t, 74, rec.OriginalScore)
	assert.Equal(t, 74, rec.AdjustedScore)
	assert.Equal(t, 0, rec.Delta)
	assert.Equal(t, eval.SkillMetrics, rec.AdjustedMetrics)
	assert.Equal(t, NeutralEvidence, rec.EvidenceQuote)
	assert.Equal(t, "provider unavailable", rec.Justification)
	assert.Equal(t, "claude-haiku", rec.Cost.Model)
	assert.Zero(t, rec.Cost.CostUSD)
	assert.False(t, rec.MetricsWereAdjusted)
	assert.False(t, rec.AppliedAt.IsZero())
}

func TestNeutralAdjustment_NilEvaluation(t *testing.T) {
	rec := NeutralAdjustment(nil, "m", "no evaluation")
	assert.True(t, rec.Neutral)
	assert.Equal(t, 0, rec.AdjustedScore)
}

func TestEvaluationResultIsDegraded(t *testing.T) {
	e := &EvaluationResult{}
	assert.False(t, e.IsDegraded())
	e.Degraded = append(e.Degraded, "STRENGTHS")
	assert.True(t, e.IsDegraded())
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"chemistry", "chemistry"},
		{"  physics \n", "physics"},
		{"", DefaultSubject},
		{"   \t", DefaultSubject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSubject(tt.in), "%q", tt.in)
	}
}
