package domain

import (
	"fmt"
	"math"
	"strings"
)

// Phase selects one of the four built-in rubric variants.
type Phase int

// The four built-in phases of the critical-thinking methodology.
const (
	PhaseProblemIdentification Phase = 1
	PhaseVariables             Phase = 2
	PhaseTools                 Phase = 3
	PhaseStrategy              Phase = 4
)

// Validate returns a ValidationError when the phase is outside 1..4.
func (p Phase) Validate() error {
	if p < PhaseProblemIdentification || p > PhaseStrategy {
		return newValidationErrorf("phase", ErrInvalidPhase, "phase must be between 1 and 4, got %d", int(p))
	}
	return nil
}

// Level is a discrete performance level for a single criterion.
type Level int

// Performance levels, ordered from weakest to strongest.
const (
	LevelInitial    Level = 1
	LevelDeveloping Level = 2
	LevelGood       Level = 3
	LevelExcellent  Level = 4
)

// DefaultLevel is assumed for a criterion whose level could not be read
// from a provider reply.
const DefaultLevel = LevelDeveloping

// LevelRange is the inclusive percentage band a level represents.
type LevelRange struct {
	Min, Max float64
}

var levelPoints = map[Level]float64{
	LevelExcellent:  92.5,
	LevelGood:       77,
	LevelDeveloping: 62,
	LevelInitial:    27,
}

var levelRanges = map[Level]LevelRange{
	LevelExcellent:  {Min: 85, Max: 100},
	LevelGood:       {Min: 70, Max: 84},
	LevelDeveloping: {Min: 55, Max: 69},
	LevelInitial:    {Min: 0, Max: 54},
}

var levelDescriptors = map[Level]string{
	LevelExcellent:  "Excellent",
	LevelGood:       "Good",
	LevelDeveloping: "Developing",
	LevelInitial:    "Initial",
}

// Valid reports whether the level is one of the four defined levels.
func (l Level) Valid() bool { return l >= LevelInitial && l <= LevelExcellent }

// Points returns the representative point value of the level.
// Invalid levels return 0.
func (l Level) Points() float64 { return levelPoints[l] }

// Range returns the percentage band of the level.
func (l Level) Range() LevelRange { return levelRanges[l] }

// String returns the human-readable descriptor of the level.
func (l Level) String() string {
	if d, ok := levelDescriptors[l]; ok {
		return d
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel converts an integer into a Level, rejecting values outside 1..4.
func ParseLevel(n int) (Level, error) {
	l := Level(n)
	if !l.Valid() {
		return 0, newValidationErrorf("level", ErrInvalidLevel, "level must be between 1 and 4, got %d", n)
	}
	return l, nil
}

// CriterionCount is the fixed number of criteria in every rubric.
const CriterionCount = 5

// CriterionWeights holds the fixed weights of Q1..Q5. They sum to 1.0.
var CriterionWeights = [CriterionCount]float64{0.25, 0.25, 0.20, 0.20, 0.10}

// SubScores holds the five criterion sub-scores, each on a 0-100 scale.
type SubScores [CriterionCount]float64

// SubScoresFromLevels maps five levels to their representative points.
func SubScoresFromLevels(levels [CriterionCount]Level) SubScores {
	var s SubScores
	for i, l := range levels {
		s[i] = l.Points()
	}
	return s
}

// Validate returns a ValidationError listing every sub-score outside [0,100].
func (s SubScores) Validate() error {
	verr := NewValidationError("sub_scores")
	verr.Err = ErrSubScoreOutOfRange
	for i, q := range s {
		if math.IsNaN(q) || q < 0 || q > 100 {
			verr.AddError(fmt.Sprintf("Q%d=%v is outside [0,100]", i+1, q))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// roundingEpsilon absorbs binary floating point error so that values such
// as 73.49999999999999 produced by an exact-half sum still round up.
const roundingEpsilon = 1e-9

// roundingLimit bounds the magnitude RoundHalfUp converts, well inside the
// int range and far beyond any score, metric or delta.
const roundingLimit = 1e9

// RoundHalfUp rounds x to the nearest integer, with halves rounded up.
// Values beyond ±1e9 saturate at that bound and NaN rounds to 0, so a
// huge provider number keeps its sign through later clamping.
func RoundHalfUp(x float64) int {
	switch {
	case math.IsNaN(x):
		return 0
	case x >= roundingLimit:
		return int(roundingLimit)
	case x <= -roundingLimit:
		return -int(roundingLimit)
	}
	return int(math.Floor(x + 0.5 + roundingEpsilon))
}

// ClampInt restricts v to [lo, hi].
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WeightedScore computes round(Σ q_i·w_i) clamped to [0,100].
func WeightedScore(sub SubScores) (int, error) {
	if err := sub.Validate(); err != nil {
		return 0, err
	}
	var total float64
	for i, q := range sub {
		total += q * CriterionWeights[i]
	}
	return ClampInt(RoundHalfUp(total), 0, 100), nil
}

// SkillMetrics are the five normalised transversal skill scores.
type SkillMetrics struct {
	Comprehension        int `json:"comprehension" yaml:"comprehension"`
	CriticalThinking     int `json:"criticalThinking" yaml:"critical_thinking"`
	SelfRegulation       int `json:"selfRegulation" yaml:"self_regulation"`
	PracticalApplication int `json:"practicalApplication" yaml:"practical_application"`
	Metacognition        int `json:"metacognition" yaml:"metacognition"`
}

// MetricNames lists the skill metrics in canonical order.
var MetricNames = [CriterionCount]string{
	"comprehension",
	"criticalThinking",
	"selfRegulation",
	"practicalApplication",
	"metacognition",
}

// AsArray returns the metrics in MetricNames order.
func (m SkillMetrics) AsArray() [CriterionCount]int {
	return [CriterionCount]int{
		m.Comprehension,
		m.CriticalThinking,
		m.SelfRegulation,
		m.PracticalApplication,
		m.Metacognition,
	}
}

// SkillMetricsFromArray is the inverse of AsArray.
func SkillMetricsFromArray(a [CriterionCount]int) SkillMetrics {
	return SkillMetrics{
		Comprehension:        a[0],
		CriticalThinking:     a[1],
		SelfRegulation:       a[2],
		PracticalApplication: a[3],
		Metacognition:        a[4],
	}
}

// Clamped returns a copy with every metric restricted to [0,100].
func (m SkillMetrics) Clamped() SkillMetrics {
	a := m.AsArray()
	for i := range a {
		a[i] = ClampInt(a[i], 0, 100)
	}
	return SkillMetricsFromArray(a)
}

// metricFormula is a linear combination over the five sub-scores.
type metricFormula [CriterionCount]float64

// skillFormulas are indexed in MetricNames order. Each row is normalised by
// the sum of its own coefficients.
var skillFormulas = [CriterionCount]metricFormula{
	{0.4, 0.3, 0, 0, 0},
	{0.6, 0, 0.4, 0, 0},
	{0, 0, 0, 0.5, 0.4},
	{0, 0.7, 0.6, 0, 0},
	{0, 0, 0, 0.5, 0.6},
}

func (f metricFormula) apply(sub SubScores) int {
	var num, den float64
	for i, c := range f {
		num += sub[i] * c
		den += c
	}
	return ClampInt(RoundHalfUp(num/den), 0, 100)
}

// ComputeSkillMetrics derives the five skill metrics from the sub-scores.
func ComputeSkillMetrics(sub SubScores) (SkillMetrics, error) {
	if err := sub.Validate(); err != nil {
		return SkillMetrics{}, err
	}
	var out [CriterionCount]int
	for i, f := range skillFormulas {
		out[i] = f.apply(sub)
	}
	return SkillMetricsFromArray(out), nil
}

// Criterion is one weighted rubric dimension with four level descriptors.
type Criterion struct {
	ID     string           `yaml:"id"`
	Title  string           `yaml:"title"`
	Weight float64          `yaml:"weight"`
	Levels map[Level]string `yaml:"levels"`
}

// Rubric is a read-only phase rubric.
type Rubric struct {
	Phase    Phase       `yaml:"phase"`
	Title    string      `yaml:"title"`
	Focus    string      `yaml:"focus"`
	Criteria []Criterion `yaml:"criteria"`
}

// Text renders the rubric as prompt text, one section per criterion with
// levels listed from strongest to weakest.
func (r *Rubric) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# RUBRIC PHASE %d: %s\n\n", int(r.Phase), r.Title)
	if r.Focus != "" {
		fmt.Fprintf(&b, "## Methodological focus\n%s\n", r.Focus)
	}
	for _, c := range r.Criteria {
		fmt.Fprintf(&b, "\n## %s: %s (weight: %.0f%%)\n", c.ID, c.Title, c.Weight*100)
		for l := LevelExcellent; l >= LevelInitial; l-- {
			rg := l.Range()
			fmt.Fprintf(&b, "- Level %d (%.0f-%.0f points -> %g): %s\n",
				int(l), rg.Min, rg.Max, l.Points(), c.Levels[l])
		}
	}
	return b.String()
}
