package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightedScore(t *testing.T) {
	tests := []struct {
		name string
		sub  SubScores
		want int
	}{
		{name: "half rounds up", sub: SubScores{80, 90, 70, 60, 50}, want: 74},
		{name: "all excellent", sub: SubScores{92.5, 92.5, 92.5, 92.5, 92.5}, want: 93},
		{name: "all initial", sub: SubScores{27, 27, 27, 27, 27}, want: 27},
		{name: "mixed levels", sub: SubScores{92.5, 77, 62, 27, 62}, want: 66},
		{name: "zeros", sub: SubScores{}, want: 0},
		{name: "maximum", sub: SubScores{100, 100, 100, 100, 100}, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WeightedScore(tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWeightedScore_BoundsOverAllLevelCombinations(t *testing.T) {
	levels := []Level{LevelInitial, LevelDeveloping, LevelGood, LevelExcellent}
	for _, a := range levels {
		for _, b := range levels {
			for _, c := range levels {
				for _, d := range levels {
					for _, e := range levels {
						sub := SubScoresFromLevels([CriterionCount]Level{a, b, c, d, e})
						score, err := WeightedScore(sub)
						require.NoError(t, err)
						assert.GreaterOrEqual(t, score, 0)
						assert.LessOrEqual(t, score, 100)

						m, err := ComputeSkillMetrics(sub)
						require.NoError(t, err)
						for _, v := range m.AsArray() {
							assert.GreaterOrEqual(t, v, 0)
							assert.LessOrEqual(t, v, 100)
						}
					}
				}
			}
		}
	}
}

func TestWeightedScore_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		sub  SubScores
	}{
		{name: "above 100", sub: SubScores{101, 50, 50, 50, 50}},
		{name: "negative", sub: SubScores{50, 50, -0.5, 50, 50}},
		{name: "NaN", sub: SubScores{50, 50, 50, math.NaN(), 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WeightedScore(tt.sub)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.True(t, errors.Is(err, ErrSubScoreOutOfRange))
			assert.Len(t, verr.Errors, 1)
		})
	}
}

func TestComputeSkillMetrics(t *testing.T) {
	// Given the sub-scores from the weighted score example
	sub := SubScores{80, 90, 70, 60, 50}

	// When deriving skill metrics
	m, err := ComputeSkillMetrics(sub)
	require.NoError(t, err)

	// Then each metric follows its normalised linear formula
	assert.Equal(t, 84, m.Comprehension, "(80*0.4+90*0.3)/0.7 = 84.28")
	assert.Equal(t, 76, m.CriticalThinking, "(80*0.6+70*0.4)/1.0 = 76")
	assert.Equal(t, 56, m.SelfRegulation, "(60*0.5+50*0.4)/0.9 = 55.56")
	assert.Equal(t, 81, m.PracticalApplication, "(90*0.7+70*0.6)/1.3 = 80.77")
	assert.Equal(t, 55, m.Metacognition, "(60*0.5+50*0.6)/1.1 = 54.55")
}

func TestComputeSkillMetrics_RejectsOutOfRange(t *testing.T) {
	_, err := ComputeSkillMetrics(SubScores{0, 0, 0, 0, 200})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSubScoreOutOfRange))
}

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{73.5, 74},
		{73.49, 73},
		{84.2857, 84},
		{0.5, 1},
		{0, 0},
		{99.5, 100},
		// 0.1*3 style float error must not flip a half down.
		{0.1 + 0.2 + 72.2, 73},
		{-7.5, -7},
		{1e19, 1e9},
		{-1e19, -1e9},
		{math.Inf(1), 1e9},
		{math.Inf(-1), -1e9},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundHalfUp(tt.in), "RoundHalfUp(%v)", tt.in)
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		level  Level
		points float64
		rng    LevelRange
		name   string
	}{
		{LevelExcellent, 92.5, LevelRange{85, 100}, "Excellent"},
		{LevelGood, 77, LevelRange{70, 84}, "Good"},
		{LevelDeveloping, 62, LevelRange{55, 69}, "Developing"},
		{LevelInitial, 27, LevelRange{0, 54}, "Initial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.level.Valid())
			assert.Equal(t, tt.points, tt.level.Points())
			assert.Equal(t, tt.rng, tt.level.Range())
			assert.Equal(t, tt.name, tt.level.String())
		})
	}

	t.Run("parse rejects out of range", func(t *testing.T) {
		_, err := ParseLevel(5)
		assert.True(t, errors.Is(err, ErrInvalidLevel))

		l, err := ParseLevel(3)
		require.NoError(t, err)
		assert.Equal(t, LevelGood, l)
	})
}

func TestPhaseValidate(t *testing.T) {
	for p := Phase(1); p <= 4; p++ {
		assert.NoError(t, p.Validate(), "phase %d", p)
	}
	for _, p := range []Phase{0, 5, -1} {
		err := p.Validate()
		require.Error(t, err, "phase %d", p)
		assert.True(t, errors.Is(err, ErrInvalidPhase))
	}
}

func TestCriterionWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range CriterionWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestSkillMetricsArrayRoundTrip(t *testing.T) {
	m := SkillMetrics{1, 2, 3, 4, 5}
	assert.Equal(t, m, SkillMetricsFromArray(m.AsArray()))
	assert.Equal(t, SkillMetrics{0, 100, 3, 4, 5}, SkillMetrics{-4, 140, 3, 4, 5}.Clamped())
}
