package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/ports/mocks"
	"github.com/intellego/evalpipe/internal/testutils"
)

func evaluationFor(itemID string) *domain.EvaluationResult {
	return &domain.EvaluationResult{
		ItemID:  itemID,
		Subject: "chemistry",
		Phase:   domain.PhaseTools,
		Score:   73,
		Cost:    domain.CostInfo{CostUSD: 0.002, Model: "claude-haiku-4-5", InputTokens: 1000, OutputTokens: 200},
		Latency: time.Second,
	}
}

func TestEvaluationKey(t *testing.T) {
	answers := testutils.SampleResponseSet()
	base := EvaluationKey("m", "chemistry", "rubric", answers)

	assert.Equal(t, base, EvaluationKey("m", "chemistry", "rubric", testutils.SampleResponseSet()), "deterministic")
	assert.Len(t, base, len("eval:")+64)

	changed := testutils.SampleResponseSet()
	changed[0].AnswerText += "!"
	for name, key := range map[string]string{
		"model":   EvaluationKey("m2", "chemistry", "rubric", answers),
		"subject": EvaluationKey("m", "physics", "rubric", answers),
		"rubric":  EvaluationKey("m", "chemistry", "rubric2", answers),
		"answers": EvaluationKey("m", "chemistry", "rubric", changed),
	} {
		assert.NotEqual(t, base, key, name)
	}

	// Field boundaries are part of the hash.
	assert.NotEqual(t, EvaluationKey("ab", "c", "", nil), EvaluationKey("a", "bc", "", nil))
}

func TestCachingEvaluator_HitAndMiss(t *testing.T) {
	// Given a caching evaluator over a mock evaluator
	ctrl := gomock.NewController(t)
	next := mocks.NewMockEvaluator(ctrl)
	cache := NewMemoryCache()
	ce := NewCachingEvaluator(next, cache, nil, "claude-haiku-4-5", time.Hour, nil)
	ctx := context.Background()
	answers := testutils.SampleResponseSet()
	selector := domain.PhaseSelector(domain.PhaseTools)

	next.EXPECT().
		Evaluate(gomock.Any(), "item-1", answers, "chemistry", selector).
		Return(evaluationFor("item-1"), nil).
		Times(1)

	// When the same answers are evaluated twice under different item IDs
	first, err := ce.Evaluate(ctx, "item-1", answers, "chemistry", selector)
	require.NoError(t, err)
	second, err := ce.Evaluate(ctx, "item-2", answers, "chemistry", selector)
	require.NoError(t, err)

	// Then the provider ran once and the cached copy is free
	assert.InDelta(t, 0.002, first.Cost.CostUSD, 1e-12)
	assert.Equal(t, "item-2", second.ItemID)
	assert.Equal(t, 73, second.Score)
	assert.Zero(t, second.Cost.CostUSD)
	assert.Zero(t, second.Cost.InputTokens)
	assert.Equal(t, "claude-haiku-4-5", second.Cost.Model)
	assert.Zero(t, second.Latency)
	assert.Equal(t, 1, cache.Len())
}

func TestCachingEvaluator_DoesNotCache(t *testing.T) {
	tests := []struct {
		name   string
		result *domain.EvaluationResult
		err    error
	}{
		{
			name: "errors",
			err:  errors.New("provider down"),
		},
		{
			name: "degraded results",
			result: func() *domain.EvaluationResult {
				r := evaluationFor("item-1")
				r.Degraded = []string{"analysis"}
				return r
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			next := mocks.NewMockEvaluator(ctrl)
			cache := NewMemoryCache()
			ce := NewCachingEvaluator(next, cache, nil, "m", 0, nil)

			next.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(tt.result, tt.err).
				Times(2)

			for range 2 {
				_, err := ce.Evaluate(context.Background(), "item-1", testutils.SampleResponseSet(), "s", domain.PhaseSelector(1))
				assert.Equal(t, tt.err, err)
			}
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestCachingEvaluator_InvalidSelectorDelegates(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockEvaluator(ctrl)
	ce := NewCachingEvaluator(next, NewMemoryCache(), nil, "m", 0, nil)
	verr := &domain.ValidationError{Entity: "rubric_selector"}

	next.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, verr)

	_, err := ce.Evaluate(context.Background(), "item", testutils.SampleResponseSet(), "s", domain.RubricSelector{})
	assert.ErrorIs(t, err, verr)
}

func TestCachingEvaluator_CorruptedEntryIsDropped(t *testing.T) {
	// Given a corrupted cache entry for the request
	ctrl := gomock.NewController(t)
	next := mocks.NewMockEvaluator(ctrl)
	cache := NewMemoryCache()
	ce := NewCachingEvaluator(next, cache, nil, "m", 0, nil)
	ctx := context.Background()
	answers := testutils.SampleResponseSet()

	rubricText, _, err := domain.PhaseSelector(1).Resolve(domain.MustBuiltinCatalog())
	require.NoError(t, err)
	key := EvaluationKey("m", domain.DefaultSubject, rubricText, answers)
	require.NoError(t, cache.Set(ctx, key, []byte("{not json"), 0))

	next.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(evaluationFor("item-1"), nil)

	// When it is evaluated with no subject
	got, err := ce.Evaluate(ctx, "item-1", answers, "", domain.PhaseSelector(1))

	// Then the evaluator ran and the entry was replaced
	require.NoError(t, err)
	assert.Equal(t, 73, got.Score)
	data, ok, _ := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Contains(t, string(data), `"score":73`)
}

func TestCachingEvaluator_BlankSubjectSharesDefaultEntry(t *testing.T) {
	// Given a caching evaluator whose evaluator may run only once
	ctrl := gomock.NewController(t)
	next := mocks.NewMockEvaluator(ctrl)
	ce := NewCachingEvaluator(next, NewMemoryCache(), nil, "m", time.Hour, nil)
	ctx := context.Background()
	answers := testutils.SampleResponseSet()

	next.EXPECT().Evaluate(gomock.Any(), "item-1", gomock.Any(), domain.DefaultSubject, gomock.Any()).
		Return(evaluationFor("item-1"), nil).
		Times(1)

	// When a whitespace-only subject and the default subject are evaluated
	_, err := ce.Evaluate(ctx, "item-1", answers, "   ", domain.PhaseSelector(1))
	require.NoError(t, err)
	got, err := ce.Evaluate(ctx, "item-2", answers, domain.DefaultSubject, domain.PhaseSelector(1))

	// Then both resolve to the same cache entry
	require.NoError(t, err)
	assert.Equal(t, "item-2", got.ItemID)
	assert.Zero(t, got.Cost.CostUSD)
}
