package ports

import (
	"context"

	"github.com/intellego/evalpipe/internal/domain"
)

//go:generate mockgen -source=./evaluation.go -destination=./mocks/evaluation.mock.go -package=mocks

// Evaluator produces the first-pass evaluation of one response set.
type Evaluator interface {
	// Evaluate scores responses against the selected rubric with a single
	// provider call. Input problems return *domain.ValidationError.
	Evaluate(
		ctx context.Context,
		itemID string,
		responses domain.ResponseSet,
		subject string,
		rubric domain.RubricSelector,
	) (*domain.EvaluationResult, error)
}

// Adjuster runs the bounded contextual adjustment over a finished evaluation.
// It never fails; any problem yields a neutral record.
type Adjuster interface {
	Adjust(
		ctx context.Context,
		eval *domain.EvaluationResult,
		responses domain.ResponseSet,
		subject string,
	) *domain.AdjustmentRecord
}

// ResultSink persists a finished evaluation together with its adjustment.
type ResultSink interface {
	Save(ctx context.Context, eval *domain.EvaluationResult, adj *domain.AdjustmentRecord) error
}
