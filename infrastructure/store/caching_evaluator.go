package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/pkg/logger"
	"github.com/intellego/evalpipe/internal/ports"
)

// DefaultEvaluationCacheTTL is how long a cached evaluation stays valid.
const DefaultEvaluationCacheTTL = 24 * time.Hour

// CachingEvaluator serves identical resubmissions from a CacheStore.
// The key is a SHA-256 over the model, subject, rubric text and answers, so
// a changed rubric or answer always reaches the provider. Cache failures
// are logged and never fail an evaluation.
type CachingEvaluator struct {
	next    ports.Evaluator
	cache   ports.CacheStore
	catalog *domain.Catalog
	model   string
	ttl     time.Duration
	logger  *logger.Logger
}

// NewCachingEvaluator wraps next. model must identify the provider model
// behind next; a nil catalog uses the built-in rubrics.
func NewCachingEvaluator(
	next ports.Evaluator,
	cache ports.CacheStore,
	catalog *domain.Catalog,
	model string,
	ttl time.Duration,
	log *logger.Logger,
) *CachingEvaluator {
	if catalog == nil {
		catalog = domain.MustBuiltinCatalog()
	}
	if ttl <= 0 {
		ttl = DefaultEvaluationCacheTTL
	}
	return &CachingEvaluator{
		next:    next,
		cache:   cache,
		catalog: catalog,
		model:   model,
		ttl:     ttl,
		logger:  logger.OrDiscard(log).WithComponent("evaluation-cache"),
	}
}

// EvaluationKey hashes everything that determines an evaluation.
func EvaluationKey(model, subject, rubricText string, responses domain.ResponseSet) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(model)
	write(subject)
	write(rubricText)
	for _, r := range responses {
		write(r.QuestionText)
		write(r.AnswerText)
	}
	return "eval:" + hex.EncodeToString(h.Sum(nil))
}

// Evaluate returns a cached result when one exists and otherwise delegates
// and caches the outcome. A cached result carries the requested item ID
// and a zero cost, since no provider call was made.
func (c *CachingEvaluator) Evaluate(
	ctx context.Context,
	itemID string,
	responses domain.ResponseSet,
	subject string,
	rubric domain.RubricSelector,
) (*domain.EvaluationResult, error) {
	rubricText, _, err := rubric.Resolve(c.catalog)
	if err != nil {
		// Let the wrapped evaluator report the validation error.
		return c.next.Evaluate(ctx, itemID, responses, subject, rubric)
	}
	subject = domain.NormalizeSubject(subject)

	key := EvaluationKey(c.model, subject, rubricText, responses)
	log := c.logger.WithItem(itemID)

	if cached, ok := c.lookup(ctx, key, log); ok {
		cached.ItemID = itemID
		cached.Cost = domain.CostInfo{Model: cached.Cost.Model}
		cached.Latency = 0
		log.Debug("evaluation served from cache", "key", key)
		return cached, nil
	}

	result, err := c.next.Evaluate(ctx, itemID, responses, subject, rubric)
	if err != nil {
		return nil, err
	}

	// Degraded results are not cached so a retry can do better.
	if !result.IsDegraded() {
		if data, err := json.Marshal(result); err != nil {
			log.WithError(err).Warn("failed to encode evaluation for cache")
		} else if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			log.WithError(err).Warn("failed to cache evaluation")
		}
	}
	return result, nil
}

func (c *CachingEvaluator) lookup(ctx context.Context, key string, log *logger.Logger) (*domain.EvaluationResult, bool) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("evaluation cache lookup failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var result domain.EvaluationResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.WithError(ports.NewCacheError(key, "Get", ports.ErrCacheCorrupted)).Warn("dropping corrupted cache entry")
		_ = c.cache.Delete(ctx, key)
		return nil, false
	}
	return &result, true
}

var _ ports.Evaluator = (*CachingEvaluator)(nil)
