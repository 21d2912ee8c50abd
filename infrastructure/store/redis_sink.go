package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/ports"
)

// DefaultResultTTL keeps stored feedback for 30 days.
const DefaultResultTTL = 720 * time.Hour

// StoredResult is the persisted pair of an evaluation and its adjustment.
type StoredResult struct {
	Evaluation *domain.EvaluationResult `json:"evaluation"`
	Adjustment *domain.AdjustmentRecord `json:"adjustment,omitempty"`
	SavedAt    time.Time                `json:"savedAt"`
}

// FinalScore is the adjusted score when an adjustment exists.
func (r *StoredResult) FinalScore() int {
	if r.Adjustment != nil {
		return r.Adjustment.AdjustedScore
	}
	if r.Evaluation != nil {
		return r.Evaluation.Score
	}
	return 0
}

// RedisSink implements ports.ResultSink on Redis. Each result is a JSON
// value under "<prefix>result:<itemID>", and a sorted set indexes item IDs
// by save time.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisSink creates a sink on client. An empty prefix uses
// DefaultKeyPrefix and a non-positive ttl uses DefaultResultTTL.
func NewRedisSink(client *redis.Client, prefix string, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &RedisSink{
		client: client,
		prefix: prefixOrDefault(prefix),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *RedisSink) resultKey(itemID string) string { return s.prefix + "result:" + itemID }

func (s *RedisSink) indexKey() string { return s.prefix + "results" }

// Save writes the pair and indexes it in one pipeline.
func (s *RedisSink) Save(ctx context.Context, eval *domain.EvaluationResult, adj *domain.AdjustmentRecord) error {
	if eval == nil {
		return errors.New("cannot save a nil evaluation")
	}
	savedAt := s.now().UTC()
	data, err := json.Marshal(StoredResult{Evaluation: eval, Adjustment: adj, SavedAt: savedAt})
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", eval.ItemID, err)
	}

	key := s.resultKey(eval.ItemID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(savedAt.Unix()), Member: eval.ItemID})
	// Drop index entries whose values have expired.
	pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%d", savedAt.Add(-s.ttl).Unix()))
	if _, err := pipe.Exec(ctx); err != nil {
		return ports.NewCacheError(key, "Save", err)
	}
	return nil
}

// Load returns the stored pair for itemID, or ErrNotFound.
func (s *RedisSink) Load(ctx context.Context, itemID string) (*StoredResult, error) {
	key := s.resultKey(itemID)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ports.NewCacheError(key, "Load", ErrNotFound)
	}
	if err != nil {
		return nil, ports.NewCacheError(key, "Load", err)
	}

	var out StoredResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, ports.NewCacheError(key, "Load", fmt.Errorf("%w: %v", ports.ErrCacheCorrupted, err))
	}
	return &out, nil
}

// ListSince returns the item IDs saved at or after since, oldest first.
func (s *RedisSink) ListSince(ctx context.Context, since time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	return ids, nil
}

// Delete removes the stored pair and its index entry.
func (s *RedisSink) Delete(ctx context.Context, itemID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.resultKey(itemID))
	pipe.ZRem(ctx, s.indexKey(), itemID)
	if _, err := pipe.Exec(ctx); err != nil {
		return ports.NewCacheError(s.resultKey(itemID), "Delete", err)
	}
	return nil
}

var _ ports.ResultSink = (*RedisSink)(nil)
