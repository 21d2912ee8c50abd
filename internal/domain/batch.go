package domain

import (
	"fmt"
	"sync"
	"time"
)

// BatchJob is one (ResponseSet, Rubric) unit of work for the orchestrator.
type BatchJob struct {
	ItemID      string         `json:"itemId" yaml:"item_id"`
	Subject     string         `json:"subject" yaml:"subject"`
	ResponseSet ResponseSet    `json:"responseSet" yaml:"response_set"`
	Rubric      RubricSelector `json:"rubric" yaml:"rubric"`
}

// BatchError records why a single job failed.
type BatchError struct {
	ItemID  string `json:"itemId"`
	Message string `json:"message"`
}

// BatchResult is the aggregate report of one orchestrator run.
// Successful + Failed always equals Total.
type BatchResult struct {
	Total          int          `json:"total"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	Errors         []BatchError `json:"errors"`
	TotalCostUSD   float64      `json:"totalCostUSD"`
	TotalLatencyMs int64        `json:"totalLatencyMs"`
	Cancelled      bool         `json:"cancelled"`
}

// Settled is the number of jobs that have reached a final outcome.
func (r *BatchResult) Settled() int { return r.Successful + r.Failed }

// BatchAccumulator folds job outcomes into a BatchResult. It is safe for
// concurrent use; every Record call happens under one mutex together with
// the progress callback so that progress counts never go backwards.
type BatchAccumulator struct {
	mu         sync.Mutex
	result     BatchResult
	onProgress func(completed, total int)
}

// NewBatchAccumulator creates an accumulator for total jobs.
func NewBatchAccumulator(total int, onProgress func(completed, total int)) *BatchAccumulator {
	return &BatchAccumulator{
		result:     BatchResult{Total: total, Errors: make([]BatchError, 0)},
		onProgress: onProgress,
	}
}

// RecordSuccess counts a successful job and its cost.
func (a *BatchAccumulator) RecordSuccess(costUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Successful++
	a.result.TotalCostUSD += costUSD
	a.progressLocked()
}

// RecordFailure counts a failed job and keeps its error message.
func (a *BatchAccumulator) RecordFailure(itemID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Failed++
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	a.result.Errors = append(a.result.Errors, BatchError{ItemID: itemID, Message: msg})
	a.progressLocked()
}

func (a *BatchAccumulator) progressLocked() {
	if a.onProgress != nil {
		a.onProgress(a.result.Settled(), a.result.Total)
	}
}

// Finish stamps the wall-clock latency and returns a copy of the result.
func (a *BatchAccumulator) Finish(elapsed time.Duration, cancelled bool) *BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.result
	out.Errors = append(make([]BatchError, 0, len(a.result.Errors)), a.result.Errors...)
	out.TotalLatencyMs = elapsed.Milliseconds()
	out.Cancelled = cancelled
	return &out
}

// CheckInvariant verifies the accounting invariant of a finished batch.
func (r *BatchResult) CheckInvariant() error {
	if r.Successful+r.Failed != r.Total {
		return fmt.Errorf("batch accounting mismatch: %d successful + %d failed != %d total",
			r.Successful, r.Failed, r.Total)
	}
	return nil
}
