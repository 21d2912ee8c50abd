// Package application wires the evaluation units into runnable workflows:
// the batch orchestrator, configuration loading and pipeline assembly.
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/pkg/logger"
	"github.com/intellego/evalpipe/internal/ports"
)

// Scheduling selects how the orchestrator feeds jobs to workers.
type Scheduling string

const (
	// ScheduleChunked runs consecutive chunks of Concurrency jobs and
	// waits for each chunk to settle before starting the next.
	ScheduleChunked Scheduling = "chunked"
	// SchedulePool keeps Concurrency workers continuously busy.
	SchedulePool Scheduling = "pool"
)

// Batch defaults.
const (
	DefaultConcurrency    = 5
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultChunkPause     = time.Second
)

// Batch metric names.
const (
	metricBatchJobs        = "batch_jobs_total"
	metricBatchRetries     = "batch_retries_total"
	metricBatchCost        = "batch_cost_usd"
	metricBatchJobDuration = "batch_job_duration_seconds"
)

// ErrJobNotStarted is recorded for every job skipped after cancellation.
var ErrJobNotStarted = errors.New("batch cancelled before job started")

// BatchOptions tunes one RunBatch call. Start from DefaultBatchOptions:
// in the zero value only Concurrency falls back to its default, while a
// zero RetryAttempts, RetryBaseDelay or ChunkPause means no retries, no
// backoff and no pause between chunks.
type BatchOptions struct {
	// Concurrency is the chunk size, or the worker count in pool mode.
	// Values below 1 use DefaultConcurrency.
	Concurrency int
	// RetryAttempts is the number of retries after the first attempt.
	// Zero disables retrying; negative values use DefaultRetryAttempts.
	RetryAttempts int
	// RetryBaseDelay is the wait before the first retry; it doubles for each
	// later one. Zero retries at once; negative values use
	// DefaultRetryBaseDelay.
	RetryBaseDelay time.Duration
	// ChunkPause is the wait between chunks, never after the last one.
	// Zero disables it; negative values use DefaultChunkPause.
	ChunkPause     time.Duration
	Scheduling     Scheduling
	SkipAdjustment bool
	// OnProgress is called once per settled job with monotonic counts.
	OnProgress func(completed, total int)
}

// DefaultBatchOptions returns the batch defaults: chunks of 5, 3 retries
// with a 2s doubling backoff and a 1s pause between chunks.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Concurrency:    DefaultConcurrency,
		RetryAttempts:  DefaultRetryAttempts,
		RetryBaseDelay: DefaultRetryBaseDelay,
		ChunkPause:     DefaultChunkPause,
		Scheduling:     ScheduleChunked,
	}
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Concurrency < 1 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.RetryBaseDelay < 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.ChunkPause < 0 {
		o.ChunkPause = DefaultChunkPause
	}
	if o.Scheduling != SchedulePool {
		o.Scheduling = ScheduleChunked
	}
	return o
}

// Orchestrator runs batches of evaluations with bounded concurrency,
// per-job retry and exact accounting. It is safe for concurrent use.
type Orchestrator struct {
	evaluator ports.Evaluator
	adjuster  ports.Adjuster
	sink      ports.ResultSink
	metrics   ports.MetricsCollector
	logger    *logger.Logger
	// sleep waits for backoff and chunk pauses.
	sleep func(context.Context, time.Duration) error
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAdjuster runs the adjustment pass after every successful evaluation.
func WithAdjuster(a ports.Adjuster) OrchestratorOption {
	return func(o *Orchestrator) { o.adjuster = a }
}

// WithResultSink persists every successful pair.
func WithResultSink(s ports.ResultSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = s }
}

// WithMetrics reports batch metrics to c.
func WithMetrics(c ports.MetricsCollector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger.OrDiscard(l).WithComponent("orchestrator") }
}

// NewOrchestrator creates an orchestrator around evaluator.
func NewOrchestrator(evaluator ports.Evaluator, opts ...OrchestratorOption) (*Orchestrator, error) {
	if evaluator == nil {
		return nil, errors.New("evaluator cannot be nil")
	}
	o := &Orchestrator{
		evaluator: evaluator,
		logger:    logger.Discard(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunBatch evaluates every job and always returns a result for which
// Successful + Failed == Total. Cancelling ctx stops new work; in-flight
// jobs finish and jobs that never started are recorded as failed.
func (o *Orchestrator) RunBatch(ctx context.Context, jobs []domain.BatchJob, opts BatchOptions) *domain.BatchResult {
	opts = opts.withDefaults()
	start := time.Now()
	acc := domain.NewBatchAccumulator(len(jobs), opts.OnProgress)

	o.logger.Info("batch started",
		"jobs", len(jobs),
		"concurrency", opts.Concurrency,
		"scheduling", string(opts.Scheduling),
		"retry_attempts", opts.RetryAttempts,
	)

	var cancelled bool
	if opts.Scheduling == SchedulePool {
		cancelled = o.runPool(ctx, jobs, opts, acc)
	} else {
		cancelled = o.runChunked(ctx, jobs, opts, acc)
	}

	result := acc.Finish(time.Since(start), cancelled)
	o.gauge(metricBatchCost, result.TotalCostUSD, nil)

	if err := result.CheckInvariant(); err != nil {
		o.logger.WithError(err).Error("batch accounting mismatch")
	}
	o.logger.Info("batch finished",
		"total", result.Total,
		"successful", result.Successful,
		"failed", result.Failed,
		"cost_usd", result.TotalCostUSD,
		"latency_ms", result.TotalLatencyMs,
		"cancelled", result.Cancelled,
	)
	return result
}

// runChunked runs consecutive chunks and reports whether any job was
// skipped because ctx was cancelled.
func (o *Orchestrator) runChunked(ctx context.Context, jobs []domain.BatchJob, opts BatchOptions, acc *domain.BatchAccumulator) bool {
	for start := 0; start < len(jobs); start += opts.Concurrency {
		if ctx.Err() != nil {
			o.skip(jobs[start:], acc)
			return true
		}

		end := min(start+opts.Concurrency, len(jobs))
		var wg sync.WaitGroup
		for _, job := range jobs[start:end] {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.runJob(ctx, job, opts, acc)
			}()
		}
		wg.Wait()

		if end < len(jobs) && opts.ChunkPause > 0 {
			if err := o.sleep(ctx, opts.ChunkPause); err != nil {
				o.skip(jobs[end:], acc)
				return true
			}
		}
	}
	return false
}

// runPool keeps Concurrency workers busy until jobs run out or ctx is
// cancelled.
func (o *Orchestrator) runPool(ctx context.Context, jobs []domain.BatchJob, opts BatchOptions, acc *domain.BatchAccumulator) bool {
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	var cancelled atomic.Bool

	for i, job := range jobs {
		if ctx.Err() != nil {
			o.skip(jobs[i:], acc)
			cancelled.Store(true)
			break
		}
		// Go blocks while every worker is busy, so ctx is checked again
		// once the job actually gets a slot.
		g.Go(func() error {
			if ctx.Err() != nil {
				o.skip([]domain.BatchJob{job}, acc)
				cancelled.Store(true)
				return nil
			}
			o.runJob(ctx, job, opts, acc)
			return nil
		})
	}
	_ = g.Wait()
	return cancelled.Load()
}

func (o *Orchestrator) skip(jobs []domain.BatchJob, acc *domain.BatchAccumulator) {
	for _, job := range jobs {
		acc.RecordFailure(job.ItemID, ErrJobNotStarted)
		o.counter(metricBatchJobs, 1, map[string]string{"status": "cancelled"})
	}
	if len(jobs) > 0 {
		o.logger.Warn("batch cancelled", "skipped_jobs", len(jobs))
	}
}

// runJob evaluates one job with retries, adjusts and persists it, and
// records exactly one outcome in acc. It runs detached from ctx's
// cancellation so an in-flight job always finishes; per-call deadlines
// still apply below the evaluator.
func (o *Orchestrator) runJob(ctx context.Context, job domain.BatchJob, opts BatchOptions, acc *domain.BatchAccumulator) {
	jobCtx := context.WithoutCancel(ctx)
	start := time.Now()
	log := o.logger.WithItem(job.ItemID)

	eval, attempts, err := o.evaluateWithRetry(jobCtx, job, opts, log)
	o.latency(metricBatchJobDuration, time.Since(start))

	if err != nil {
		log.WithError(err).Error("job failed", "attempts", attempts)
		acc.RecordFailure(job.ItemID, err)
		o.counter(metricBatchJobs, 1, map[string]string{"status": "failed"})
		return
	}

	cost := eval.Cost.CostUSD
	var adj *domain.AdjustmentRecord
	if !opts.SkipAdjustment && o.adjuster != nil {
		adj = o.adjuster.Adjust(jobCtx, eval, job.ResponseSet, job.Subject)
		if adj != nil {
			cost += adj.Cost.CostUSD
		}
	}

	if o.sink != nil {
		if err := o.sink.Save(jobCtx, eval, adj); err != nil {
			log.WithError(err).Warn("failed to persist result")
		}
	}

	acc.RecordSuccess(cost)
	o.counter(metricBatchJobs, 1, map[string]string{"status": "success"})
	log.Debug("job succeeded", "attempts", attempts, "score", eval.Score, "cost_usd", cost)
}

// evaluateWithRetry makes up to 1+RetryAttempts attempts. Before retry k
// (from 0) it waits RetryBaseDelay * 2^k. Only the returned result's cost
// counts; failed attempts produce no result.
func (o *Orchestrator) evaluateWithRetry(
	ctx context.Context,
	job domain.BatchJob,
	opts BatchOptions,
	log *logger.Logger,
) (*domain.EvaluationResult, int, error) {
	var lastErr error
	for attempt := 0; attempt <= opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := opts.RetryBaseDelay << (attempt - 1)
			o.counter(metricBatchRetries, 1, nil)
			log.WithError(lastErr).Warn("retrying evaluation", "attempt", attempt+1, "delay", delay)
			if err := o.sleep(ctx, delay); err != nil {
				return nil, attempt, err
			}
		}

		eval, err := o.safeEvaluate(ctx, job)
		if err == nil {
			return eval, attempt + 1, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, attempt + 1, err
		}
	}
	return nil, opts.RetryAttempts + 1, lastErr
}

// safeEvaluate converts a panic or an empty result into an error so the
// job still settles.
func (o *Orchestrator) safeEvaluate(ctx context.Context, job domain.BatchJob) (eval *domain.EvaluationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			eval, err = nil, &panicError{value: r}
		}
	}()
	eval, err = o.evaluator.Evaluate(ctx, job.ItemID, job.ResponseSet, job.Subject, job.Rubric)
	if err == nil && eval == nil {
		err = errors.New("evaluator returned no result")
	}
	return eval, err
}

type panicError struct{ value any }

func (e *panicError) Error() string     { return fmt.Sprintf("evaluator panicked: %v", e.value) }
func (e *panicError) IsRetryable() bool { return false }

// isRetryable reports whether a failed attempt should be retried. Errors
// that classify themselves decide; unclassified errors are retried.
func isRetryable(err error) bool {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var classified interface{ IsRetryable() bool }
	if errors.As(err, &classified) {
		return classified.IsRetryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) counter(name string, v float64, labels map[string]string) {
	if o.metrics != nil {
		o.metrics.RecordCounter(name, v, labels)
	}
}

func (o *Orchestrator) gauge(name string, v float64, labels map[string]string) {
	if o.metrics != nil {
		o.metrics.RecordGauge(name, v, labels)
	}
}

func (o *Orchestrator) latency(name string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordLatency(name, d, map[string]string{"component": "orchestrator"})
	}
}
