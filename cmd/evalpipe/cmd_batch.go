package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/intellego/evalpipe/internal/application"
	"github.com/intellego/evalpipe/internal/domain"
)

type batchOptions struct {
	input       string
	concurrency int
	retries     int
	mode        string
	noAdjust    bool
	dryRun      bool
}

func newBatchCommand(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Evaluate a batch of response sets",
		Long: `Evaluate every job in the input document with bounded concurrency and
per-job retry. Progress is written to stderr and the batch report to stdout
as JSON.

Interrupting the command stops new jobs; jobs already running finish and
the rest are reported as failed. The exit code is 1 when any job failed.

With --dry-run every job is checked (answers present, rubric resolvable)
without loading a provider, and a per-job report is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Jobs file (JSON or YAML), or - for stdin")
	f.IntVar(&opts.concurrency, "concurrency", 0, "Jobs per chunk, or workers in pool mode (default from config)")
	f.IntVar(&opts.retries, "retries", -1, "Retries per job after the first attempt (default from config)")
	f.StringVar(&opts.mode, "mode", "", "Scheduling: chunked or pool (default from config)")
	f.BoolVar(&opts.noAdjust, "no-adjust", false, "Skip the adjustment pass")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Validate every job without calling a provider")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// apply layers the command flags over the configured defaults.
func (o *batchOptions) apply(base application.BatchOptions) (application.BatchOptions, error) {
	if o.concurrency < 0 {
		return base, fmt.Errorf("--concurrency must be positive, got %d", o.concurrency)
	}
	if o.concurrency > 0 {
		base.Concurrency = o.concurrency
	}
	if o.retries >= 0 {
		base.RetryAttempts = o.retries
	}
	switch application.Scheduling(o.mode) {
	case "":
	case application.ScheduleChunked, application.SchedulePool:
		base.Scheduling = application.Scheduling(o.mode)
	default:
		return base, fmt.Errorf("--mode must be chunked or pool, got %q", o.mode)
	}
	if o.noAdjust {
		base.SkipAdjustment = true
	}
	return base, nil
}

func runBatch(cmd *cobra.Command, root *rootOptions, opts *batchOptions) error {
	var in batchInput
	if err := readInput(opts.input, cmd.InOrStdin(), &in); err != nil {
		return err
	}
	if opts.dryRun {
		report := checkJobs(in.Jobs, domain.MustBuiltinCatalog())
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if report.Invalid > 0 {
			return fmt.Errorf("%d of %d jobs failed validation", report.Invalid, report.Total)
		}
		return nil
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	batchOpts, err := opts.apply(cfg.BatchOptions())
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	batchOpts.OnProgress = func(completed, total int) {
		fmt.Fprintf(stderr, "progress: %d/%d\n", completed, total) //nolint:errcheck
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, closeFn, err := root.openPipeline(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	result := p.RunBatch(ctx, in.Jobs, batchOpts)
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return &JobsFailedError{Failed: result.Failed, Total: result.Total}
	}
	return nil
}

// jobCheck is the dry-run verdict for one job.
type jobCheck struct {
	ItemID       string       `json:"itemId"`
	Valid        bool         `json:"valid"`
	AnswersCount int          `json:"answersCount"`
	Phase        domain.Phase `json:"phase,omitempty"`
	Error        string       `json:"error,omitempty"`
}

type dryRunReport struct {
	Total   int        `json:"total"`
	Valid   int        `json:"valid"`
	Invalid int        `json:"invalid"`
	Jobs    []jobCheck `json:"jobs"`
}

// checkJobs runs the checks Evaluate performs before its provider call.
func checkJobs(jobs []domain.BatchJob, catalog *domain.Catalog) dryRunReport {
	report := dryRunReport{Total: len(jobs), Jobs: make([]jobCheck, 0, len(jobs))}
	for _, job := range jobs {
		check := jobCheck{ItemID: job.ItemID, AnswersCount: len(job.ResponseSet)}
		err := job.ResponseSet.Validate()
		if err == nil {
			_, check.Phase, err = job.Rubric.Resolve(catalog)
		}
		if err != nil {
			check.Error = err.Error()
			report.Invalid++
		} else {
			check.Valid = true
			report.Valid++
		}
		report.Jobs = append(report.Jobs, check)
	}
	return report
}
