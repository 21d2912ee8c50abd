// Command evalpipe scores student reflection reports against phase rubrics
// with an LLM provider, one at a time or in batches.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	ExitSuccess    = 0 // Every job succeeded
	ExitJobsFailed = 1 // The batch ran but some jobs failed
	ExitError      = 2 // Configuration, validation or provider error
)

// JobsFailedError reports a batch that completed with failed jobs.
type JobsFailedError struct {
	Failed int
	Total  int
}

func (e *JobsFailedError) Error() string {
	return fmt.Sprintf("batch finished with %d of %d jobs failed", e.Failed, e.Total)
}

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err) //nolint:errcheck
		return exitCode(err)
	}
	return ExitSuccess
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var jobsFailed *JobsFailedError
	if errors.As(err, &jobsFailed) {
		return ExitJobsFailed
	}
	return ExitError
}
