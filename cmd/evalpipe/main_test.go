package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/domain"
)

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitSuccess},
		{"failed jobs", &JobsFailedError{Failed: 2, Total: 5}, ExitJobsFailed},
		{"wrapped failed jobs", fmt.Errorf("batch: %w", &JobsFailedError{Failed: 1, Total: 1}), ExitJobsFailed},
		{"validation", &domain.ValidationError{Entity: "response_set"}, ExitError},
		{"provider", errors.New("429 rate limited"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestJobsFailedError(t *testing.T) {
	err := &JobsFailedError{Failed: 2, Total: 5}
	assert.Equal(t, "batch finished with 2 of 5 jobs failed", err.Error())
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"evaluate", "batch", "rubric", "score"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}

	for _, flag := range []string{"config", "log-level", "log-format", "metrics-addr"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootOptions_LoadConfig(t *testing.T) {
	t.Run("flags override config", func(t *testing.T) {
		opts := &rootOptions{logLevel: "debug", logFormat: "json", metricsAddr: "127.0.0.1:9464"}
		cfg, err := opts.loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.ListenAddr)
	})

	t.Run("invalid flag value", func(t *testing.T) {
		opts := &rootOptions{logLevel: "loud"}
		_, err := opts.loadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validating flags")
	})
}
