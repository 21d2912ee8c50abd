package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/intellego/evalpipe/internal/application"
	"github.com/intellego/evalpipe/internal/pkg/logger"
)

var version = "dev"

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "evalpipe",
		Short: "Evaluate student reflection reports with an LLM",
		Long: `evalpipe scores free-text student answers against a four-phase
critical-thinking rubric, derives skill metrics, and optionally applies a
bounded contextual adjustment.

Configuration is read from the --config YAML file and EVALPIPE_* environment
variables; flags override both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	cmd.AddCommand(newEvaluateCommand(opts))
	cmd.AddCommand(newBatchCommand(opts))
	cmd.AddCommand(newRubricCommand())
	cmd.AddCommand(newScoreCommand())

	return cmd
}

// loadConfig reads the config file and environment, then applies the
// global flag overrides.
func (o *rootOptions) loadConfig() (*application.Config, error) {
	cfg, err := application.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.metricsAddr != "" {
		cfg.Metrics.ListenAddr = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating flags: %w", err)
	}
	return cfg, nil
}

// openPipeline builds the pipeline for cfg and, when configured, starts the
// metrics endpoint. The returned func releases both.
func (o *rootOptions) openPipeline(
	ctx context.Context,
	cmd *cobra.Command,
	cfg *application.Config,
) (*application.Pipeline, func(), error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

	pipelineOpts := []application.PipelineOption{application.WithPipelineLogger(log)}
	var server *metricsServer
	if cfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		pipelineOpts = append(pipelineOpts, application.WithRegisterer(reg))
		server = startMetricsServer(cfg.Metrics.ListenAddr, reg, log)
	}

	p, err := application.NewPipeline(ctx, cfg, pipelineOpts...)
	if err != nil {
		server.shutdown()
		return nil, nil, err
	}

	return p, func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("closing pipeline")
		}
		server.shutdown()
	}, nil
}
