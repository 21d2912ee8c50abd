package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type evaluateOptions struct {
	input      string
	phase      int
	rubricFile string
	subject    string
	noAdjust   bool
}

func newEvaluateCommand(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one response set",
		Long: `Evaluate one response set with a single provider call and, unless
--no-adjust is given, run the contextual adjustment pass.

The input is a JSON or YAML document with itemId, subject, phase or rubric,
and responses. Use "-" to read JSON from stdin. The result is printed as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Input file (JSON or YAML), or - for stdin")
	f.IntVar(&opts.phase, "phase", 0, "Built-in rubric phase (1-4)")
	f.StringVar(&opts.rubricFile, "rubric-file", "", "File with custom rubric text")
	f.StringVar(&opts.subject, "subject", "", "Subject name, overrides the input document")
	f.BoolVar(&opts.noAdjust, "no-adjust", false, "Skip the adjustment pass")
	_ = cmd.MarkFlagRequired("input")
	cmd.MarkFlagsMutuallyExclusive("phase", "rubric-file")

	return cmd
}

func runEvaluate(cmd *cobra.Command, root *rootOptions, opts *evaluateOptions) error {
	var in evaluationInput
	if err := readInput(opts.input, cmd.InOrStdin(), &in); err != nil {
		return err
	}
	if opts.subject != "" {
		in.Subject = opts.subject
	}
	if in.ItemID == "" {
		in.ItemID = "item-1"
	}
	sel, err := in.selector(opts.phase, opts.rubricFile)
	if err != nil {
		return err
	}
	// Reject bad input before any provider or store is touched.
	if err := errors.Join(in.Responses.Validate(), sel.Validate()); err != nil {
		return err
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, closeFn, err := root.openPipeline(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	out, err := p.Evaluate(ctx, in.ItemID, in.Responses, in.Subject, sel, !opts.noAdjust)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), out)
}
