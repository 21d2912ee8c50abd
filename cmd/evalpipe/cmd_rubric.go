package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/intellego/evalpipe/internal/domain"
)

func newRubricCommand() *cobra.Command {
	var phase int

	cmd := &cobra.Command{
		Use:   "rubric",
		Short: "Print the built-in rubrics",
		Long:  "Print the rubric text sent to the provider for one phase, or for every phase.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printRubrics(cmd.OutOrStdout(), domain.Phase(phase))
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 0, "Phase to print (1-4); all phases when omitted")

	return cmd
}

func printRubrics(w io.Writer, phase domain.Phase) error {
	catalog, err := domain.BuiltinCatalog()
	if err != nil {
		return err
	}

	phases := catalog.Phases()
	if phase != 0 {
		phases = []domain.Phase{phase}
	}
	for i, p := range phases {
		r, err := catalog.Rubric(p)
		if err != nil {
			return err
		}
		if i > 0 {
			fmt.Fprintln(w) //nolint:errcheck
		}
		if _, err := io.WriteString(w, r.Text()); err != nil {
			return err
		}
	}
	return nil
}
