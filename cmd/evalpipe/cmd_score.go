package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/intellego/evalpipe/internal/domain"
)

// scoreReport is the offline calculator output.
type scoreReport struct {
	Levels       [domain.CriterionCount]domain.Level `json:"levels"`
	SubScores    domain.SubScores                    `json:"subScores"`
	Score        int                                 `json:"score"`
	SkillMetrics domain.SkillMetrics                 `json:"skillMetrics"`
}

func newScoreCommand() *cobra.Command {
	var levels string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a score from five criterion levels",
		Long: `Compute the weighted score and skill metrics for five criterion levels
(1-4, in Q1..Q5 order) without calling a provider.`,
		Example: "  evalpipe score --levels 4,3,3,2,1",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := computeScore(levels)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&levels, "levels", "", "Comma-separated criterion levels, e.g. 4,3,3,2,1")
	_ = cmd.MarkFlagRequired("levels")

	return cmd
}

func computeScore(spec string) (*scoreReport, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != domain.CriterionCount {
		return nil, fmt.Errorf("expected %d levels, got %d", domain.CriterionCount, len(parts))
	}

	var report scoreReport
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
		if report.Levels[i], err = domain.ParseLevel(n); err != nil {
			return nil, fmt.Errorf("level %d: %w", i+1, err)
		}
	}

	report.SubScores = domain.SubScoresFromLevels(report.Levels)
	score, err := domain.WeightedScore(report.SubScores)
	if err != nil {
		return nil, err
	}
	report.Score = score
	if report.SkillMetrics, err = domain.ComputeSkillMetrics(report.SubScores); err != nil {
		return nil, err
	}
	return &report, nil
}
