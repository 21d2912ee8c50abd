package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/domain"
)

const mixedBatchJSON = `{
  "jobs": [
    {"itemId": "ok", "rubric": {"phase": 2}, "responseSet": [{"questionText": "Q", "answerText": "A"}]},
    {"itemId": "empty", "rubric": {"phase": 1}, "responseSet": []},
    {"itemId": "bad-phase", "rubric": {"phase": 9}, "responseSet": [{"questionText": "Q", "answerText": "A"}]}
  ]
}`

func TestBatchCommand_DryRun(t *testing.T) {
	t.Run("every job valid", func(t *testing.T) {
		// Given a batch document whose jobs are all well formed
		stdout, _, err := execute(t, "batch", "--dry-run", "--input", writeFile(t, "jobs.yaml", batchYAML))

		// Then a report is printed and no provider is needed
		require.NoError(t, err)
		var report dryRunReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, 2, report.Total)
		assert.Equal(t, 2, report.Valid)
		assert.Zero(t, report.Invalid)
		require.Len(t, report.Jobs, 2)
		assert.Equal(t, jobCheck{ItemID: "r1", Valid: true, AnswersCount: 1, Phase: domain.PhaseProblemIdentification}, report.Jobs[0])
		assert.True(t, report.Jobs[1].Valid)
		assert.Zero(t, report.Jobs[1].Phase, "custom rubric has no phase")
	})

	t.Run("invalid jobs are reported", func(t *testing.T) {
		// Given a batch with one empty response set and one unknown phase
		stdout, _, err := execute(t, "batch", "--dry-run", "--input", writeFile(t, "jobs.json", mixedBatchJSON))

		// Then every job is listed and the command fails with exit code 2
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 of 3 jobs failed validation")
		assert.Equal(t, ExitError, exitCode(err))

		var report dryRunReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, 1, report.Valid)
		assert.Equal(t, 2, report.Invalid)
		assert.True(t, report.Jobs[0].Valid)
		assert.Contains(t, report.Jobs[1].Error, "at least one answer")
		assert.Contains(t, report.Jobs[2].Error, "phase must be between 1 and 4")
	})
}

func TestCheckJobs_Empty(t *testing.T) {
	report := checkJobs(nil, domain.MustBuiltinCatalog())

	assert.Zero(t, report.Total)
	assert.NotNil(t, report.Jobs)
}
