package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/application"
	"github.com/intellego/evalpipe/internal/domain"
)

const evaluationJSON = `{
  "itemId": "report-7",
  "subject": "chemistry",
  "phase": 3,
  "responses": [
    {"id": "a1", "questionId": "q1", "questionText": "What did you do?", "answerText": "I built a table."}
  ]
}`

const batchYAML = `jobs:
  - item_id: r1
    subject: physics
    rubric:
      phase: 1
    response_set:
      - id: a1
        question_id: q1
        question_text: What was the problem?
        answer_text: The pendulum period.
  - item_id: r2
    rubric:
      text: Custom rubric
    response_set:
      - question_text: Why?
        answer_text: Because.
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadInput(t *testing.T) {
	t.Run("JSON evaluation", func(t *testing.T) {
		var in evaluationInput
		require.NoError(t, readInput(writeFile(t, "in.json", evaluationJSON), nil, &in))
		assert.Equal(t, "report-7", in.ItemID)
		assert.Equal(t, domain.PhaseTools, in.Phase)
		require.Len(t, in.Responses, 1)
		assert.Equal(t, "I built a table.", in.Responses[0].AnswerText)
	})

	t.Run("YAML batch", func(t *testing.T) {
		var in batchInput
		require.NoError(t, readInput(writeFile(t, "jobs.yml", batchYAML), nil, &in))
		require.Len(t, in.Jobs, 2)
		assert.Equal(t, "r1", in.Jobs[0].ItemID)
		assert.Equal(t, domain.PhaseProblemIdentification, in.Jobs[0].Rubric.Phase)
		assert.Equal(t, "The pendulum period.", in.Jobs[0].ResponseSet[0].AnswerText)
		assert.True(t, in.Jobs[1].Rubric.IsCustom())
	})

	t.Run("stdin", func(t *testing.T) {
		var in evaluationInput
		require.NoError(t, readInput("-", strings.NewReader(evaluationJSON), &in))
		assert.Equal(t, "chemistry", in.Subject)
	})

	t.Run("unknown JSON field", func(t *testing.T) {
		var in evaluationInput
		err := readInput(writeFile(t, "in.json", `{"itemID": "x", "answers": []}`), nil, &in)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding JSON input")
	})

	t.Run("unknown YAML field", func(t *testing.T) {
		var in batchInput
		err := readInput(writeFile(t, "jobs.yaml", "work: []\n"), nil, &in)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding YAML input")
	})

	t.Run("missing file", func(t *testing.T) {
		var in evaluationInput
		err := readInput(filepath.Join(t.TempDir(), "nope.json"), nil, &in)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestEvaluationInput_Selector(t *testing.T) {
	rubricFile := writeFile(t, "rubric.txt", "Grade the clarity.")
	in := evaluationInput{Phase: domain.PhaseVariables}

	sel, err := in.selector(0, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseSelector(domain.PhaseVariables), sel)

	sel, err = in.selector(4, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseSelector(domain.PhaseStrategy), sel)

	sel, err = in.selector(0, rubricFile)
	require.NoError(t, err)
	assert.Equal(t, domain.TextSelector("Grade the clarity."), sel)

	_, err = in.selector(0, filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestEvaluateCommand_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		extra []string
	}{
		{name: "no responses", doc: `{"phase": 1, "responses": []}`},
		{name: "no rubric", doc: `{"responses": [{"questionText": "Q", "answerText": "A"}]}`},
		{name: "phase out of range", doc: `{"responses": [{"questionText": "Q", "answerText": "A"}]}`, extra: []string{"--phase", "9"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given an input document that fails validation
			args := append([]string{"evaluate", "--input", writeFile(t, "in.json", tt.doc)}, tt.extra...)

			// When evaluate runs
			_, _, err := execute(t, args...)

			// Then it fails before any provider is built, with exit code 2
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, ExitError, exitCode(err))
		})
	}
}

func TestEvaluateCommand_PhaseAndRubricFileExclusive(t *testing.T) {
	_, _, err := execute(t, "evaluate", "--input", "x.json", "--phase", "1", "--rubric-file", "r.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestBatchOptions_Apply(t *testing.T) {
	base := application.DefaultBatchOptions()

	tests := []struct {
		name    string
		opts    batchOptions
		want    func(o application.BatchOptions) application.BatchOptions
		wantErr string
	}{
		{
			name: "flags unset keep config",
			opts: batchOptions{retries: -1},
			want: func(o application.BatchOptions) application.BatchOptions { return o },
		},
		{
			name: "flags override",
			opts: batchOptions{concurrency: 10, retries: 0, mode: "pool", noAdjust: true},
			want: func(o application.BatchOptions) application.BatchOptions {
				o.Concurrency = 10
				o.RetryAttempts = 0
				o.Scheduling = application.SchedulePool
				o.SkipAdjustment = true
				return o
			},
		},
		{name: "negative concurrency", opts: batchOptions{concurrency: -2, retries: -1}, wantErr: "--concurrency"},
		{name: "unknown mode", opts: batchOptions{retries: -1, mode: "fifo"}, wantErr: "--mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.apply(base)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want(base), got)
		})
	}
}
