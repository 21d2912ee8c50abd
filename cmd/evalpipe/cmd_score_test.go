package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellego/evalpipe/internal/domain"
)

func TestScoreCommand(t *testing.T) {
	// Given five criterion levels
	stdout, _, err := execute(t, "score", "--levels", "4,3,3,2,1")

	// Then the report carries the weighted score and derived metrics
	require.NoError(t, err)
	var report scoreReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))

	assert.Equal(t, [5]domain.Level{4, 3, 3, 2, 1}, report.Levels)
	assert.Equal(t, domain.SubScores{92.5, 77, 77, 62, 27}, report.SubScores)
	assert.Equal(t, 73, report.Score)

	want, err := domain.ComputeSkillMetrics(report.SubScores)
	require.NoError(t, err)
	assert.Equal(t, want, report.SkillMetrics)
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name      string
		levels    string
		wantScore int
		wantErr   string
	}{
		{name: "all excellent", levels: "4,4,4,4,4", wantScore: 93},
		{name: "all initial", levels: "1,1,1,1,1", wantScore: 27},
		{name: "spaces are tolerated", levels: " 4, 3 ,3,2, 1", wantScore: 73},
		{name: "too few", levels: "4,3,3", wantErr: "expected 5 levels, got 3"},
		{name: "not a number", levels: "4,3,x,2,1", wantErr: "level 3"},
		{name: "out of range", levels: "4,3,3,2,5", wantErr: "level 5"},
		{name: "zero", levels: "0,3,3,2,1", wantErr: "level 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := computeScore(tt.levels)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, report.Score)
		})
	}
}

func TestScoreCommand_RequiresLevels(t *testing.T) {
	_, _, err := execute(t, "score")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "levels")
}
