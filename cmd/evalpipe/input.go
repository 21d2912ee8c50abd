package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/intellego/evalpipe/internal/domain"
)

// evaluationInput is the document accepted by the evaluate command.
type evaluationInput struct {
	ItemID    string             `json:"itemId" yaml:"item_id"`
	Subject   string             `json:"subject" yaml:"subject"`
	Phase     domain.Phase       `json:"phase" yaml:"phase"`
	Rubric    string             `json:"rubric" yaml:"rubric"`
	Responses domain.ResponseSet `json:"responses" yaml:"responses"`
}

// batchInput is the document accepted by the batch command.
type batchInput struct {
	Jobs []domain.BatchJob `json:"jobs" yaml:"jobs"`
}

// readInput reads path, or stdin for "-", and decodes it as YAML when the
// extension says so and JSON otherwise.
func readInput(path string, stdin io.Reader, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("decoding YAML input %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("decoding JSON input %s: %w", path, err)
		}
	}
	return nil
}

// selector picks the rubric: an explicit rubric file wins over a phase
// flag, which wins over the document.
func (in *evaluationInput) selector(phaseFlag int, rubricFile string) (domain.RubricSelector, error) {
	if rubricFile != "" {
		text, err := os.ReadFile(rubricFile)
		if err != nil {
			return domain.RubricSelector{}, fmt.Errorf("reading rubric file: %w", err)
		}
		return domain.TextSelector(string(text)), nil
	}
	if phaseFlag != 0 {
		return domain.PhaseSelector(domain.Phase(phaseFlag)), nil
	}
	return domain.RubricSelector{Phase: in.Phase, Text: in.Rubric}, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
