package domain

import (
	"fmt"
	"strings"
)

// AnswerItem is one student answer to one question. It is supplied by the
// caller and never modified by the pipeline.
type AnswerItem struct {
	ID           string `json:"id" yaml:"id"`
	QuestionID   string `json:"questionId" yaml:"question_id"`
	QuestionText string `json:"questionText" yaml:"question_text"`
	AnswerText   string `json:"answerText" yaml:"answer_text"`
	Kind         string `json:"kind,omitempty" yaml:"kind"`
}

// ResponseSet is an ordered, non-empty sequence of answers sharing one
// subject and phase context.
type ResponseSet []AnswerItem

// Validate checks that the set is non-empty and that every item carries
// question and answer text.
func (rs ResponseSet) Validate() error {
	if len(rs) == 0 {
		return newValidationErrorf("response_set", ErrEmptyResponseSet, "response set must contain at least one answer")
	}
	verr := NewValidationError("response_set")
	for i, item := range rs {
		if strings.TrimSpace(item.QuestionText) == "" {
			verr.AddError(fmt.Sprintf("item %d: question text is required", i+1))
		}
		if strings.TrimSpace(item.AnswerText) == "" {
			verr.AddError(fmt.Sprintf("item %d: answer text is required", i+1))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// RubricSelector chooses the rubric for an evaluation: either a built-in
// phase or caller-supplied rubric text used verbatim. Exactly one must be set.
type RubricSelector struct {
	Phase Phase  `json:"phase,omitempty" yaml:"phase"`
	Text  string `json:"text,omitempty" yaml:"text"`
}

// PhaseSelector selects a built-in rubric.
func PhaseSelector(p Phase) RubricSelector { return RubricSelector{Phase: p} }

// TextSelector selects a custom rubric.
func TextSelector(text string) RubricSelector { return RubricSelector{Text: text} }

// IsCustom reports whether the selector carries custom rubric text.
func (s RubricSelector) IsCustom() bool { return strings.TrimSpace(s.Text) != "" }

// Validate enforces that exactly one of Phase and Text is set and that a
// phase is in range.
func (s RubricSelector) Validate() error {
	switch {
	case s.IsCustom() && s.Phase != 0:
		return newValidationErrorf("rubric_selector", ErrInvalidPhase, "set either a phase or rubric text, not both")
	case s.IsCustom():
		return nil
	case s.Phase == 0:
		return newValidationErrorf("rubric_selector", ErrInvalidPhase, "a phase (1-4) or rubric text is required")
	default:
		return s.Phase.Validate()
	}
}

// Resolve returns the rubric text and phase for the selector. Custom text
// resolves to phase 0.
func (s RubricSelector) Resolve(c *Catalog) (string, Phase, error) {
	if err := s.Validate(); err != nil {
		return "", 0, err
	}
	if s.IsCustom() {
		return s.Text, 0, nil
	}
	r, err := c.Rubric(s.Phase)
	if err != nil {
		return "", 0, err
	}
	return r.Text(), s.Phase, nil
}
