// Package units provides the evaluation units of the pipeline: the scoring
// unit that grades a response set against a rubric in one provider call,
// the tolerant parser for its replies, the prompt segment builder, and the
// contextual adjustment unit.
package units

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
)

// Common errors returned by the units.
var (
	// ErrNilLLMClient is returned when a unit is built without a client.
	ErrNilLLMClient = errors.New("LLM client cannot be nil")

	// ErrNoJSON is returned when a reply carries no JSON object.
	ErrNoJSON = errors.New("no JSON object found in reply")
)

var (
	// Package-level validator instance for configuration validation.
	validate = validator.New()

	whitespaceRun = regexp.MustCompile(`\s+`)
)

// foldString applies Unicode case folding and collapses whitespace.
// A cases.Caser keeps state, so each call builds its own.
func foldString(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(cases.Fold().String(s), " "))
}

// similarity returns 1 - distance/maxRuneLen, in [0,1].
func similarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	maxLen := utf8.RuneCountInString(s1)
	if n := utf8.RuneCountInString(s2); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}
	sim := 1.0 - float64(levenshtein.ComputeDistance(s1, s2))/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// extractJSON pulls the first JSON object out of a reply. It prefers a
// fenced code block and otherwise scans for a balanced object, ignoring
// braces inside strings. It returns "" when nothing is found.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		// Skip any language identifier.
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escapeNext := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
