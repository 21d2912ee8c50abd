package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/intellego/evalpipe/internal/domain"
)

// SampleResponseSet returns a five-answer reflective report.
func SampleResponseSet() domain.ResponseSet {
	return domain.ResponseSet{
		{
			ID:           "a1",
			QuestionID:   "q1",
			QuestionText: "What problem did you work on this week?",
			AnswerText:   "I struggled with balancing chemical equations because I kept forgetting to count oxygen atoms on both sides.",
			Kind:         "reflection",
		},
		{
			ID:           "a2",
			QuestionID:   "q2",
			QuestionText: "Which variables affected the result?",
			AnswerText:   "The coefficients and the subscripts. Changing a subscript changes the substance, so only coefficients can move.",
			Kind:         "reflection",
		},
		{
			ID:           "a3",
			QuestionID:   "q3",
			QuestionText: "What tools or strategies did you use?",
			AnswerText:   "I made a table with one column per element and checked it after every change.",
			Kind:         "reflection",
		},
		{
			ID:           "a4",
			QuestionID:   "q4",
			QuestionText: "How did you evaluate your strategy?",
			AnswerText:   "It worked for simple reactions but combustion reactions still took me many tries.",
			Kind:         "reflection",
		},
		{
			ID:           "a5",
			QuestionID:   "q5",
			QuestionText: "What will you do differently next week?",
			AnswerText:   "Start with the most complex molecule first and leave oxygen and hydrogen for last.",
			Kind:         "reflection",
		},
	}
}

// EvaluationReply renders a well-formed scoring reply with one level line
// per criterion and every text section filled.
func EvaluationReply(levels [domain.CriterionCount]int) string {
	var b strings.Builder
	b.WriteString("EVALUATION PER QUESTION:\n")
	for i, l := range levels {
		fmt.Fprintf(&b, "Q%d_LEVEL: %d\n", i+1, l)
		fmt.Fprintf(&b, "Q%d_JUSTIFICATION: The answer shows level %d work.\n\n", i+1, l)
	}
	b.WriteString("STRENGTHS:\n- Clear description of the difficulty.\n- Uses a table to check progress.\n\n")
	b.WriteString("IMPROVEMENTS:\n- Explain why the strategy fails for combustion.\n\n")
	b.WriteString("GENERAL_COMMENTS:\nGood, honest reflection.\n\n")
	b.WriteString("ANALYSIS:\nNext phase: compare two strategies on the same reaction.\n")
	return b.String()
}

// MarkdownEvaluationReply renders the reply the way chat models often
// decorate it: bold keys, headings, rules and mixed header spellings.
func MarkdownEvaluationReply(levels [domain.CriterionCount]int) string {
	var b strings.Builder
	b.WriteString("## Evaluation per question\n\n")
	for i, l := range levels {
		switch i % 3 {
		case 0:
			fmt.Fprintf(&b, "**Q%d_LEVEL:** %d\n", i+1, l)
		case 1:
			fmt.Fprintf(&b, "Q%d level: %d\n", i+1, l)
		default:
			fmt.Fprintf(&b, "- q%d-level = %d\n", i+1, l)
		}
		fmt.Fprintf(&b, "**Q%d_JUSTIFICATION:** Reasoning for question %d.\n\n", i+1, i+1)
	}
	b.WriteString("---\n\n### **Fortalezas:**\n* Identifica la dificultad.\n* Usa una tabla.\n\n\n\n")
	b.WriteString("**Areas for improvment:**\n- Justify the order of balancing.\n\n")
	b.WriteString("## Next Steps\nPractice combustion reactions.\n\n")
	b.WriteString("**ANÁLISIS IA:**\nMove on to phase 2.\n")
	return b.String()
}

// LegacyEvaluationReply has no level lines, only a score and metrics.
const LegacyEvaluationReply = `SCORE: 73

STRENGTHS:
Solid effort.

COMPREHENSION: 80
CRITICAL THINKING: 70
SELF_REGULATION: 65
PRACTICAL APPLICATION: 120
`

// AdjustmentReply renders the JSON object the adjustment pass expects.
func AdjustmentReply(
	delta int,
	justification, evidence string,
	metricDeltas [domain.CriterionCount]int,
	metricsJustification string,
) string {
	deltas := make(map[string]int, domain.CriterionCount)
	for i, name := range domain.MetricNames {
		deltas[name] = metricDeltas[i]
	}
	body, err := json.Marshal(map[string]any{
		"delta":                delta,
		"justification":        justification,
		"evidenceQuote":        evidence,
		"metricDeltas":         deltas,
		"metricsJustification": metricsJustification,
	})
	if err != nil {
		panic(err)
	}
	return string(body)
}
