package units

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/intellego/evalpipe/internal/domain"
	"github.com/intellego/evalpipe/internal/ports"
)

// DefaultSubject is used when an evaluation names no subject.
const DefaultSubject = domain.DefaultSubject

// maxAnswerRunes bounds each answer in the user message.
const maxAnswerRunes = 6000

// BuildSegments returns the stable system segments of a scoring request in
// order: the role instructions, then the rubric with the evaluation
// instructions. Both are cacheable; the answers travel in the user message.
func BuildSegments(subject, rubricText string) []ports.Segment {
	subject = domain.NormalizeSubject(subject)
	return []ports.Segment{
		{Text: roleInstructions(subject), Cacheable: true},
		{Text: strings.TrimSpace(rubricText) + "\n\n" + evaluationInstructions, Cacheable: true},
	}
}

// BuildRequest assembles the complete scoring request for one response set.
func BuildRequest(
	subject, rubricText string,
	phase domain.Phase,
	responses domain.ResponseSet,
	maxTokens int,
	temperature float64,
) (ports.CompletionRequest, error) {
	subject = domain.NormalizeSubject(subject)
	user, err := renderScoringUserMessage(subject, phase, responses)
	if err != nil {
		return ports.CompletionRequest{}, err
	}
	return ports.CompletionRequest{
		SystemSegments: BuildSegments(subject, rubricText),
		UserMessage:    user,
		MaxTokens:      maxTokens,
		Temperature:    ports.Float64(temperature),
	}, nil
}

func roleInstructions(subject string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an experienced %s teacher grading weekly critical-thinking reports.\n\n", subject)
	fmt.Fprintf(&b, "Evaluate EACH of the %d criteria (Q1-Q%d) by assigning a LEVEL (1, 2, 3 or 4) "+
		"according to the rubric descriptors.\n\n", domain.CriterionCount, domain.CriterionCount)
	b.WriteString("Level system:\n")
	for l := domain.LevelExcellent; l >= domain.LevelInitial; l-- {
		r := l.Range()
		fmt.Fprintf(&b, "- Level %d (%.0f-%.0f points) -> %g points: %s\n", int(l), r.Min, r.Max, l.Points(), l)
	}
	b.WriteString(`
Writing style:
- Formal but friendly, as if talking to a 16 year old student.
- Short paragraphs of at most 3-4 lines.
- Make clear what the student did well, what to improve and how.
- Each justification is at most 2-3 lines.`)
	return b.String()
}

const evaluationInstructions = `EVALUATION INSTRUCTIONS:

For each criterion (Q1-Q5):
1. Read the student's answer.
2. Compare it with the rubric descriptors.
3. Assign the level (1-4) that best describes it.
4. Justify in at most 2-3 lines with concrete examples of what the student wrote.

Also provide:
- STRENGTHS: 2-3 concrete points with specific examples.
- IMPROVEMENTS: 2-3 areas, each a problem plus a practical suggestion.
- GENERAL_COMMENTS: a 3-4 line synthesis.
- ANALYSIS: recommendations for the next phase in 4-5 lines.

Be fair, objective and consistent.`

var scoringUserTemplate = template.Must(template.New("scoring-user").Funcs(GetTemplateFuncMap()).Parse(
	`<weekly_report>
SUBJECT: {{.Subject}}
{{- if .Phase}}
PHASE: {{.Phase}}
{{- end}}
{{range $i, $a := .Answers}}
=== QUESTION {{add $i 1}} ===
{{trim $a.QuestionText}}

STUDENT ANSWER:
{{truncate (trim $a.AnswerText) $.MaxAnswerRunes}}
{{end}}
</weekly_report>

<required_output_format>
{{range .Criteria}}Q{{.}}_LEVEL: [1, 2, 3 or 4]
Q{{.}}_JUSTIFICATION: [2-3 lines citing what the student wrote]

{{end}}STRENGTHS:
[Short paragraphs, one strength each]

IMPROVEMENTS:
[Short paragraphs, problem plus suggestion]

GENERAL_COMMENTS:
[Synthesis]

ANALYSIS:
[Recommendations for the next phase]

SCORE: [0-100]
{{range .Metrics}}{{.}}: [0-100]
{{end}}</required_output_format>`))

// metricHeaders are the metric line labels requested from the provider.
var metricHeaders = [domain.CriterionCount]string{
	"COMPREHENSION",
	"CRITICAL_THINKING",
	"SELF_REGULATION",
	"PRACTICAL_APPLICATION",
	"METACOGNITION",
}

func renderScoringUserMessage(subject string, phase domain.Phase, responses domain.ResponseSet) (string, error) {
	criteria := make([]int, domain.CriterionCount)
	for i := range criteria {
		criteria[i] = i + 1
	}
	data := struct {
		Subject        string
		Phase          int
		Answers        domain.ResponseSet
		MaxAnswerRunes int
		Criteria       []int
		Metrics        []string
	}{
		Subject:        subject,
		Phase:          int(phase),
		Answers:        responses,
		MaxAnswerRunes: maxAnswerRunes,
		Criteria:       criteria,
		Metrics:        metricHeaders[:],
	}

	var buf bytes.Buffer
	if err := scoringUserTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render scoring prompt: %w", err)
	}
	return buf.String(), nil
}
