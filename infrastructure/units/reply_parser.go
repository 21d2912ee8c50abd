package units

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/intellego/evalpipe/internal/domain"
)

// Section names a free-text section of a scoring reply.
type Section string

// Text sections of a scoring reply, in the order they are requested.
const (
	SectionStrengths       Section = "strengths"
	SectionImprovements    Section = "improvements"
	SectionGeneralComments Section = "general_comments"
	SectionAnalysis        Section = "analysis"
)

// Sections lists every text section in reply order.
var Sections = []Section{SectionStrengths, SectionImprovements, SectionGeneralComments, SectionAnalysis}

// maxHeaderDistance is the largest edit distance at which a line still
// counts as a known header.
const maxHeaderDistance = 2

// maxHeaderRunes keeps prose lines that contain a colon from being
// compared against the header aliases.
const maxHeaderRunes = 32

// ParsedReply is the partial result of parsing a scoring reply. Every field
// is optional: zero levels, nil numbers and absent sections mean the reply
// did not carry them.
type ParsedReply struct {
	Levels   [domain.CriterionCount]domain.Level
	Score    *int
	Metrics  [domain.CriterionCount]*int
	Sections map[Section]string
}

// LevelCount returns how many level lines parsed.
func (p *ParsedReply) LevelCount() int {
	n := 0
	for _, l := range p.Levels {
		if l.Valid() {
			n++
		}
	}
	return n
}

// Section returns the cleaned body of s and whether it was present.
func (p *ParsedReply) Section(s Section) (string, bool) {
	text, ok := p.Sections[s]
	return text, ok
}

// SectionOrDefault returns the body of s or domain.NotSpecified.
func (p *ParsedReply) SectionOrDefault(s Section) string {
	if text, ok := p.Sections[s]; ok {
		return text
	}
	return domain.NotSpecified
}

type headerKind int

const (
	headerNone headerKind = iota
	headerSection
	headerScore
	headerMetric
)

type headerMatch struct {
	kind    headerKind
	section Section
	metric  int
	rest    string
}

type alias struct {
	folded string
	match  headerMatch
}

var headerAliases = buildAliases()

func buildAliases() []alias {
	var out []alias
	add := func(m headerMatch, names ...string) {
		for _, n := range names {
			out = append(out, alias{folded: foldString(n), match: m})
		}
	}
	add(headerMatch{kind: headerSection, section: SectionStrengths}, "STRENGTHS", "FORTALEZAS")
	add(headerMatch{kind: headerSection, section: SectionImprovements}, "IMPROVEMENTS", "AREAS FOR IMPROVEMENT", "MEJORAS")
	add(headerMatch{kind: headerSection, section: SectionGeneralComments}, "GENERAL COMMENTS", "NEXT STEPS", "COMENTARIOS GENERALES")
	add(headerMatch{kind: headerSection, section: SectionAnalysis}, "ANALYSIS", "AI ANALYSIS", "ANALISIS IA", "ANALISIS AI")
	add(headerMatch{kind: headerScore}, "SCORE", "TOTAL SCORE", "PUNTAJE")
	add(headerMatch{kind: headerMetric, metric: 0}, "COMPREHENSION", "COMPRENSION")
	add(headerMatch{kind: headerMetric, metric: 1}, "CRITICAL THINKING", "PENSAMIENTO CRITICO")
	add(headerMatch{kind: headerMetric, metric: 2}, "SELF REGULATION", "AUTORREGULACION")
	add(headerMatch{kind: headerMetric, metric: 3}, "PRACTICAL APPLICATION", "APLICACION PRACTICA")
	add(headerMatch{kind: headerMetric, metric: 4}, "METACOGNITION", "METACOGNICION")
	return out
}

var (
	// levelLine matches "Q3_LEVEL: 4", "**Q3_LEVEL:** 4", "Q3 level: 4",
	// "- q3-level = 4" and the Spanish "Q3_NIVEL: 4".
	levelLine = regexp.MustCompile(`(?i)^[\s>*#\-•]*q\s*([1-5])[\s_\-]*(?:level|nivel)\s*\**\s*[:=]\s*\**\s*\[?\s*([1-4])\b`)

	// criterionLine matches any per-criterion field line; it ends a section.
	criterionLine = regexp.MustCompile(`(?i)^[\s>*#\-•]*q\s*[1-5][\s_\-]*(?:level|nivel|justification|justificaci)`)

	numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

	headerDecoration = regexp.MustCompile(`^[\s>#*\-•]+`)
	separatorRun     = regexp.MustCompile(`[_\-\s]+`)

	boldMarker    = regexp.MustCompile(`\*\*`)
	headingMarker = regexp.MustCompile(`(?m)^[ \t]*#+[ \t]*`)
	ruleMarker    = regexp.MustCompile(`-{3,}`)
	bulletMarker  = regexp.MustCompile(`(?m)^[ \t]*(?:[-*•][ \t]+|•)`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// ParseEvaluationReply reads a scoring reply line by line. It never fails;
// anything it cannot recognise is left out of the result.
func ParseEvaluationReply(text string) *ParsedReply {
	p := &ParsedReply{Sections: make(map[Section]string)}

	var (
		current Section
		body    []string
	)
	flush := func() {
		if current == "" {
			return
		}
		if cleaned := cleanMarkdown(strings.Join(body, "\n")); cleaned != "" {
			if _, seen := p.Sections[current]; !seen {
				p.Sections[current] = cleaned
			}
		}
		current, body = "", nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := levelLine.FindStringSubmatch(line); m != nil {
			flush()
			q, _ := strconv.Atoi(m[1])
			lv, _ := strconv.Atoi(m[2])
			if p.Levels[q-1] == 0 {
				p.Levels[q-1] = domain.Level(lv)
			}
			continue
		}
		if criterionLine.MatchString(line) {
			flush()
			continue
		}

		h := matchHeader(line)
		switch h.kind {
		case headerSection:
			if h.section == current {
				// "Strength: ..." inside STRENGTHS is content.
				body = append(body, line)
				continue
			}
			flush()
			current = h.section
			if rest := strings.TrimSpace(h.rest); rest != "" {
				body = append(body, rest)
			}
		case headerScore:
			flush()
			if n, ok := parseNumber(h.rest); ok && p.Score == nil {
				p.Score = &n
			}
		case headerMetric:
			flush()
			if n, ok := parseNumber(h.rest); ok && p.Metrics[h.metric] == nil {
				p.Metrics[h.metric] = &n
			}
		default:
			if current != "" {
				body = append(body, line)
			}
		}
	}
	flush()
	return p
}

// matchHeader decides whether line opens a known section or carries a
// score or metric value. A header needs a colon, an '=' or markdown
// decoration so that ordinary prose lines are not mistaken for one.
func matchHeader(line string) headerMatch {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return headerMatch{}
	}
	decorated := strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "**")

	plain := strings.ReplaceAll(headerDecoration.ReplaceAllString(trimmed, ""), "*", "")
	name, rest, found := strings.Cut(plain, ":")
	if !found {
		name, rest, found = strings.Cut(plain, "=")
	}
	if !found && !decorated {
		return headerMatch{}
	}

	name = strings.TrimSpace(separatorRun.ReplaceAllString(name, " "))
	if name == "" || len([]rune(name)) > maxHeaderRunes {
		return headerMatch{}
	}
	folded := foldString(name)

	best, bestDist := headerMatch{}, maxHeaderDistance+1
	for _, a := range headerAliases {
		if d := levenshtein.ComputeDistance(folded, a.folded); d < bestDist {
			best, bestDist = a.match, d
		}
	}
	if bestDist > maxHeaderDistance {
		return headerMatch{}
	}
	best.rest = rest
	return best
}

// parseNumber returns the first number in s rounded half up.
func parseNumber(s string) (int, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return domain.RoundHalfUp(f), true
}

// cleanMarkdown strips formatting so the text reads well outside a
// markdown renderer while keeping paragraph breaks.
func cleanMarkdown(text string) string {
	text = boldMarker.ReplaceAllString(text, "")
	text = headingMarker.ReplaceAllString(text, "")
	text = ruleMarker.ReplaceAllString(text, "")
	text = bulletMarker.ReplaceAllString(text, "• ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
