package units

import (
	"strings"
	"text/template"
	"unicode/utf8"
)

// GetTemplateFuncMap returns the function map used by the prompt templates.
// Every function is stateless and returns a safe default instead of
// panicking, since a template panic would abort the provider call.
//
//	tmpl := template.Must(template.New("user").Funcs(GetTemplateFuncMap()).Parse(src))
func GetTemplateFuncMap() template.FuncMap {
	return template.FuncMap{
		// add converts 0-based range indexes to question numbers.
		// Template usage: {{add $i 1}}
		"add": func(a, b int) int {
			return a + b
		},

		// trim removes leading and trailing whitespace.
		"trim": strings.TrimSpace,

		// upper returns s in upper case.
		"upper": strings.ToUpper,

		// truncate limits s to n runes, adding "..." when it cuts.
		// Returns "" for n <= 0.
		// Template usage: {{truncate .AnswerText 4000}}
		"truncate": func(s string, n int) string {
			if n <= 0 {
				return ""
			}
			if utf8.RuneCountInString(s) <= n {
				return s
			}
			r := []rune(s)
			if n > 3 {
				return string(r[:n-3]) + "..."
			}
			return string(r[:n])
		},

		// orDefault returns def when s is blank.
		// Template usage: {{orDefault .AnswerText "(no answer)"}}
		"orDefault": func(s, def string) string {
			if strings.TrimSpace(s) == "" {
				return def
			}
			return s
		},
	}
}
