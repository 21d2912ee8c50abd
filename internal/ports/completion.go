package ports

// Segment is one block of system prompt text. Cacheable segments are stable
// across calls and may be served from the provider's prompt cache.
type Segment struct {
	Text      string
	Cacheable bool
}

// CompletionRequest is a provider-neutral completion call.
// Providers that support explicit cache markers attach them to cacheable
// segments; the rest concatenate SystemSegments into one system prompt.
type CompletionRequest struct {
	SystemSegments []Segment
	UserMessage    string
	MaxTokens      int
	// Temperature is optional; nil leaves the provider default.
	Temperature   *float64
	StopSequences []string
}

// SystemText joins every system segment with a blank line.
func (r CompletionRequest) SystemText() string {
	var n int
	for _, s := range r.SystemSegments {
		n += len(s.Text) + 2
	}
	buf := make([]byte, 0, n)
	for i, s := range r.SystemSegments {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// TokenUsage is the four-tier usage of one call. Input excludes tokens
// written to or read from the prompt cache.
type TokenUsage struct {
	Input      int
	Output     int
	CacheWrite int
	CacheRead  int
}

// Total returns the sum of all four tiers.
func (u TokenUsage) Total() int { return u.Input + u.Output + u.CacheWrite + u.CacheRead }

// CompletionResponse is the provider-neutral result of a completion call.
type CompletionResponse struct {
	Text      string
	Usage     TokenUsage
	RequestID string
	Model     string
}

// Float64 returns a pointer to v, for optional request fields.
func Float64(v float64) *float64 { return &v }
