package domain

// tokensPerMillion is the unit the rate table is expressed in.
const tokensPerMillion = 1_000_000.0

// RateTable holds per-million-token prices for the four billing tiers.
type RateTable struct {
	InputPerMTok      float64 `yaml:"input_per_mtok" envconfig:"INPUT_PER_MTOK" validate:"gte=0"`
	OutputPerMTok     float64 `yaml:"output_per_mtok" envconfig:"OUTPUT_PER_MTOK" validate:"gte=0"`
	CacheWritePerMTok float64 `yaml:"cache_write_per_mtok" envconfig:"CACHE_WRITE_PER_MTOK" validate:"gte=0"`
	CacheReadPerMTok  float64 `yaml:"cache_read_per_mtok" envconfig:"CACHE_READ_PER_MTOK" validate:"gte=0"`
}

// DefaultRateTable returns the default prices in USD.
func DefaultRateTable() RateTable {
	return RateTable{
		InputPerMTok:      1.00,
		OutputPerMTok:     5.00,
		CacheWritePerMTok: 1.25,
		CacheReadPerMTok:  0.10,
	}
}

// TokenCounts is the four-tier usage reported for a single provider call.
// Input excludes tokens written to or read from the prompt cache.
type TokenCounts struct {
	Input      int
	Output     int
	CacheWrite int
	CacheRead  int
}

// CostInfo is the derived cost of one provider call.
type CostInfo struct {
	CostUSD          float64 `json:"costUSD"`
	Model            string  `json:"model"`
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	CacheWriteTokens int     `json:"cacheWriteTokens"`
	CacheReadTokens  int     `json:"cacheReadTokens"`
	CacheHit         bool    `json:"cacheHit"`
}

// Cost prices a four-tier usage report. Negative counts are treated as 0.
func (r RateTable) Cost(model string, u TokenCounts) CostInfo {
	in, out := nonNegative(u.Input), nonNegative(u.Output)
	cw, cr := nonNegative(u.CacheWrite), nonNegative(u.CacheRead)

	cost := float64(in)*r.InputPerMTok/tokensPerMillion +
		float64(out)*r.OutputPerMTok/tokensPerMillion +
		float64(cw)*r.CacheWritePerMTok/tokensPerMillion +
		float64(cr)*r.CacheReadPerMTok/tokensPerMillion

	return CostInfo{
		CostUSD:          cost,
		Model:            model,
		InputTokens:      in,
		OutputTokens:     out,
		CacheWriteTokens: cw,
		CacheReadTokens:  cr,
		CacheHit:         cr > 0,
	}
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Add sums two cost reports. The model of the receiver wins unless empty.
func (c CostInfo) Add(o CostInfo) CostInfo {
	model := c.Model
	if model == "" {
		model = o.Model
	}
	return CostInfo{
		CostUSD:          c.CostUSD + o.CostUSD,
		Model:            model,
		InputTokens:      c.InputTokens + o.InputTokens,
		OutputTokens:     c.OutputTokens + o.OutputTokens,
		CacheWriteTokens: c.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  c.CacheReadTokens + o.CacheReadTokens,
		CacheHit:         c.CacheHit || o.CacheHit,
	}
}
