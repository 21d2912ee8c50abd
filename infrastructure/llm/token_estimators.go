package llm

import "sync"

// CharacterBasedTokenEstimator estimates tokens from the byte length.
type CharacterBasedTokenEstimator struct{ charsPerToken float64 }

// NewCharacterBasedTokenEstimator creates a character-based token estimator.
// Non-positive input falls back to 4 characters per token.
func NewCharacterBasedTokenEstimator(charactersPerToken float64) *CharacterBasedTokenEstimator {
	if charactersPerToken <= 0 {
		charactersPerToken = 4.0
	}
	return &CharacterBasedTokenEstimator{charsPerToken: charactersPerToken}
}

// EstimateTokens calculates token count based on character count.
func (e *CharacterBasedTokenEstimator) EstimateTokens(text string) int {
	return int(float64(len(text)) / e.charsPerToken)
}

// CachingTokenEstimator memoises another estimator. Rubric segments are
// estimated once per call, so the same few large strings repeat often.
// It is safe for concurrent use.
type CachingTokenEstimator struct {
	underlying TokenEstimator
	mu         sync.RWMutex
	cache      map[string]int
	maxSize    int
}

// NewCachingTokenEstimator creates a caching wrapper for any TokenEstimator.
// Once maxSize entries are stored, new texts are estimated but not cached.
func NewCachingTokenEstimator(underlying TokenEstimator, maxSize int) *CachingTokenEstimator {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if underlying == nil {
		underlying = &SimpleTokenEstimator{}
	}
	return &CachingTokenEstimator{
		underlying: underlying,
		cache:      make(map[string]int),
		maxSize:    maxSize,
	}
}

// EstimateTokens returns the cached estimate or computes and stores it.
func (e *CachingTokenEstimator) EstimateTokens(text string) int {
	e.mu.RLock()
	tokens, exists := e.cache[text]
	e.mu.RUnlock()
	if exists {
		return tokens
	}

	tokens = e.underlying.EstimateTokens(text)

	e.mu.Lock()
	if len(e.cache) < e.maxSize {
		e.cache[text] = tokens
	}
	e.mu.Unlock()

	return tokens
}
