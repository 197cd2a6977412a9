package llm

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens with a tiktoken codec. Every supported model is
// approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

//nolint:gochecknoglobals // codec tables are built once per process
var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// DefaultCounter returns a shared GPT-4 counter, or nil when the codec cannot be built.
func DefaultCounter() *TokenCounter {
	defaultCounterOnce.Do(func() {
		defaultCounter, _ = NewTokenCounter("gpt-4")
	})
	return defaultCounter
}

// Count returns the tokens in text, estimating 4 characters per token when
// no codec is available.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Fits reports whether text is within limit tokens.
func (tc *TokenCounter) Fits(text string, limit int) bool {
	return tc.Count(text) <= limit
}

// Truncate shortens text proportionally to fit limit tokens. The cut is by
// characters, so the result is approximate.
func (tc *TokenCounter) Truncate(text string, limit int) string {
	n := tc.Count(text)
	if n <= limit {
		return text
	}
	charLimit := int(float64(len(text)) * float64(limit) / float64(n) * 0.9)
	if charLimit >= len(text) {
		return text
	}
	if charLimit < 0 {
		charLimit = 0
	}
	return text[:charLimit] + "..."
}
