package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   ErrorType
	}{
		{"status wins", errors.New("whatever"), 429, ErrorTypeRateLimit},
		{"unauthorized status", errors.New("nope"), 401, ErrorTypeAuth},
		{"server error", errors.New("boom"), 503, ErrorTypeTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), 0, ErrorTypeTransient},
		{"network text", errors.New("connection reset by peer"), 0, ErrorTypeTransient},
		{"quota text", errors.New("quota exhausted"), 0, ErrorTypeRateLimit},
		{"api key text", errors.New("invalid api key provided"), 0, ErrorTypeAuth},
		{"context length", errors.New("prompt exceeds context length"), 0, ErrorTypeBadPrompt},
		{"unknown", errors.New("strange"), 0, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(Classify(tt.err, tt.status, "test")))
		})
	}
}

func TestClassifyKeepsClassifiedErrors(t *testing.T) {
	orig := NewError(ErrorTypeAuth, "bad key")
	assert.Same(t, orig, Classify(orig, 500, "test"))
	assert.Nil(t, Classify(nil, 0, "test"))
}

func TestShouldRetry(t *testing.T) {
	assert.False(t, NewError(ErrorTypeAuth, "").ShouldRetry())
	assert.False(t, NewError(ErrorTypeBadPrompt, "").ShouldRetry())
	assert.True(t, NewError(ErrorTypeRateLimit, "").ShouldRetry())
	assert.True(t, NewError(ErrorTypeUnknown, "").ShouldRetry())
}

func TestTokenCounterFallback(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, 2, tc.Count("12345678"))

	c := DefaultCounter()
	assert.True(t, c.Fits("hello", 100))
	long := "word "
	for i := 0; i < 10; i++ {
		long += long
	}
	short := c.Truncate(long, 10)
	assert.Less(t, len(short), len(long))
}

func TestSplitSystem(t *testing.T) {
	sys, rest := SplitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", sys)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "u"}}, rest)
}
