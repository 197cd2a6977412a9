package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/limiter"
	"aicoder/pkg/logx"
)

func fixed(name, text string) Generator {
	return GeneratorFunc{Name: name, Fn: func(context.Context, Request) (Response, error) {
		return Response{Text: text, Model: name}, nil
	}}
}

func broken(name string, errType ErrorType) Generator {
	return GeneratorFunc{Name: name, Fn: func(context.Context, Request) (Response, error) {
		return Response{}, NewError(errType, name+" is down")
	}}
}

type generation struct {
	runID, agent, model string
	prompt, completion  int
	success             bool
	errorType           string
}

type fakeRecorder struct {
	mu          sync.Mutex
	generations []generation
	throttles   []string
}

func (f *fakeRecorder) ObserveAttempt(_, _, _ string, _ time.Duration) {}
func (f *fakeRecorder) ObserveRun(_ string, _ time.Duration)          {}
func (f *fakeRecorder) ObserveReroute(_, _ string, _ bool)            {}

func (f *fakeRecorder) ObserveGeneration(runID, agent, model string, p, c int, ok bool, errType string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generations = append(f.generations, generation{runID, agent, model, p, c, ok, errType})
}

func (f *fakeRecorder) IncThrottle(model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.throttles = append(f.throttles, model)
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Generator) Generator {
			return GeneratorFunc{Name: next.Model(), Fn: func(ctx context.Context, req Request) (Response, error) {
				order = append(order, name)
				return next.Generate(ctx, req)
			}}
		}
	}

	g := Chain(fixed("m", "hi"), tag("outer"), tag("inner"))
	_, err := g.Generate(context.Background(), NewRequest("", "x", 10, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, "m", g.Model())
}

func TestValidationRejectsEmptyAndBlank(t *testing.T) {
	g := Chain(fixed("m", "   "), WithValidation())

	_, err := g.Generate(context.Background(), Request{})
	assert.True(t, Is(err, ErrorTypeBadPrompt))

	_, err = g.Generate(context.Background(), NewRequest("", "x", 10, 0))
	assert.True(t, Is(err, ErrorTypeEmptyResponse))
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr))
	assert.True(t, llmErr.ShouldRetry())
}

func TestMetricsEstimatesMissingUsage(t *testing.T) {
	rec := &fakeRecorder{}
	g := Chain(fixed("m", "some completion text"), WithMetrics(rec, nil))

	ctx := WithCall(context.Background(), Call{RunID: "run-1", Agent: "coder"})
	resp, err := g.Generate(ctx, NewRequest("", "a prompt of some length", 10, 0))
	require.NoError(t, err)
	assert.Positive(t, resp.CompletionTokens)

	require.Len(t, rec.generations, 1)
	got := rec.generations[0]
	assert.Equal(t, "run-1", got.runID)
	assert.Equal(t, "coder", got.agent)
	assert.True(t, got.success)
	assert.Positive(t, got.prompt)

	_, err = Chain(broken("m", ErrorTypeAuth), WithMetrics(rec, nil)).Generate(ctx, NewRequest("", "x", 10, 0))
	require.Error(t, err)
	assert.Equal(t, "auth", rec.generations[1].errorType)
	assert.False(t, rec.generations[1].success)
}

func TestRateLimitRejectsOversizedRequest(t *testing.T) {
	l := limiter.New(limiter.Limits{TokensPerMinute: 20})
	g := Chain(fixed("m", "ok"), WithRateLimit(l, nil, nil))

	_, err := g.Generate(context.Background(), NewRequest("", "tiny", 100, 0))
	require.Error(t, err)
	assert.True(t, Is(err, ErrorTypeBadPrompt))
	assert.ErrorIs(t, err, limiter.ErrRateLimit)
}

func TestRateLimitCountsThrottle(t *testing.T) {
	rec := &fakeRecorder{}
	l := limiter.New(limiter.Limits{RequestsPerMinute: 1})
	g := Chain(fixed("m", "ok"), WithRateLimit(l, nil, rec))

	_, err := g.Generate(context.Background(), NewRequest("", "x", 1, 0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, NewRequest("", "x", 1, 0))
	require.Error(t, err)
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.Equal(t, []string{"m"}, rec.throttles)
}

func TestFallbackUsesNextProvider(t *testing.T) {
	g := Fallback(broken("primary", ErrorTypeRateLimit), fixed("secondary", "from secondary"))
	assert.Equal(t, "primary,secondary", g.Model())

	resp, err := g.Generate(context.Background(), NewRequest("", "x", 10, 0))
	require.NoError(t, err)
	assert.Equal(t, "from secondary", resp.Text)
}

func TestFallbackAllFail(t *testing.T) {
	g := Fallback(broken("a", ErrorTypeTransient), broken("b", ErrorTypeAuth))
	_, err := g.Generate(context.Background(), NewRequest("", "x", 10, 0))
	require.Error(t, err)
	assert.True(t, Is(err, ErrorTypeAuth), "classified by the last provider")
	assert.ErrorContains(t, err, "all 2 providers failed")
}

func TestTimeoutMiddleware(t *testing.T) {
	slow := GeneratorFunc{Name: "slow", Fn: func(ctx context.Context, _ Request) (Response, error) {
		<-ctx.Done()
		return Response{}, Classify(ctx.Err(), 0, "slow")
	}}
	_, err := Chain(slow, WithTimeout(5*time.Millisecond)).Generate(context.Background(), NewRequest("", "x", 1, 0))
	assert.True(t, Is(err, ErrorTypeTransient))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoggingPassesThrough(t *testing.T) {
	g := Chain(broken("m", ErrorTypeEmptyResponse), WithLogging(logx.NewLogger("llm-test")))
	_, err := g.Generate(context.Background(), NewRequest("sys", "x", 1, 0))
	assert.True(t, Is(err, ErrorTypeEmptyResponse))
}
