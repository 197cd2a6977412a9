package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/contract"
	"aicoder/pkg/state"
)

type fakeResolver struct {
	contracts map[string]contract.Contract
	execs     map[string]Executable
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		contracts: make(map[string]contract.Contract),
		execs:     make(map[string]Executable),
	}
}

func (f *fakeResolver) add(c contract.Contract, exec Executable) {
	f.contracts[c.Name] = c
	f.execs[c.Name] = exec
}

func (f *fakeResolver) Resolve(name string) (Executable, error) {
	if e, ok := f.execs[name]; ok {
		return e, nil
	}
	return nil, &contract.UnknownAgentError{Name: name}
}

func (f *fakeResolver) Contract(name string) (contract.Contract, error) {
	if c, ok := f.contracts[name]; ok {
		return c, nil
	}
	return contract.Contract{}, &contract.UnknownAgentError{Name: name}
}

func (f *fakeResolver) OutputValidator(name string) (*contract.Validator, error) {
	c, err := f.Contract(name)
	if err != nil {
		return nil, err
	}
	return c.CompileOutputs()
}

func runningState(t *testing.T) *state.State {
	t.Helper()
	st, err := state.New("run-test", "make a thing", time.Now()).WithStatus(state.StatusRunning)
	require.NoError(t, err)
	return st
}

func TestRunnerSuccessMergesIntoCopy(t *testing.T) {
	res := newFakeResolver()
	res.add(contract.Contract{
		Name:        "planner",
		Inputs:      contract.Schema{"user_input": contract.TypeString},
		Outputs:     contract.Schema{"plan": contract.TypeObject},
		RetryBudget: 3,
	}, ExecutableFunc(func(_ context.Context, view state.View, _ Config) (map[string]any, error) {
		return map[string]any{
			"plan":       map[string]any{"for": view.GetString("user_input")},
			"undeclared": true,
		}, nil
	}))

	st := runningState(t)
	runner := NewRunner(res, WithBackoff(NoBackoff))
	next, outcome, err := runner.Run(context.Background(), "planner", st, 3)
	require.NoError(t, err)

	assert.Equal(t, state.OutcomeSuccess, outcome)
	assert.False(t, st.Has("plan"), "input state must not be mutated")
	assert.Empty(t, st.Stages())
	assert.True(t, next.Has("plan"))
	assert.False(t, next.Has("undeclared"), "undeclared outputs are dropped")

	stages := next.Stages()
	require.Len(t, stages, 1)
	assert.Equal(t, "planner", stages[0].Agent)
	assert.Equal(t, 1, stages[0].Attempt)
	assert.Empty(t, stages[0].Error)
}

func TestRunnerRetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	res := newFakeResolver()
	res.add(contract.Contract{Name: "coder", RetryBudget: 2},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			calls.Add(1)
			return nil, boom
		}))

	st := runningState(t)
	c, _ := res.Contract("coder")
	next, outcome, err := NewRunner(res, WithBackoff(NoBackoff)).
		Run(context.Background(), "coder", st, MaxAttempts(&c, 0))

	assert.Equal(t, state.OutcomeFailure, outcome)
	assert.Equal(t, int32(2), calls.Load())

	var exhausted *AgentRetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, 2, exhausted.Last.Attempt)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, boom)

	stages := next.Stages()
	require.Len(t, stages, 2)
	for i, s := range stages {
		assert.Equal(t, state.OutcomeFailure, s.Outcome)
		assert.Equal(t, i+1, s.Attempt)
		assert.Equal(t, "boom", s.Error)
	}
	assert.Equal(t, st.Data(), next.Data(), "failed attempts merge nothing")
}

func TestRunnerRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	res := newFakeResolver()
	res.add(contract.Contract{Name: "tester", RetryBudget: 3},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			if calls.Add(1) < 3 {
				return map[string]any{"partial": true}, errors.New("flaky")
			}
			return map[string]any{"testing_status": "completed"}, nil
		}))

	next, outcome, err := NewRunner(res, WithBackoff(NoBackoff)).
		Run(context.Background(), "tester", runningState(t), 3)
	require.NoError(t, err)
	assert.Equal(t, state.OutcomeSuccess, outcome)
	assert.False(t, next.Has("partial"))
	assert.Equal(t, "completed", next.GetString("testing_status"))

	stages := next.Stages()
	require.Len(t, stages, 3)
	assert.Equal(t, state.OutcomeFailure, stages[0].Outcome)
	assert.Equal(t, state.OutcomeFailure, stages[1].Outcome)
	assert.Equal(t, state.OutcomeSuccess, stages[2].Outcome)
}

func TestRunnerTimeoutCountsAsFailure(t *testing.T) {
	res := newFakeResolver()
	res.add(contract.Contract{Name: "slow", RetryBudget: 2},
		ExecutableFunc(func(ctx context.Context, _ state.View, _ Config) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	runner := NewRunner(res, WithBackoff(NoBackoff), WithAgentTimeout("slow", 20*time.Millisecond))
	next, outcome, err := runner.Run(context.Background(), "slow", runningState(t), 2)

	assert.Equal(t, state.OutcomeFailure, outcome)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Len(t, next.Stages(), 2)
}

func TestRunnerAbandonsExecutableIgnoringCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	res := newFakeResolver()
	res.add(contract.Contract{Name: "stuck", RetryBudget: 1},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			<-release
			return map[string]any{"late": true}, nil
		}))

	runner := NewRunner(res, WithAgentTimeout("stuck", 10*time.Millisecond))
	next, outcome, err := runner.Run(context.Background(), "stuck", runningState(t), 1)

	assert.Equal(t, state.OutcomeFailure, outcome)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.False(t, next.Has("late"))
}

func TestRunnerPermanentErrorStopsEarly(t *testing.T) {
	var calls atomic.Int32
	res := newFakeResolver()
	res.add(contract.Contract{Name: "auth", RetryBudget: 5},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			calls.Add(1)
			return nil, Permanent(errors.New("invalid api key"))
		}))

	_, outcome, err := NewRunner(res, WithBackoff(NoBackoff)).Run(context.Background(), "auth", runningState(t), 5)
	assert.Equal(t, state.OutcomeFailure, outcome)
	assert.Equal(t, int32(1), calls.Load())

	var exhausted *AgentRetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
}

func TestRunnerMissingInputIsPermanent(t *testing.T) {
	var calls atomic.Int32
	res := newFakeResolver()
	res.add(contract.Contract{Name: "tester", RetryBudget: 3, Inputs: contract.Schema{"test_plan": contract.TypeObject}},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			calls.Add(1)
			return nil, nil
		}))

	next, _, err := NewRunner(res).Run(context.Background(), "tester", runningState(t), 3)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Zero(t, calls.Load())
	assert.Len(t, next.Stages(), 1)
}

func TestRunnerSchemaMismatchFailsAttempt(t *testing.T) {
	res := newFakeResolver()
	res.add(contract.Contract{Name: "planner", RetryBudget: 1, Outputs: contract.Schema{"plan": contract.TypeObject}},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			return map[string]any{"plan": "not an object"}, nil
		}))

	next, outcome, err := NewRunner(res).Run(context.Background(), "planner", runningState(t), 1)
	assert.Equal(t, state.OutcomeFailure, outcome)
	require.Error(t, err)
	assert.False(t, next.Has("plan"))
}

func TestRunnerMergesJSONValues(t *testing.T) {
	type file struct {
		Path string `json:"path"`
	}
	outputs := func(context.Context, state.View, Config) (map[string]any, error) {
		return map[string]any{
			"file_count": 2,
			"files":      []file{{Path: "main.go"}, {Path: "util.go"}},
		}, nil
	}

	tests := []struct {
		name     string
		contract contract.Contract
	}{
		{"declared outputs", contract.Contract{Name: "coder", RetryBudget: 1, Outputs: contract.Schema{
			"file_count": contract.TypeInteger,
			"files":      contract.TypeArray,
		}}},
		{"no declared outputs", contract.Contract{Name: "coder", RetryBudget: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newFakeResolver()
			res.add(tt.contract, ExecutableFunc(outputs))

			next, _, err := NewRunner(res).Run(context.Background(), "coder", runningState(t), 1)
			require.NoError(t, err)

			count, _ := next.Get("file_count")
			assert.Equal(t, float64(2), count)
			files, _ := next.Get("files")
			assert.Equal(t, []any{
				map[string]any{"path": "main.go"},
				map[string]any{"path": "util.go"},
			}, files)
		})
	}
}

func TestRunnerRejectsUnserializableOutputs(t *testing.T) {
	res := newFakeResolver()
	res.add(contract.Contract{Name: "coder", RetryBudget: 1},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			return map[string]any{"callback": func() {}}, nil
		}))

	next, outcome, err := NewRunner(res).Run(context.Background(), "coder", runningState(t), 1)
	assert.Equal(t, state.OutcomeFailure, outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not JSON-serializable")
	assert.False(t, next.Has("callback"))
}

func TestRunnerRecoversPanics(t *testing.T) {
	res := newFakeResolver()
	res.add(contract.Contract{Name: "crashy", RetryBudget: 1},
		ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
			panic("nil map")
		}))

	_, outcome, err := NewRunner(res).Run(context.Background(), "crashy", runningState(t), 1)
	assert.Equal(t, state.OutcomeFailure, outcome)
	assert.ErrorContains(t, err, "agent panicked: nil map")
}

func TestRunnerRefusesTerminalState(t *testing.T) {
	res := newFakeResolver()
	res.add(contract.Contract{Name: "planner"}, ExecutableFunc(func(context.Context, state.View, Config) (map[string]any, error) {
		t.Fatal("executable must not run")
		return nil, nil
	}))

	st, err := runningState(t).WithStatus(state.StatusCompleted)
	require.NoError(t, err)
	_, _, err = NewRunner(res).Run(context.Background(), "planner", st, 1)
	assert.ErrorIs(t, err, state.ErrRunTerminal)
}

func TestRunnerUnknownAgent(t *testing.T) {
	_, _, err := NewRunner(newFakeResolver()).Run(context.Background(), "ghost", runningState(t), 1)
	assert.ErrorIs(t, err, contract.ErrUnknownAgent)
}

func TestRunnerParentCancellationRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	res := newFakeResolver()
	res.add(contract.Contract{Name: "planner", RetryBudget: 3},
		ExecutableFunc(func(ctx context.Context, _ state.View, _ Config) (map[string]any, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	next, outcome, err := NewRunner(res).Run(ctx, "planner", runningState(t), 3)
	assert.Equal(t, state.OutcomeNone, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, next.Stages())
}

func TestRunnerPassesConfigOverrides(t *testing.T) {
	var got Config
	res := newFakeResolver()
	res.add(contract.Contract{Name: "coder", MaxTokens: 1000, Temperature: 0.2, Options: map[string]any{"lang": "go"}},
		ExecutableFunc(func(_ context.Context, _ state.View, cfg Config) (map[string]any, error) {
			got = cfg
			return nil, nil
		}))

	runner := NewRunner(res, WithAgentConfig("coder", Config{MaxTokens: 2000, Options: map[string]any{"style": "terse"}}))
	_, _, err := runner.Run(context.Background(), "coder", runningState(t), 1)
	require.NoError(t, err)

	assert.Equal(t, 2000, got.MaxTokens)
	assert.InDelta(t, 0.2, got.Temperature, 0.0001)
	assert.Equal(t, "go", got.Option("lang", ""))
	assert.Equal(t, "terse", got.Option("style", ""))
}

func TestMaxAttempts(t *testing.T) {
	c := &contract.Contract{RetryBudget: 0}
	assert.Equal(t, 1, MaxAttempts(c, 0))
	c.RetryBudget = 4
	assert.Equal(t, 4, MaxAttempts(c, 0))
	assert.Equal(t, 2, MaxAttempts(c, 2))
}

func TestBackoffDelay(t *testing.T) {
	b := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, time.Duration(0), b.Delay(0))
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 300*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Duration(0), NoBackoff.Delay(3))
}
