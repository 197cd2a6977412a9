package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aicoder/pkg/contract"
	"aicoder/pkg/logx"
	"aicoder/pkg/metrics"
	"aicoder/pkg/state"
)

// Runner executes one agent against a state with retry and per-attempt timeout.
// A Runner is safe for concurrent use; per-run variants are derived with WithLogger.
type Runner struct {
	resolver  Resolver
	logger    *logx.Logger
	metrics   metrics.Recorder
	backoff   BackoffConfig
	overrides map[string]Config
	timeouts  map[string]time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics sets the recorder for attempt metrics.
func WithMetrics(rec metrics.Recorder) RunnerOption {
	return func(r *Runner) {
		if rec != nil {
			r.metrics = rec
		}
	}
}

// WithBackoff sets the delay policy between attempts.
func WithBackoff(b BackoffConfig) RunnerOption {
	return func(r *Runner) { r.backoff = b }
}

// WithAgentConfig overrides the executable config for one agent.
func WithAgentConfig(name string, cfg Config) RunnerOption {
	return func(r *Runner) { r.overrides[name] = cfg }
}

// WithAgentTimeout overrides the per-attempt time budget for one agent.
func WithAgentTimeout(name string, d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeouts[name] = d
		}
	}
}

// WithClock replaces the time source used for stage records.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner resolving agents through resolver.
func NewRunner(resolver Resolver, opts ...RunnerOption) *Runner {
	r := &Runner{
		resolver:  resolver,
		logger:    logx.NewLogger("runner"),
		metrics:   metrics.Nop(),
		backoff:   DefaultBackoffConfig,
		overrides: make(map[string]Config),
		timeouts:  make(map[string]time.Duration),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLogger returns a copy of the runner that logs through logger.
func (r *Runner) WithLogger(logger *logx.Logger) *Runner {
	cp := *r
	cp.logger = logger
	return &cp
}

// MaxAttempts is the number of attempts for c: the global override when
// positive, otherwise the contract's retry budget, and never less than one.
func MaxAttempts(c *contract.Contract, override int) int {
	n := c.RetryBudget
	if override > 0 {
		n = override
	}
	return max(n, 1)
}

// Run invokes agent name against st, making up to maxAttempts attempts.
//
// On success it returns a new state holding the merged outputs and one
// failure stage per earlier attempt plus the success stage. On exhaustion it
// returns st with the failure stages appended and an AgentRetriesExhaustedError.
// Cancellation of ctx returns st with what has been recorded so far and the
// cancellation cause; st itself is never modified.
func (r *Runner) Run(ctx context.Context, name string, st *state.State, maxAttempts int) (*state.State, state.Outcome, error) {
	if st.Status().IsTerminal() {
		return st, state.OutcomeNone, fmt.Errorf("agent %s not run: run %s is %s: %w",
			name, st.RunID(), st.Status(), state.ErrRunTerminal)
	}

	exec, err := r.resolver.Resolve(name)
	if err != nil {
		return st, state.OutcomeNone, err //nolint:wrapcheck // registry errors are typed
	}
	c, err := r.resolver.Contract(name)
	if err != nil {
		return st, state.OutcomeNone, err //nolint:wrapcheck // registry errors are typed
	}
	validator, err := r.resolver.OutputValidator(name)
	if err != nil {
		return st, state.OutcomeNone, err //nolint:wrapcheck // registry errors are typed
	}

	var override *Config
	if o, ok := r.overrides[name]; ok {
		override = &o
	}
	cfg := ConfigFor(&c, override)
	timeout := c.EffectiveTimeout()
	if d, ok := r.timeouts[name]; ok {
		timeout = d
	}

	attempts := max(maxAttempts, 1)
	current := st
	var last *AgentExecutionError
	made := 0

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.backoff.Delay(attempt-1)); err != nil {
				return current, state.OutcomeNone, fmt.Errorf("agent %s retry cancelled: %w", name, err)
			}
		}

		made = attempt
		start := r.now()
		outputs, err := r.attempt(ctx, exec, &c, current, cfg, timeout)
		if err == nil {
			outputs, err = r.acceptOutputs(&c, validator, outputs)
		}
		end := r.now()

		if err == nil {
			merged, mergeErr := current.Merge(outputs)
			if mergeErr != nil {
				return current, state.OutcomeNone, mergeErr //nolint:wrapcheck // already descriptive
			}
			merged = merged.WithStage(state.StageRecord{
				Agent:   name,
				Start:   start,
				End:     end,
				Outcome: state.OutcomeSuccess,
				Attempt: attempt,
			})
			r.metrics.ObserveAttempt(st.RunID(), name, string(state.OutcomeSuccess), end.Sub(start))
			r.logger.Info("agent %s succeeded on attempt %d/%d in %v", name, attempt, attempts, end.Sub(start))
			return merged, state.OutcomeSuccess, nil
		}

		if ctx.Err() != nil {
			r.logger.Warn("agent %s attempt %d interrupted: %v", name, attempt, context.Cause(ctx))
			return current, state.OutcomeNone, fmt.Errorf("agent %s interrupted: %w", name, context.Cause(ctx))
		}

		last = &AgentExecutionError{Agent: name, Attempt: attempt, Cause: err}
		current = current.WithStage(state.StageRecord{
			Agent:   name,
			Start:   start,
			End:     end,
			Outcome: state.OutcomeFailure,
			Error:   err.Error(),
			Attempt: attempt,
		})
		r.metrics.ObserveAttempt(st.RunID(), name, string(state.OutcomeFailure), end.Sub(start))

		if !last.ShouldRetry() {
			r.logger.Warn("agent %s attempt %d/%d failed permanently: %v", name, attempt, attempts, err)
			break
		}
		r.logger.Warn("agent %s attempt %d/%d failed: %v", name, attempt, attempts, err)
	}

	return current, state.OutcomeFailure, &AgentRetriesExhaustedError{Agent: name, Attempts: made, Last: last}
}

type attemptResult struct {
	outputs map[string]any
	err     error
}

// attempt runs the executable once under its own deadline. The attempt context
// is always cancelled on return; an executable that ignores cancellation is
// abandoned and its late result dropped into the buffered channel.
func (r *Runner) attempt(
	ctx context.Context,
	exec Executable,
	c *contract.Contract,
	st *state.State,
	cfg Config,
	timeout time.Duration,
) (map[string]any, error) {
	if missing := missingInputs(c, st); len(missing) > 0 {
		return nil, Permanent(fmt.Errorf("%w: %v", ErrMissingInput, missing))
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- attemptResult{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		out, err := exec.Execute(attemptCtx, st, cfg)
		done <- attemptResult{outputs: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v: %w", ErrAttemptTimeout, timeout, res.err)
		}
		return res.outputs, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("%w after %v", ErrAttemptTimeout, timeout)
	}
}

// acceptOutputs keeps only declared output fields and validates them against
// the compiled schema. An empty output schema accepts every field.
func (r *Runner) acceptOutputs(c *contract.Contract, v *contract.Validator, outputs map[string]any) (map[string]any, error) {
	if len(c.Outputs) == 0 {
		return jsonValues(outputs)
	}

	accepted := make(map[string]any, len(outputs))
	for k, val := range outputs {
		if !c.Outputs.Declares(k) {
			r.logger.Warn("agent %s returned undeclared field %q, dropping it", c.Name, k)
			continue
		}
		accepted[k] = val
	}
	if err := v.Validate(accepted); err != nil {
		return nil, err //nolint:wrapcheck // validator error names the schema
	}
	return jsonValues(accepted)
}

// jsonValues converts outputs to the generic values encoding/json decodes
// into (float64, []any, map[string]any), the same shape checkpoint stores
// return, so a resumed run merges exactly what an uninterrupted one did.
func jsonValues(outputs map[string]any) (map[string]any, error) {
	if len(outputs) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("outputs are not JSON-serializable: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("outputs are not JSON-serializable: %w", err)
	}
	return out, nil
}

func missingInputs(c *contract.Contract, st state.View) []string {
	var missing []string
	for _, field := range c.Inputs.Fields() {
		if !st.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}
