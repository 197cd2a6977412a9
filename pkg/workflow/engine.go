// Package workflow drives runs through their agents: it owns the run
// lifecycle, the simple and conditional topologies, fallback rerouting and
// checkpointing.
//
// One run executes its agents strictly one at a time. Independent runs may
// execute concurrently on the same Engine; they share only the finalized
// registry and the checkpoint store, each under its own run ID.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aicoder/pkg/agent"
	"aicoder/pkg/checkpoint"
	"aicoder/pkg/consistency"
	"aicoder/pkg/contract"
	"aicoder/pkg/logx"
	"aicoder/pkg/metrics"
	"aicoder/pkg/state"
)

// Registry is what the engine needs from the agent registry.
type Registry interface {
	agent.Resolver
	DependenciesOf(name string) ([]string, error)
	Has(name string) bool
}

// Engine executes runs and persists a checkpoint after every agent invocation.
type Engine struct {
	registry       Registry
	runner         *agent.Runner
	store          checkpoint.Store
	validator      *consistency.Validator
	routers        map[string]DecisionFunc
	maxAttempts    int
	maxTransitions int
	metrics        metrics.Recorder
	now            func() time.Time
	logger         *logx.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator runs v on every completed run. Without one no report is attached.
func WithValidator(v *consistency.Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithRouter registers a decision function for conditional topologies.
func WithRouter(name string, fn DecisionFunc) Option {
	return func(e *Engine) { e.routers[name] = fn }
}

// WithMaxAttempts overrides every contract's retry budget when n is positive.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithMaxTransitions sets the transition cap for conditional runs that do not carry one.
func WithMaxTransitions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTransitions = n
		}
	}
}

// WithMetrics sets the recorder for run and reroute metrics.
func WithMetrics(rec metrics.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.metrics = rec
		}
	}
}

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine. The pipeline and orchestrated routers are always available.
func New(reg Registry, runner *agent.Runner, store checkpoint.Store, opts ...Option) *Engine {
	e := &Engine{
		registry:       reg,
		runner:         runner,
		store:          store,
		routers:        make(map[string]DecisionFunc),
		maxTransitions: DefaultMaxTransitions,
		metrics:        metrics.Nop(),
		now:            time.Now,
		logger:         logx.NewLogger("engine"),
	}
	e.routers[RouterPipeline] = Pipeline
	e.routers[RouterOrchestrated] = Orchestrated(reg.Has)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of executing a run, possibly partially.
type Result struct {
	RunID  string
	Status state.Status
	Cursor string
	State  *state.State
	Report *consistency.Report
	Err    error
}

// run is the engine's working copy of one run.
type run struct {
	id          string
	spec        TopologySpec
	decide      DecisionFunc
	st          *state.State
	cursor      string
	substitutes string
	index       int
	transitions int
	seq         int
	lastAgent   string
	lastOutcome state.Outcome
	recent      []string
	report      *consistency.Report
	err         error
	fallback    *FallbackRouter
	runner      *agent.Runner
	logger      *logx.Logger
	started     time.Time
}

const recentWindow = 8

// Validate checks that spec can run against the registry: every agent
// resolves, simple sequences order each agent after its dependencies, and
// conditional routers are registered. It fills in the default transition cap.
func (e *Engine) Validate(spec *TopologySpec) error {
	if err := validateSpec(spec); err != nil {
		return err
	}

	switch spec.Mode {
	case ModeSimple:
		seen := make(map[string]bool, len(spec.Agents))
		for _, name := range spec.Agents {
			if !e.registry.Has(name) {
				return &contract.UnknownAgentError{Name: name}
			}
			deps, err := e.registry.DependenciesOf(name)
			if err != nil {
				return fmt.Errorf("dependencies of %s: %w", name, err)
			}
			for _, dep := range deps {
				if !seen[dep] {
					return contract.NewInvalidContractError(name,
						"dependency %q does not run before %s in the sequence", dep, name)
				}
			}
			seen[name] = true
		}
	case ModeConditional:
		if _, ok := e.routers[spec.Router]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownRouter, spec.Router)
		}
		if spec.MaxTransitions == 0 {
			spec.MaxTransitions = e.maxTransitions
		}
	}
	return nil
}

// Prepare validates spec, creates the pending run and saves its first checkpoint.
func (e *Engine) Prepare(ctx context.Context, runID, userInput string, spec TopologySpec) (*checkpoint.Snapshot, error) {
	spec.Agents = append([]string(nil), spec.Agents...)
	if err := e.Validate(&spec); err != nil {
		return nil, err
	}

	st := state.New(runID, userInput, e.now())
	snap := &checkpoint.Snapshot{
		RunID:    runID,
		Seq:      1,
		Status:   st.Status(),
		Topology: spec,
		Data:     st.Data(),
		SavedAt:  e.now(),
	}
	if err := e.store.Save(ctx, runID, snap); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint for run %s: %w", runID, err)
	}
	e.logger.Info("prepared run %s (%s)", runID, describe(&spec))
	return snap, nil
}

// Start prepares a run and executes it to a terminal status or interruption.
func (e *Engine) Start(ctx context.Context, runID, userInput string, spec TopologySpec) (*Result, error) {
	snap, err := e.Prepare(ctx, runID, userInput, spec)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, snap)
}

// Resume loads the run's latest checkpoint and continues from its cursor.
func (e *Engine) Resume(ctx context.Context, runID string) (*Result, error) {
	snap, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return e.Execute(ctx, snap)
}

// Execute drives the run captured by snap. The returned error is nil only when
// the run completed; failed and aborted runs return their cause, and a
// cancelled ctx leaves the run running and resumable from its last checkpoint.
func (e *Engine) Execute(ctx context.Context, snap *checkpoint.Snapshot) (*Result, error) {
	if snap.Status.IsTerminal() {
		res := &Result{
			RunID:  snap.RunID,
			Status: snap.Status,
			State:  snap.State(),
			Report: snap.Report,
		}
		if snap.Error != "" {
			res.Err = errors.New(snap.Error)
		}
		return res, fmt.Errorf("run %s is %s: %w", snap.RunID, snap.Status, state.ErrRunTerminal)
	}

	spec := snap.Topology
	if err := e.Validate(&spec); err != nil {
		return nil, err
	}

	logger := logx.NewLogger("run-" + shortID(snap.RunID))
	r := &run{
		id:          snap.RunID,
		spec:        spec,
		decide:      e.routers[spec.Router],
		st:          snap.State(),
		cursor:      snap.Cursor,
		substitutes: snap.Substitutes,
		index:       snap.Index,
		transitions: snap.Transitions,
		seq:         snap.Seq,
		lastAgent:   snap.LastAgent,
		lastOutcome: snap.LastOutcome,
		fallback:    NewFallbackRouter(e.registry, snap.Attempted...),
		runner:      e.runner.WithLogger(logger),
		logger:      logger,
		started:     e.now(),
	}
	r.fallback.metrics = e.metrics
	r.fallback.logger = logger
	r.fallback.now = e.now

	if r.st.Status() == state.StatusPending {
		if err := e.begin(ctx, r); err != nil {
			return r.result(), err
		}
		if r.st.Status().IsTerminal() {
			return r.result(), r.err
		}
	} else {
		logger.Info("resuming at %q (checkpoint %d)", r.cursor, r.seq)
	}

	return e.loop(ctx, r)
}

// begin moves a pending run to running and selects its first agent.
func (e *Engine) begin(ctx context.Context, r *run) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(context.Cause(ctx), ErrRunAborted) {
			_, err := e.finish(ctx, r, state.StatusAborted, context.Cause(ctx))
			return err
		}
		return fmt.Errorf("run %s not started: %w", r.id, context.Cause(ctx))
	}
	if err := e.transition(r, state.StatusRunning); err != nil {
		return err
	}
	r.logger.Info("starting %s workflow", r.spec.Mode)

	switch r.spec.Mode {
	case ModeSimple:
		r.index = 0
		r.cursor = r.spec.Agents[0]
	case ModeConditional:
		next, err := r.decide(r.st, Step{})
		if err != nil {
			_, err = e.finish(ctx, r, state.StatusFailed, err)
			return err
		}
		if next == End {
			_, err = e.finish(ctx, r, state.StatusCompleted, nil)
			return err
		}
		if err := e.selectNext(r, next); err != nil {
			_, err = e.finish(ctx, r, terminalFor(err), err)
			return err
		}
	}
	return e.save(ctx, r)
}

func (e *Engine) loop(ctx context.Context, r *run) (*Result, error) {
	for {
		if r.cursor == "" {
			return e.finish(ctx, r, state.StatusCompleted, nil)
		}
		if ctx.Err() != nil {
			return e.interrupt(ctx, r)
		}

		name := r.cursor
		outcome, runErr := e.invoke(ctx, r, name)
		if outcome == state.OutcomeNone {
			if ctx.Err() != nil {
				return e.interrupt(ctx, r)
			}
			return e.finish(ctx, r, state.StatusFailed, runErr)
		}

		r.fallback.MarkAttempted(name)
		r.lastAgent, r.lastOutcome = name, outcome

		if outcome == state.OutcomeSuccess {
			done, err := e.advance(r, name)
			if err != nil {
				return e.finish(ctx, r, terminalFor(err), err)
			}
			if done {
				return e.finish(ctx, r, state.StatusCompleted, nil)
			}
		} else {
			next, st, ok := r.fallback.Route(name, r.st)
			r.st = st
			switch {
			case ok:
				if r.spec.Mode == ModeConditional {
					if err := e.countTransition(r, next); err != nil {
						return e.finish(ctx, r, state.StatusAborted, err)
					}
				}
				if r.substitutes == "" {
					r.substitutes = name
				}
				r.cursor = next
			case r.spec.Mode == ModeConditional:
				if err := e.redirect(r, name, outcome); err != nil {
					if errors.Is(err, errNoRedirect) {
						return e.finish(ctx, r, state.StatusFailed, runErr)
					}
					return e.finish(ctx, r, terminalFor(err), err)
				}
			default:
				return e.finish(ctx, r, state.StatusFailed, runErr)
			}
		}

		if err := e.save(ctx, r); err != nil {
			return r.result(), err
		}
	}
}

// invoke runs one agent. Conditional runs and fallbacks check dependencies
// first; an agent whose dependencies have not succeeded is skipped.
func (e *Engine) invoke(ctx context.Context, r *run, name string) (state.Outcome, error) {
	if r.spec.Mode == ModeConditional || r.substitutes != "" {
		deps, err := e.registry.DependenciesOf(name)
		if err != nil {
			return state.OutcomeNone, err //nolint:wrapcheck // registry errors are typed
		}
		satisfied := satisfiedAgents(r.st)
		var missing []string
		for _, dep := range deps {
			if !satisfied[dep] {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			now := e.now()
			r.st = r.st.WithStage(state.StageRecord{
				Agent:   name,
				Start:   now,
				End:     now,
				Outcome: state.OutcomeSkipped,
			})
			r.logger.Warn("skipping %s: dependencies not satisfied: %s", name, strings.Join(missing, ", "))
			return state.OutcomeSkipped, fmt.Errorf("agent %s skipped: dependencies not satisfied: %s",
				name, strings.Join(missing, ", "))
		}
	}

	c, err := e.registry.Contract(name)
	if err != nil {
		return state.OutcomeNone, err //nolint:wrapcheck // registry errors are typed
	}
	next, outcome, err := r.runner.Run(ctx, name, r.st, agent.MaxAttempts(&c, e.maxAttempts))
	r.st = next
	return outcome, err
}

// advance moves the cursor after a success. It reports done when the
// topology has no further agent.
func (e *Engine) advance(r *run, name string) (bool, error) {
	substituted := r.substitutes
	r.substitutes = ""

	if r.spec.Mode == ModeSimple {
		r.index++
		if r.index >= len(r.spec.Agents) {
			r.cursor = ""
			return true, nil
		}
		r.cursor = r.spec.Agents[r.index]
		return false, nil
	}

	next, err := r.decide(r.st, Step{Agent: name, Outcome: state.OutcomeSuccess, Substituted: substituted})
	if err != nil {
		return false, err
	}
	if next == End {
		r.cursor = ""
		return true, nil
	}
	return false, e.selectNext(r, next)
}

var errNoRedirect = errors.New("no redirect")

// redirect asks the decision function where a conditional run goes after
// name failed or was skipped and no fallback took over. errNoRedirect means
// the decision function returned End.
func (e *Engine) redirect(r *run, name string, outcome state.Outcome) error {
	next, err := r.decide(r.st, Step{Agent: name, Outcome: outcome, Substituted: r.substitutes})
	r.substitutes = ""
	if err != nil {
		return err
	}
	if next == End {
		return errNoRedirect
	}
	r.logger.Info("%s %s, router redirected to %s", name, outcome, next)
	return e.selectNext(r, next)
}

// selectNext makes next the cursor of a conditional run.
func (e *Engine) selectNext(r *run, next string) error {
	if !e.registry.Has(next) {
		return &contract.UnknownAgentError{Name: next}
	}
	if err := e.countTransition(r, next); err != nil {
		return err
	}
	r.cursor = next
	return nil
}

func (e *Engine) countTransition(r *run, next string) error {
	r.transitions++
	r.recent = append(r.recent, next)
	if len(r.recent) > recentWindow {
		r.recent = r.recent[len(r.recent)-recentWindow:]
	}
	if r.spec.MaxTransitions > 0 && r.transitions > r.spec.MaxTransitions {
		return &RoutingLoopError{RunID: r.id, Cap: r.spec.MaxTransitions, Recent: append([]string(nil), r.recent...)}
	}
	return nil
}

// interrupt handles a cancelled context: an explicit abort ends the run,
// anything else leaves it running at its cursor.
func (e *Engine) interrupt(ctx context.Context, r *run) (*Result, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrRunAborted) {
		return e.finish(ctx, r, state.StatusAborted, cause)
	}
	r.logger.Warn("interrupted at %q: %v", r.cursor, cause)
	if err := e.save(ctx, r); err != nil {
		return r.result(), err
	}
	return r.result(), fmt.Errorf("run %s interrupted at %s: %w", r.id, r.cursor, cause)
}

// finish moves the run to a terminal status and saves the final checkpoint.
func (e *Engine) finish(ctx context.Context, r *run, status state.Status, cause error) (*Result, error) {
	if status == state.StatusCompleted && e.validator != nil {
		r.report = e.validator.Validate(r.st)
	}
	if err := e.transition(r, status); err != nil {
		return r.result(), err
	}
	r.err = cause
	r.cursor = ""

	switch status {
	case state.StatusCompleted:
		if r.report != nil && !r.report.Consistent() {
			r.logger.Warn("completed with consistency warnings: %s", r.report.Summary())
		} else {
			r.logger.Info("completed")
		}
	default:
		r.logger.Error("%s: %v", status, cause)
	}
	e.metrics.ObserveRun(string(status), e.now().Sub(r.started))

	if err := e.save(ctx, r); err != nil {
		return r.result(), err
	}
	return r.result(), cause
}

func (e *Engine) transition(r *run, to state.Status) error {
	from := r.st.Status()
	if !IsValidTransition(from, to) {
		return fmt.Errorf("run %s: %s -> %s: %w", r.id, from, to, ErrInvalidTransition)
	}
	st, err := r.st.WithStatus(to)
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	r.st = st
	r.logger.DebugState("transition", string(to), "from "+string(from))
	return nil
}

// save appends the run's checkpoint. Saving outlives cancellation of ctx so
// an interrupted run keeps everything recorded up to the interruption.
func (e *Engine) save(ctx context.Context, r *run) error {
	r.seq++
	snap := &checkpoint.Snapshot{
		RunID:       r.id,
		Seq:         r.seq,
		Status:      r.st.Status(),
		Cursor:      r.cursor,
		Substitutes: r.substitutes,
		Index:       r.index,
		Transitions: r.transitions,
		LastAgent:   r.lastAgent,
		LastOutcome: r.lastOutcome,
		Attempted:   r.fallback.Attempted(),
		Topology:    r.spec,
		Data:        r.st.Data(),
		Stages:      r.st.Stages(),
		Routes:      r.st.Routes(),
		Report:      r.report,
		SavedAt:     e.now(),
	}
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	if err := e.store.Save(context.WithoutCancel(ctx), r.id, snap); err != nil {
		r.logger.Error("checkpoint %d failed: %v", r.seq, err)
		return fmt.Errorf("failed to save checkpoint for run %s: %w", r.id, err)
	}
	r.logger.Debug("checkpoint %d saved (status %s, cursor %q)", r.seq, snap.Status, snap.Cursor)
	return nil
}

func (r *run) result() *Result {
	return &Result{
		RunID:  r.id,
		Status: r.st.Status(),
		Cursor: r.cursor,
		State:  r.st,
		Report: r.report,
		Err:    r.err,
	}
}

// terminalFor maps a routing error to the status it ends the run with.
func terminalFor(err error) state.Status {
	if errors.Is(err, ErrRoutingLoop) {
		return state.StatusAborted
	}
	return state.StatusFailed
}

// satisfiedAgents returns the agents that succeeded, plus every agent a
// successful fallback stood in for.
func satisfiedAgents(st *state.State) map[string]bool {
	satisfied := st.SucceededAgents()

	origin := make(map[string]string)
	for _, route := range st.Routes() {
		if !route.Accepted {
			continue
		}
		from := route.From
		if o, ok := origin[from]; ok {
			from = o
		}
		origin[route.To] = from
	}
	for to, from := range origin {
		if satisfied[to] {
			satisfied[from] = true
		}
	}
	return satisfied
}

func describe(spec *TopologySpec) string {
	if spec.Mode == ModeSimple {
		return "simple: " + strings.Join(spec.Agents, " -> ")
	}
	return fmt.Sprintf("conditional: router %s, cap %d", spec.Router, spec.MaxTransitions)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
