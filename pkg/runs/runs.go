// Package runs is the run API: it starts runs in the background, tracks the
// ones in flight, and answers status queries from the checkpoint store.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aicoder/pkg/checkpoint"
	"aicoder/pkg/consistency"
	"aicoder/pkg/logx"
	"aicoder/pkg/state"
	"aicoder/pkg/workflow"
)

var (
	// ErrRunNotFound is returned for a run ID with no checkpoint.
	ErrRunNotFound = errors.New("run not found")

	// ErrCheckpointNotFound is the store's not-found sentinel.
	ErrCheckpointNotFound = checkpoint.ErrNotFound

	// ErrRunInProgress is returned when resuming a run that is already executing.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrRunNotActive is returned when waiting on a run that is neither
	// executing nor finished.
	ErrRunNotActive = errors.New("run is not executing")
)

// Status describes a run as of its latest checkpoint.
type Status struct {
	RunID      string                `json:"run_id"`
	Status     state.Status          `json:"status"`
	Active     bool                  `json:"active"`
	Cursor     string                `json:"cursor,omitempty"`
	Topology   workflow.TopologySpec `json:"topology"`
	Stages     []state.StageRecord   `json:"stages"`
	Routes     []state.RoutingRecord `json:"routes,omitempty"`
	Error      string                `json:"error,omitempty"`
	Report     *consistency.Report   `json:"report,omitempty"`
	Checkpoint int                   `json:"checkpoint"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Engine is what the service needs from the workflow engine.
type Engine interface {
	Prepare(ctx context.Context, runID, userInput string, spec workflow.TopologySpec) (*checkpoint.Snapshot, error)
	Execute(ctx context.Context, snap *checkpoint.Snapshot) (*workflow.Result, error)
}

// Service runs workflows in the background. Runs are independent: each has
// its own goroutine, logger and cancellation.
type Service struct {
	engine      Engine
	store       checkpoint.Store
	newID       func() string
	concurrency int
	logger      *logx.Logger

	mu     sync.Mutex
	active map[string]*handle
	wg     sync.WaitGroup
}

type handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
	result *workflow.Result
	err    error
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator replaces the UUID run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithConcurrency caps how many runs ResumeAll executes at once. Zero means no cap.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// NewService creates a run service.
func NewService(engine Engine, store checkpoint.Store, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		store:  store,
		newID:  uuid.NewString,
		logger: logx.NewLogger("runs"),
		active: make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRun validates spec, persists the pending run and executes it in the
// background. Startup errors are returned before any agent runs.
func (s *Service) StartRun(ctx context.Context, input string, spec workflow.TopologySpec) (string, error) {
	runID := s.newID()
	snap, err := s.engine.Prepare(ctx, runID, input, spec)
	if err != nil {
		return "", err //nolint:wrapcheck // engine errors are typed
	}
	if err := s.launch(ctx, snap); err != nil {
		return "", err
	}
	return runID, nil
}

// ResumeRun continues a run from its latest checkpoint in the background.
// The run is claimed before its checkpoint is read, so a concurrent ResumeRun
// or Abort of the same run fails with ErrRunInProgress instead of racing it.
func (s *Service) ResumeRun(ctx context.Context, runID string) (string, error) {
	h, runCtx, err := s.claim(ctx, runID)
	if err != nil {
		return "", err
	}
	snap, err := s.load(ctx, runID)
	if err == nil && snap.Status.IsTerminal() {
		err = fmt.Errorf("run %s is %s: %w", runID, snap.Status, state.ErrRunTerminal)
	}
	if err != nil {
		s.release(runID, h, nil, err)
		return "", err
	}
	s.start(runCtx, h, snap)
	return runID, nil
}

func (s *Service) launch(ctx context.Context, snap *checkpoint.Snapshot) error {
	h, runCtx, err := s.claim(ctx, snap.RunID)
	if err != nil {
		return err
	}
	s.start(runCtx, h, snap)
	return nil
}

// claim registers runID as executing in this service.
func (s *Service) claim(ctx context.Context, runID string) (*handle, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[runID]; ok {
		return nil, nil, fmt.Errorf("run %s: %w", runID, ErrRunInProgress)
	}
	h, runCtx := s.register(ctx, runID)
	return h, runCtx, nil
}

// register adds a handle for runID. s.mu must be held.
func (s *Service) register(ctx context.Context, runID string) (*handle, context.Context) {
	// Runs outlive the request that started them but keep its values.
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{})}
	s.active[runID] = h
	s.wg.Add(1)
	return h, runCtx
}

// release records a claimed run's result and wakes its waiters.
func (s *Service) release(runID string, h *handle, res *workflow.Result, err error) {
	s.mu.Lock()
	h.result, h.err = res, err
	delete(s.active, runID)
	s.mu.Unlock()
	h.cancel(nil)
	close(h.done)
	s.wg.Done()
}

func (s *Service) start(runCtx context.Context, h *handle, snap *checkpoint.Snapshot) {
	go func() {
		res, err := s.engine.Execute(runCtx, snap)
		s.release(snap.RunID, h, res, err)

		if res != nil {
			s.logger.Info("run %s finished executing with status %s", snap.RunID, res.Status)
		} else {
			s.logger.Error("run %s could not execute: %v", snap.RunID, err)
		}
	}()
}

// Wait blocks until the run stops executing and returns its result. For a
// run that is not executing, Wait returns the result recorded in its latest
// checkpoint if it is terminal and ErrRunNotActive otherwise.
func (s *Service) Wait(ctx context.Context, runID string) (*workflow.Result, error) {
	s.mu.Lock()
	h, ok := s.active[runID]
	s.mu.Unlock()

	if ok {
		select {
		case <-h.done:
			return h.result, h.err
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for run %s: %w", runID, ctx.Err())
		}
	}

	snap, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !snap.Status.IsTerminal() {
		return nil, fmt.Errorf("run %s is %s at %q: %w", runID, snap.Status, snap.Cursor, ErrRunNotActive)
	}
	res := &workflow.Result{
		RunID:  runID,
		Status: snap.Status,
		State:  snap.State(),
		Report: snap.Report,
	}
	if snap.Error != "" {
		res.Err = errors.New(snap.Error)
	}
	return res, res.Err
}

// Abort ends a run with status aborted. An executing run is cancelled with
// workflow.ErrRunAborted; a paused run is claimed and finalized directly.
func (s *Service) Abort(ctx context.Context, runID string) error {
	s.mu.Lock()
	if active, ok := s.active[runID]; ok {
		s.mu.Unlock()
		active.cancel(workflow.ErrRunAborted)
		s.logger.Info("abort requested for run %s", runID)
		return nil
	}
	h, runCtx := s.register(ctx, runID)
	s.mu.Unlock()

	snap, err := s.load(ctx, runID)
	if err == nil && snap.Status.IsTerminal() {
		err = fmt.Errorf("run %s is %s: %w", runID, snap.Status, state.ErrRunTerminal)
	}
	if err != nil {
		s.release(runID, h, nil, err)
		return err
	}

	h.cancel(workflow.ErrRunAborted)
	res, err := s.engine.Execute(runCtx, snap)
	s.release(runID, h, res, err)
	if res != nil && res.Status == state.StatusAborted {
		s.logger.Info("aborted paused run %s", runID)
		return nil
	}
	return err //nolint:wrapcheck // engine errors are typed
}

// GetStatus returns the run's latest checkpointed status.
func (s *Service) GetStatus(ctx context.Context, runID string) (Status, error) {
	snap, err := s.load(ctx, runID)
	if err != nil {
		return Status{}, err
	}
	return s.statusOf(snap), nil
}

// ListRuns returns the status of every checkpointed run, sorted by run ID.
func (s *Service) ListRuns(ctx context.Context) ([]Status, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		snap, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s.statusOf(snap))
	}
	return out, nil
}

// History returns every checkpoint of the run in order.
func (s *Service) History(ctx context.Context, runID string) ([]checkpoint.Snapshot, error) {
	history, err := s.store.History(ctx, runID)
	if err != nil {
		return nil, translate(runID, err)
	}
	return history, nil
}

// ResumeAll resumes every non-terminal run that is not executing and waits
// for all of them. Failed runs are reported in their results; the error
// covers only runs that could not be resumed.
func (s *Service) ResumeAll(ctx context.Context) ([]*workflow.Result, error) {
	statuses, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	var pending []string
	for i := range statuses {
		if !statuses[i].Status.IsTerminal() && !statuses[i].Active {
			pending = append(pending, statuses[i].RunID)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	s.logger.Info("resuming %d runs", len(pending))

	results := make([]*workflow.Result, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, id := range pending {
		g.Go(func() error {
			if _, err := s.ResumeRun(gctx, id); err != nil {
				return err
			}
			res, _ := s.Wait(gctx, id)
			results[i] = res
			return nil
		})
	}
	err = g.Wait()

	out := make([]*workflow.Result, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}
	return out, err //nolint:wrapcheck // errors from ResumeRun are already wrapped
}

// Close interrupts every executing run, leaving it resumable, and waits for
// their goroutines to exit.
func (s *Service) Close() {
	s.mu.Lock()
	for _, h := range s.active {
		h.cancel(context.Canceled)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) isActive(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runID]
	return ok
}

func (s *Service) load(ctx context.Context, runID string) (*checkpoint.Snapshot, error) {
	snap, err := s.store.Load(ctx, runID)
	if err != nil {
		return nil, translate(runID, err)
	}
	return snap, nil
}

func (s *Service) statusOf(snap *checkpoint.Snapshot) Status {
	return Status{
		RunID:      snap.RunID,
		Status:     snap.Status,
		Active:     s.isActive(snap.RunID),
		Cursor:     snap.Cursor,
		Topology:   snap.Topology,
		Stages:     snap.Stages,
		Routes:     snap.Routes,
		Error:      snap.Error,
		Report:     snap.Report,
		Checkpoint: snap.Seq,
		UpdatedAt:  snap.SavedAt,
	}
}

// translate maps the store's not-found error to ErrRunNotFound, keeping the
// original in the chain.
func translate(runID string, err error) error {
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("run %s: %w: %w", runID, ErrRunNotFound, err)
	}
	return fmt.Errorf("run %s: %w", runID, err)
}
