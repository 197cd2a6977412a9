// Package state holds the execution state threaded through a workflow run.
//
// A State is a value: every merge or append returns a new State derived from
// the previous one and leaves the receiver untouched. Values stored under data
// keys are shared between derived states and must be treated as read-only.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"
)

// ErrRunTerminal is returned when work is attempted against a finished run.
var ErrRunTerminal = errors.New("run is in a terminal status")

// Status is the lifecycle status of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// IsTerminal reports whether no further agent may execute in this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

func (s Status) String() string {
	return string(s)
}

// Outcome classifies one stage.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// StageRecord is an append-only audit entry for one agent attempt.
type StageRecord struct {
	Agent   string    `json:"agent"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
	Attempt int       `json:"attempt"`
}

// RoutingRecord records a workflow reroute decision, distinct from agent attempts.
type RoutingRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Reason    string    `json:"reason"`
	Accepted  bool      `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
}

// Well-known data keys seeded at run start.
const (
	KeyUserInput      = "user_input"
	KeyTimestamp      = "timestamp"
	KeyWorkflowStep   = "workflow_step"
	KeyGeneratedFiles = "generated_files"
	KeyErrors         = "errors"
	KeyWarnings       = "warnings"
	KeyWorkflowStatus = "workflow_status"
	KeyNextAgent      = "next_agent"
)

// State is the immutable-per-stage execution state of one run.
type State struct {
	runID  string
	status Status
	data   map[string]any
	stages []StageRecord
	routes []RoutingRecord
}

// New creates a pending state for runID seeded with the user's request.
func New(runID, userInput string, now time.Time) *State {
	return &State{
		runID:  runID,
		status: StatusPending,
		data: map[string]any{
			KeyUserInput:      userInput,
			KeyTimestamp:      now.UTC().Format(time.RFC3339),
			KeyWorkflowStep:   "initialized",
			KeyGeneratedFiles: map[string]any{},
			KeyErrors:         []any{},
			KeyWarnings:       []any{},
		},
	}
}

// Restore rebuilds a state from persisted parts.
func Restore(runID string, status Status, data map[string]any, stages []StageRecord, routes []RoutingRecord) *State {
	if data == nil {
		data = map[string]any{}
	}
	return &State{
		runID:  runID,
		status: status,
		data:   maps.Clone(data),
		stages: slices.Clone(stages),
		routes: slices.Clone(routes),
	}
}

func (s *State) clone() *State {
	return &State{
		runID:  s.runID,
		status: s.status,
		data:   maps.Clone(s.data),
		stages: slices.Clone(s.stages),
		routes: slices.Clone(s.routes),
	}
}

func (s *State) RunID() string  { return s.runID }
func (s *State) Status() Status { return s.status }

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// GetString returns the string under key, or "" when absent or not a string.
func (s *State) GetString(key string) string {
	v, _ := s.data[key].(string)
	return v
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.data[key]
	return ok
}

// Keys returns the data keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Data returns a shallow copy of the data map.
func (s *State) Data() map[string]any {
	return maps.Clone(s.data)
}

// Stages returns a copy of the stage log.
func (s *State) Stages() []StageRecord {
	return slices.Clone(s.stages)
}

// Routes returns a copy of the routing log.
func (s *State) Routes() []RoutingRecord {
	return slices.Clone(s.routes)
}

// Merge returns a new state with outputs merged in, last writer wins per key.
// Merging into a terminal state is refused.
func (s *State) Merge(outputs map[string]any) (*State, error) {
	if s.status.IsTerminal() {
		return nil, fmt.Errorf("cannot merge into %s run %s: %w", s.status, s.runID, ErrRunTerminal)
	}
	next := s.clone()
	for k, v := range outputs {
		next.data[k] = v
	}
	return next, nil
}

// WithStage returns a new state with rec appended to the stage log.
func (s *State) WithStage(rec StageRecord) *State {
	next := s.clone()
	next.stages = append(next.stages, rec)
	return next
}

// WithRoute returns a new state with rec appended to the routing log.
func (s *State) WithRoute(rec RoutingRecord) *State {
	next := s.clone()
	next.routes = append(next.routes, rec)
	return next
}

// WithStatus returns a new state carrying status. Leaving a terminal status is refused.
func (s *State) WithStatus(status Status) (*State, error) {
	if s.status.IsTerminal() && status != s.status {
		return nil, fmt.Errorf("run %s is %s, cannot move to %s: %w", s.runID, s.status, status, ErrRunTerminal)
	}
	next := s.clone()
	next.status = status
	return next, nil
}

// SucceededAgents returns the agents with at least one successful stage.
func (s *State) SucceededAgents() map[string]bool {
	out := make(map[string]bool)
	for i := range s.stages {
		if s.stages[i].Outcome == OutcomeSuccess {
			out[s.stages[i].Agent] = true
		}
	}
	return out
}

// Decode converts the value under key into out through JSON, so values that
// came back from a checkpoint as generic maps decode into typed structs.
func (s *State) Decode(key string, out any) error {
	v, ok := s.data[key]
	if !ok {
		return fmt.Errorf("state key %q not present", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// View is the read-only surface handed to agent executables.
type View interface {
	RunID() string
	Get(key string) (any, bool)
	GetString(key string) string
	Has(key string) bool
	Keys() []string
	Decode(key string, out any) error
}

var _ View = (*State)(nil)
