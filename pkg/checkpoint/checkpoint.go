// Package checkpoint persists run snapshots so runs can be inspected and resumed.
//
// Every store keeps an append-only log per run: Save adds a snapshot with a
// sequence number greater than any saved before it, Load returns the latest
// one. Each run owns its own namespace, so writes for different runs never
// coordinate with each other.
package checkpoint

import (
	"context"
	"errors"
	"slices"
	"time"

	"aicoder/pkg/consistency"
	"aicoder/pkg/state"
)

var (
	// ErrNotFound is returned when no snapshot exists for a run.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStaleSnapshot is returned when a snapshot does not advance the run's sequence.
	ErrStaleSnapshot = errors.New("snapshot sequence does not advance")
)

// Topology is the persisted description of a run's workflow topology. A
// conditional topology is identified by the name of a registered router.
type Topology struct {
	Mode           string   `json:"mode"`
	Agents         []string `json:"agents,omitempty"`
	Router         string   `json:"router,omitempty"`
	MaxTransitions int      `json:"max_transitions,omitempty"`
}

// Snapshot is the unit of resumability: everything an engine needs to continue
// a run from its cursor.
type Snapshot struct {
	RunID       string                `json:"run_id"`
	Seq         int                   `json:"seq"`
	Status      state.Status          `json:"status"`
	Cursor      string                `json:"cursor,omitempty"`
	Substitutes string                `json:"substitutes,omitempty"`
	Index       int                   `json:"index"`
	Transitions int                   `json:"transitions"`
	LastAgent   string                `json:"last_agent,omitempty"`
	LastOutcome state.Outcome         `json:"last_outcome,omitempty"`
	Attempted   []string              `json:"attempted,omitempty"`
	Topology    Topology              `json:"topology"`
	Data        map[string]any        `json:"data"`
	Stages      []state.StageRecord   `json:"stages"`
	Routes      []state.RoutingRecord `json:"routes,omitempty"`
	Error       string                `json:"error,omitempty"`
	Report      *consistency.Report   `json:"report,omitempty"`
	SavedAt     time.Time             `json:"saved_at"`
}

// State rebuilds the execution state captured by the snapshot.
func (s *Snapshot) State() *state.State {
	return state.Restore(s.RunID, s.Status, s.Data, s.Stages, s.Routes)
}

// Clone returns a copy that shares no slices with s. Data values are shared
// and read-only, as in state.State.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	out.Attempted = slices.Clone(s.Attempted)
	out.Topology.Agents = slices.Clone(s.Topology.Agents)
	out.Stages = slices.Clone(s.Stages)
	out.Routes = slices.Clone(s.Routes)
	if s.Data != nil {
		out.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Store persists snapshots keyed by run ID.
type Store interface {
	// Save appends snap to the run's log.
	Save(ctx context.Context, runID string, snap *Snapshot) error
	// Load returns the latest snapshot of the run.
	Load(ctx context.Context, runID string) (*Snapshot, error)
	// List returns every run ID with at least one snapshot, sorted.
	List(ctx context.Context) ([]string, error)
	// History returns every snapshot of the run in sequence order.
	History(ctx context.Context, runID string) ([]Snapshot, error)
	// Close releases the store's resources.
	Close() error
}
