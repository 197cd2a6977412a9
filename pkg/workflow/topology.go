package workflow

import (
	"fmt"
	"slices"

	"aicoder/pkg/checkpoint"
	"aicoder/pkg/state"
)

// Topology modes.
const (
	ModeSimple      = "simple"
	ModeConditional = "conditional"
)

// DefaultMaxTransitions caps conditional runs that do not set their own cap.
const DefaultMaxTransitions = 50

// TopologySpec is the serializable topology of a run. It is stored in every
// checkpoint so a resumed run rebuilds the same topology.
type TopologySpec = checkpoint.Topology

// Sequence returns a simple topology running agents in order.
func Sequence(agents ...string) TopologySpec {
	return TopologySpec{Mode: ModeSimple, Agents: slices.Clone(agents)}
}

// Conditional returns a topology driven by the named router.
func Conditional(router string, maxTransitions int) TopologySpec {
	return TopologySpec{Mode: ModeConditional, Router: router, MaxTransitions: maxTransitions}
}

// End is returned by a decision function to finish the run.
const End = ""

// Step describes the most recent agent outcome. The zero Step is passed when
// the run starts. Failed and skipped outcomes are passed only when no
// fallback took over. Substituted names the agent a successful fallback stood in for.
type Step struct {
	Agent       string
	Outcome     state.Outcome
	Substituted string
}

// Position returns the agent whose place in the workflow this step occupies.
func (s Step) Position() string {
	if s.Substituted != "" {
		return s.Substituted
	}
	return s.Agent
}

// Succeeded reports whether the agent succeeded. A Step without an outcome
// counts as a success.
func (s Step) Succeeded() bool {
	return s.Outcome == "" || s.Outcome == state.OutcomeSuccess
}

// DecisionFunc picks the next agent, or End. A non-nil error ends the run as failed.
type DecisionFunc func(view state.View, last Step) (string, error)

func validateSpec(spec *TopologySpec) error {
	switch spec.Mode {
	case ModeSimple:
		if len(spec.Agents) == 0 {
			return fmt.Errorf("%w: simple topology has no agents", ErrInvalidTopology)
		}
	case ModeConditional:
		if spec.Router == "" {
			return fmt.Errorf("%w: conditional topology has no router", ErrInvalidTopology)
		}
		if spec.MaxTransitions < 0 {
			return fmt.Errorf("%w: max transitions must be non-negative", ErrInvalidTopology)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTopology, spec.Mode)
	}
	return nil
}
