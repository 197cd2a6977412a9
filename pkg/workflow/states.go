package workflow

import (
	"slices"

	"aicoder/pkg/state"
)

// validTransitions defines the run lifecycle.
//
//nolint:gochecknoglobals // state machine definition
var validTransitions = map[state.Status][]state.Status{
	state.StatusPending: {
		state.StatusRunning,
		state.StatusAborted, // aborted before the first agent ran
	},
	state.StatusRunning: {
		state.StatusCompleted,
		state.StatusFailed,
		state.StatusAborted,
	},
	state.StatusCompleted: {},
	state.StatusFailed:    {},
	state.StatusAborted:   {},
}

// IsValidTransition reports whether a run may move from one status to another.
func IsValidTransition(from, to state.Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// ValidNextStates returns the statuses reachable from from.
func ValidNextStates(from state.Status) []state.Status {
	return slices.Clone(validTransitions[from])
}
