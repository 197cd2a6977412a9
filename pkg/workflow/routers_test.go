package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/state"
)

func viewWith(data map[string]any) *state.State {
	return state.Restore("run-1", state.StatusRunning, data, nil, nil)
}

func TestPipelineRouter(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		last   Step
		want   string
		failed bool
	}{
		{"start", nil, Step{}, "orchestrator", false},
		{"orchestrator to planner", nil, Step{Agent: "orchestrator"}, "planner", false},
		{"coder to tester", map[string]any{state.KeyWorkflowStatus: "coding"}, Step{Agent: "coder"}, "tester", false},
		{"fallback keeps position", nil, Step{Agent: "toolbox", Substituted: "coder"}, "tester", false},
		{"toolbox loops back", map[string]any{state.KeyWorkflowStatus: "tool_processing"}, Step{Agent: "toolbox"}, "orchestrator", false},
		{"toolbox ends completed run", map[string]any{state.KeyWorkflowStatus: WorkflowCompleted}, Step{Agent: "toolbox"}, End, false},
		{"completed mid pipeline continues", map[string]any{state.KeyWorkflowStatus: WorkflowCompleted}, Step{Agent: "planner"}, "enhancer", false},
		{"failed status stops", map[string]any{state.KeyWorkflowStatus: WorkflowFailed}, Step{Agent: "tester"}, End, true},
		{"unknown agent restarts", nil, Step{Agent: "linter"}, "orchestrator", false},
		{"failed agent ends", nil, Step{Agent: "coder", Outcome: state.OutcomeFailure}, End, false},
		{"skipped agent ends", nil, Step{Agent: "tester", Outcome: state.OutcomeSkipped}, End, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pipeline(viewWith(tt.data), tt.last)
			if tt.failed {
				var decision *DecisionError
				require.ErrorAs(t, err, &decision)
				assert.Equal(t, tt.last.Agent, decision.Agent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrchestratedRouter(t *testing.T) {
	known := map[string]bool{"orchestrator": true, "planner": true, "coder": true, "tester": true}
	route := Orchestrated(func(name string) bool { return known[name] })

	tests := []struct {
		name   string
		data   map[string]any
		last   Step
		want   string
		failed bool
	}{
		{"start", nil, Step{}, "orchestrator", false},
		{"next agent", map[string]any{state.KeyNextAgent: "coder"}, Step{Agent: "orchestrator"}, "coder", false},
		{"unknown next agent falls back to status", map[string]any{
			state.KeyNextAgent: "linter", state.KeyWorkflowStatus: "testing",
		}, Step{Agent: "orchestrator"}, "tester", false},
		{"status route", map[string]any{state.KeyWorkflowStatus: "planning"}, Step{Agent: "orchestrator"}, "planner", false},
		{"agents return to orchestrator", map[string]any{state.KeyNextAgent: "coder"}, Step{Agent: "coder"}, "orchestrator", false},
		{"substitute returns to orchestrator", nil, Step{Agent: "toolbox", Substituted: "coder"}, "orchestrator", false},
		{"completed ends", map[string]any{state.KeyWorkflowStatus: WorkflowCompleted}, Step{Agent: "tester"}, End, false},
		{"failed stops", map[string]any{state.KeyWorkflowStatus: WorkflowFailed}, Step{Agent: "coder"}, End, true},
		{"failed agent ends", map[string]any{state.KeyWorkflowStatus: "coding"}, Step{Agent: "coder", Outcome: state.OutcomeFailure}, End, false},
		{"no decision", map[string]any{state.KeyWorkflowStatus: "initialized"}, Step{Agent: "orchestrator"}, End, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := route(viewWith(tt.data), tt.last)
			if tt.failed {
				var decision *DecisionError
				require.ErrorAs(t, err, &decision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
