package workflow

import (
	"aicoder/pkg/state"
)

// Names of the built-in routers.
const (
	RouterPipeline     = "pipeline"
	RouterOrchestrated = "orchestrated"
)

// Workflow status values agents write under state.KeyWorkflowStatus.
const (
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

//nolint:gochecknoglobals // fixed stage order of the pipeline router
var pipelineOrder = []string{"orchestrator", "planner", "enhancer", "coder", "tester", "memory", "toolbox"}

// Pipeline walks orchestrator, planner, enhancer, coder, tester, memory and
// toolbox in turn. It stops early with a failure once an agent reports a
// failed workflow status, and after toolbox it returns to the orchestrator
// until the workflow status is completed. A failed or skipped agent ends the run.
func Pipeline(view state.View, last Step) (string, error) {
	if last.Agent == "" {
		return pipelineOrder[0], nil
	}
	if !last.Succeeded() {
		return End, nil
	}
	status := view.GetString(state.KeyWorkflowStatus)
	if status == WorkflowFailed {
		return End, &DecisionError{Agent: last.Agent, Reason: "workflow status is failed"}
	}

	pos := last.Position()
	for i, name := range pipelineOrder {
		if name != pos {
			continue
		}
		if i+1 < len(pipelineOrder) {
			return pipelineOrder[i+1], nil
		}
		if status == WorkflowCompleted {
			return End, nil
		}
		return pipelineOrder[0], nil
	}
	return pipelineOrder[0], nil
}

// statusRoutes maps a workflow status to the agent that handles it when the
// orchestrator did not name one.
//
//nolint:gochecknoglobals // routing table
var statusRoutes = map[string]string{
	"initialized":       "orchestrator",
	"planning":          "planner",
	"enhancing":         "enhancer",
	"coding":            "coder",
	"testing":           "tester",
	"memory_processing": "memory",
	"tool_processing":   "toolbox",
}

// Orchestrated returns a router in which every agent hands control back to
// the orchestrator, and the orchestrator's next_agent (or, failing that, the
// workflow status) picks the following agent. A failed or skipped agent ends
// the run. known filters next_agent values
// naming agents that are not registered.
func Orchestrated(known func(name string) bool) DecisionFunc {
	return func(view state.View, last Step) (string, error) {
		status := view.GetString(state.KeyWorkflowStatus)
		switch status {
		case WorkflowCompleted:
			return End, nil
		case WorkflowFailed:
			return End, &DecisionError{Agent: last.Agent, Reason: "workflow status is failed"}
		}

		if last.Agent == "" {
			return "orchestrator", nil
		}
		if !last.Succeeded() {
			return End, nil
		}
		if last.Position() != "orchestrator" {
			return "orchestrator", nil
		}

		if next := view.GetString(state.KeyNextAgent); next != "" && next != "orchestrator" && known(next) {
			return next, nil
		}
		if next, ok := statusRoutes[status]; ok && next != "orchestrator" {
			return next, nil
		}
		return End, &DecisionError{Agent: last.Agent, Reason: "orchestrator named no next agent"}
	}
}
