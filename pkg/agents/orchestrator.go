package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"aicoder/pkg/agent"
	"aicoder/pkg/state"
)

// OrchestratorAgent decides which stage runs next from what the state
// already holds. With option "consult_llm" (default true) it also asks the
// generator for short notes on the decision.
type OrchestratorAgent struct {
	base
}

// stage pairs an agent with the state key proving it has run.
type stage struct {
	agent  string
	done   string
	status string
}

//nolint:gochecknoglobals // stage order
var stages = []stage{
	{Planner, KeyPlan, StatusPlanning},
	{Enhancer, KeyEnhancedPrompt, StatusEnhancing},
	{Coder, state.KeyGeneratedFiles, StatusCoding},
	{Tester, KeyTestResults, StatusTesting},
	{Memory, KeyMemoryStatus, StatusMemory},
	{Toolbox, KeyManifest, StatusTools},
}

// NextStage returns the first stage whose output is missing, or "" and the
// completed status when every stage has run.
func NextStage(view state.View) (next, status string) {
	for _, s := range stages {
		if !produced(view, s.done) {
			return s.agent, s.status
		}
	}
	return "", StatusCompleted
}

func produced(view state.View, key string) bool {
	v, ok := view.Get(key)
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t) > 0
	case string:
		return t != ""
	default:
		return true
	}
}

func (a *OrchestratorAgent) Execute(ctx context.Context, view state.View, cfg agent.Config) (map[string]any, error) {
	next, status := NextStage(view)
	notes := fmt.Sprintf("next: %s", next)
	if next == "" {
		notes = "all stages complete"
	}

	if consult, _ := cfg.Option("consult_llm", true).(bool); consult {
		prompt := fmt.Sprintf(`Workflow progress for request: %s
Completed outputs: %s
The next stage is %q. In one or two sentences, note anything that stage should pay attention to.`,
			view.GetString(state.KeyUserInput), strings.Join(completedKeys(view), ", "), displayNext(next))
		text, err := a.ask(ctx, view, cfg, prompt, false)
		if err != nil {
			return nil, err
		}
		notes = strings.TrimSpace(text)
	}

	return map[string]any{
		state.KeyWorkflowStatus: status,
		state.KeyNextAgent:      next,
		"orchestration_notes":   notes,
	}, nil
}

func displayNext(next string) string {
	if next == "" {
		return "finish"
	}
	return next
}

func completedKeys(view state.View) []string {
	var done []string
	for _, s := range stages {
		if produced(view, s.done) {
			done = append(done, s.done)
		}
	}
	if len(done) == 0 {
		return []string{"none"}
	}
	return done
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
