package agents

import (
	"context"
	"fmt"
	"strings"

	"aicoder/pkg/agent"
	"aicoder/pkg/state"
)

// PlannedFile is one file the plan asks for.
type PlannedFile struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// Plan is the planner's output, stored under the plan key.
type Plan struct {
	ProjectName string        `json:"project_name"`
	Description string        `json:"description,omitempty"`
	Files       []PlannedFile `json:"files"`
	Steps       []string      `json:"steps,omitempty"`
}

// EnhancerAgent rewrites the user's request into a fuller prompt.
type EnhancerAgent struct {
	base
}

type enhancement struct {
	EnhancedPrompt string  `json:"enhanced_prompt"`
	Intent         string  `json:"intent"`
	Score          float64 `json:"score"`
}

func (a *EnhancerAgent) Execute(ctx context.Context, view state.View, cfg agent.Config) (map[string]any, error) {
	input := view.GetString(state.KeyUserInput)
	prompt := fmt.Sprintf(`Enhance the following software request so a planner and a developer can act on it.
Respond with a JSON object: {"enhanced_prompt": string, "intent": string, "score": number between 0 and 1}.

Request:
%s`, input)

	text, err := a.ask(ctx, view, cfg, prompt, true)
	if err != nil {
		return nil, err
	}

	var e enhancement
	if err := extractJSON(text, &e); err != nil || strings.TrimSpace(e.EnhancedPrompt) == "" {
		a.logger.Debug("run %s: enhancer answered in prose, using it verbatim", view.RunID())
		e = enhancement{EnhancedPrompt: strings.TrimSpace(text), Intent: "unknown", Score: 0.5}
	}
	e.Score = min(max(e.Score, 0), 1)

	return map[string]any{
		KeyEnhancedPrompt:       e.EnhancedPrompt,
		"intent":                e.Intent,
		"enhancement_score":     e.Score,
		state.KeyWorkflowStatus: StatusCoding,
	}, nil
}

// PlannerAgent turns the request into a file layout and ordered steps.
type PlannerAgent struct {
	base
}

func (a *PlannerAgent) Execute(ctx context.Context, view state.View, cfg agent.Config) (map[string]any, error) {
	prompt := fmt.Sprintf(`Plan a software project for this request.
Respond with a JSON object: {"project_name": string, "description": string,
"files": [{"path": string, "purpose": string}], "steps": [string]}.
Paths are relative to the project root.

Request:
%s`, request(view))

	text, err := a.ask(ctx, view, cfg, prompt, true)
	if err != nil {
		return nil, err
	}

	var plan Plan
	if err := extractJSON(text, &plan); err != nil {
		return nil, fmt.Errorf("planner response: %w", err)
	}
	plan.Files = cleanFiles(plan.Files)
	if plan.ProjectName == "" {
		plan.ProjectName = "project"
	}

	planMap, err := toMap(plan)
	if err != nil {
		return nil, fmt.Errorf("planner output: %w", err)
	}

	out := map[string]any{
		KeyPlan:                 planMap,
		"planning_status":       "completed",
		state.KeyWorkflowStatus: StatusEnhancing,
	}
	if len(plan.Files) == 0 {
		a.logger.Warn("run %s: plan lists no files", view.RunID())
		out["planning_status"] = "no_files"
		out[state.KeyWorkflowStatus] = StatusFailed
	}
	return out, nil
}

// cleanFiles drops blank and duplicate paths and normalizes separators.
func cleanFiles(files []PlannedFile) []PlannedFile {
	seen := make(map[string]bool, len(files))
	out := make([]PlannedFile, 0, len(files))
	for _, f := range files {
		f.Path = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(f.Path), "\\", "/"), "./")
		if f.Path == "" || seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
	}
	return out
}
