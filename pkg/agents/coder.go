package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aicoder/pkg/agent"
	"aicoder/pkg/consistency"
	"aicoder/pkg/state"
)

// CoderAgent writes the files named in the plan.
type CoderAgent struct {
	base
}

type codedFile struct {
	Path       string   `json:"path"`
	Content    string   `json:"content"`
	References []string `json:"references,omitempty"`
}

func (a *CoderAgent) Execute(ctx context.Context, view state.View, cfg agent.Config) (map[string]any, error) {
	var plan Plan
	if err := view.Decode(KeyPlan, &plan); err != nil {
		return nil, agent.Permanent(fmt.Errorf("coder needs a plan: %w", err))
	}
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}

	prompt := fmt.Sprintf(`Implement this plan. Write every listed file in full.
Respond with a JSON object: {"files": [{"path": string, "content": string, "references": [string]}]}
where references lists the other project files a file imports or links to.

Request:
%s

Plan:
%s`, request(view), planJSON)

	text, err := a.ask(ctx, view, cfg, prompt, true)
	if err != nil {
		return nil, err
	}

	var answer struct {
		Files []codedFile `json:"files"`
	}
	if err := extractJSON(text, &answer); err != nil {
		return nil, fmt.Errorf("coder response: %w", err)
	}

	files := existingFiles(view)
	written := 0
	for _, f := range answer.Files {
		path := strings.TrimPrefix(strings.TrimSpace(f.Path), "./")
		if path == "" {
			continue
		}
		files[path] = consistency.GeneratedFile{Content: f.Content, References: f.References}
		written++
	}
	if written == 0 {
		return nil, fmt.Errorf("coder produced no files")
	}

	filesMap, err := toMap(files)
	if err != nil {
		return nil, fmt.Errorf("coder output: %w", err)
	}
	a.logger.Info("run %s: wrote %d files", view.RunID(), written)
	return map[string]any{
		state.KeyGeneratedFiles:  filesMap,
		"code_generation_status": "completed",
		state.KeyWorkflowStatus:  StatusTesting,
	}, nil
}

// existingFiles returns the generated files already in the state, or an empty set.
func existingFiles(view state.View) map[string]consistency.GeneratedFile {
	files := map[string]consistency.GeneratedFile{}
	if view.Has(state.KeyGeneratedFiles) {
		_ = view.Decode(state.KeyGeneratedFiles, &files)
	}
	return files
}
