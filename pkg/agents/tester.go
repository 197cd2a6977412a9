package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"aicoder/pkg/agent"
	"aicoder/pkg/consistency"
	"aicoder/pkg/state"
)

// TestResults is stored under the test_results key.
type TestResults struct {
	Passed       bool     `json:"passed"`
	Issues       []string `json:"issues"`
	Summary      string   `json:"summary,omitempty"`
	FilesChecked int      `json:"files_checked"`
}

// TesterAgent runs local checks over the generated files and asks the
// generator for a review. Option "review" (default true) toggles the review.
type TesterAgent struct {
	base
}

type review struct {
	Passed  bool     `json:"passed"`
	Issues  []string `json:"issues"`
	Summary string   `json:"summary"`
}

func (a *TesterAgent) Execute(ctx context.Context, view state.View, cfg agent.Config) (map[string]any, error) {
	files := map[string]consistency.GeneratedFile{}
	if err := view.Decode(state.KeyGeneratedFiles, &files); err != nil {
		return nil, agent.Permanent(fmt.Errorf("tester needs generated files: %w", err))
	}

	results := TestResults{Issues: localChecks(files), FilesChecked: len(files)}
	results.Passed = len(results.Issues) == 0

	if wantReview, _ := cfg.Option("review", true).(bool); wantReview && len(files) > 0 {
		text, err := a.ask(ctx, view, cfg, reviewPrompt(files), true)
		if err != nil {
			return nil, err
		}
		var r review
		if err := extractJSON(text, &r); err != nil {
			results.Summary = strings.TrimSpace(text)
		} else {
			results.Summary = r.Summary
			results.Issues = append(results.Issues, r.Issues...)
			results.Passed = results.Passed && r.Passed
		}
	}

	resultsMap, err := toMap(results)
	if err != nil {
		return nil, fmt.Errorf("tester output: %w", err)
	}
	status := "passed"
	if !results.Passed {
		status = "issues_found"
		a.logger.Warn("run %s: %d issues found", view.RunID(), len(results.Issues))
	}
	return map[string]any{
		KeyTestResults:          resultsMap,
		"testing_status":        status,
		state.KeyWorkflowStatus: StatusMemory,
	}, nil
}

// localChecks flags empty files and references to files that were not generated.
func localChecks(files map[string]consistency.GeneratedFile) []string {
	issues := []string{}
	if len(files) == 0 {
		return append(issues, "no files were generated")
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(files[name].Content) == "" {
			issues = append(issues, name+" is empty")
		}
	}
	for _, v := range consistency.Check(files) {
		issues = append(issues, v.String())
	}
	return issues
}

func reviewPrompt(files map[string]consistency.GeneratedFile) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`Review these generated files for bugs, missing functionality and broken references.
Respond with a JSON object: {"passed": boolean, "issues": [string], "summary": string}.
`)
	for _, name := range names {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, files[name].Content)
	}
	return b.String()
}
