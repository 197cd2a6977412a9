package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aicoder/pkg/agent"
	"aicoder/pkg/logx"
	"aicoder/pkg/memory"
	"aicoder/pkg/state"
)

// MemoryAgent retrieves summaries of related earlier runs and stores one for
// the current run. Option "search_limit" caps the retrieved entries.
type MemoryAgent struct {
	store  memory.Store
	now    func() time.Time
	logger *logx.Logger
}

func (a *MemoryAgent) Execute(ctx context.Context, view state.View, cfg agent.Config) (map[string]any, error) {
	if a.store == nil {
		return map[string]any{
			"memory_context":        []any{},
			KeyMemoryStatus:         "disabled",
			state.KeyWorkflowStatus: StatusTools,
		}, nil
	}

	input := view.GetString(state.KeyUserInput)
	matches, err := a.store.Search(ctx, input, cfg.IntOption("search_limit", 5)+1)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}

	related := make([]memory.Match, 0, len(matches))
	for _, m := range matches {
		if m.RunID != view.RunID() {
			related = append(related, m)
		}
	}
	if limit := cfg.IntOption("search_limit", 5); len(related) > limit {
		related = related[:limit]
	}

	if _, err := a.store.Put(ctx, memory.Entry{
		RunID:     view.RunID(),
		Kind:      memory.KindRunSummary,
		Content:   summarize(view),
		CreatedAt: a.now(),
	}); err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	contextItems, err := toSlice(related)
	if err != nil {
		return nil, fmt.Errorf("memory output: %w", err)
	}
	a.logger.Info("run %s: stored summary, %d related runs", view.RunID(), len(related))
	return map[string]any{
		"memory_context":        contextItems,
		KeyMemoryStatus:         "stored",
		state.KeyWorkflowStatus: StatusTools,
	}, nil
}

// summarize describes the run in a few lines: request, project and files.
func summarize(view state.View) string {
	var b strings.Builder
	b.WriteString(view.GetString(state.KeyUserInput))

	var plan Plan
	if view.Has(KeyPlan) && view.Decode(KeyPlan, &plan) == nil {
		fmt.Fprintf(&b, "\nproject: %s", plan.ProjectName)
		if plan.Description != "" {
			fmt.Fprintf(&b, " (%s)", plan.Description)
		}
	}
	if files := existingFiles(view); len(files) > 0 {
		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
		fmt.Fprintf(&b, "\nfiles: %s", strings.Join(sortedCopy(names), ", "))
	}
	return b.String()
}
