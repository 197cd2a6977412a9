package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsInitialKeys(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New("run-1", "build a todo app", now)

	assert.Equal(t, "run-1", s.RunID())
	assert.Equal(t, StatusPending, s.Status())
	assert.Equal(t, "build a todo app", s.GetString(KeyUserInput))
	assert.Equal(t, "2026-01-02T03:04:05Z", s.GetString(KeyTimestamp))
	assert.Equal(t, "initialized", s.GetString(KeyWorkflowStep))
	assert.True(t, s.Has(KeyGeneratedFiles))
}

func TestMergeIsCopyOnWrite(t *testing.T) {
	s := New("run-1", "input", time.Now())
	s, err := s.WithStatus(StatusRunning)
	require.NoError(t, err)

	next, err := s.Merge(map[string]any{"plan": "v1", KeyUserInput: "rewritten"})
	require.NoError(t, err)

	assert.False(t, s.Has("plan"), "receiver must not observe the merge")
	assert.Equal(t, "input", s.GetString(KeyUserInput))
	assert.Equal(t, "v1", next.GetString("plan"))
	assert.Equal(t, "rewritten", next.GetString(KeyUserInput), "last writer wins")

	again, err := next.Merge(map[string]any{"code": "x"})
	require.NoError(t, err)
	assert.True(t, again.Has("plan"), "earlier keys are never removed")
}

func TestTerminalStatusIsFinal(t *testing.T) {
	s := New("run-1", "input", time.Now())
	s, err := s.WithStatus(StatusRunning)
	require.NoError(t, err)
	s, err = s.WithStatus(StatusCompleted)
	require.NoError(t, err)

	_, err = s.Merge(map[string]any{"late": true})
	assert.Error(t, err)

	_, err = s.WithStatus(StatusRunning)
	assert.Error(t, err)

	same, err := s.WithStatus(StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, same.Status())
}

func TestStageAndRouteLogsAppend(t *testing.T) {
	s := New("run-1", "input", time.Now())
	a := s.WithStage(StageRecord{Agent: "planner", Outcome: OutcomeSuccess, Attempt: 1})
	b := a.WithStage(StageRecord{Agent: "coder", Outcome: OutcomeFailure, Error: "boom", Attempt: 1})
	c := b.WithRoute(RoutingRecord{From: "coder", To: "toolbox", Accepted: true})

	assert.Empty(t, s.Stages())
	assert.Len(t, a.Stages(), 1)
	assert.Len(t, c.Stages(), 2)
	assert.Len(t, c.Routes(), 1)
	assert.Equal(t, map[string]bool{"planner": true}, c.SucceededAgents())
}

func TestDecodeGenericValues(t *testing.T) {
	type file struct {
		Content    string   `json:"content"`
		References []string `json:"references"`
	}
	s := Restore("run-1", StatusRunning, map[string]any{
		"generated_files": map[string]any{
			"main.go": map[string]any{"content": "package main", "references": []any{"util.go"}},
		},
	}, nil, nil)

	var files map[string]file
	require.NoError(t, s.Decode("generated_files", &files))
	assert.Equal(t, []string{"util.go"}, files["main.go"].References)

	assert.Error(t, s.Decode("missing", &files))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusAborted.IsTerminal())
}
