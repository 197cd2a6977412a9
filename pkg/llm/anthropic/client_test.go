package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/llm"
)

func TestAlternateMergesAndExtractsSystem(t *testing.T) {
	system, turns, err := alternate([]llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "one"},
		{Role: llm.RoleUser, Content: "two"},
		{Role: llm.RoleAssistant, Content: "ok"},
		{Role: llm.RoleUser, Content: "three"},
	})
	require.NoError(t, err)
	assert.Equal(t, "be brief", system)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "one\n\ntwo"},
		{Role: llm.RoleAssistant, Content: "ok"},
		{Role: llm.RoleUser, Content: "three"},
	}, turns)
}

func TestAlternateRejectsBadShapes(t *testing.T) {
	_, _, err := alternate([]llm.Message{{Role: llm.RoleSystem, Content: "only system"}})
	assert.Error(t, err)

	_, _, err = alternate([]llm.Message{{Role: llm.RoleAssistant, Content: "hi"}})
	assert.ErrorContains(t, err, "first message must be user")

	_, _, err = alternate([]llm.Message{
		{Role: llm.RoleUser, Content: "q"},
		{Role: llm.RoleAssistant, Content: "a"},
	})
	assert.ErrorContains(t, err, "last message must be user")
}

func TestModelName(t *testing.T) {
	c := New("test-key", "claude-sonnet-4-5")
	assert.Equal(t, "claude-sonnet-4-5", c.Model())
}
