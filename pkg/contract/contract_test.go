package contract

import (
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coderYAML = `
name: coder
description: writes code
capabilities: [codegen, codegen, review]
inputs:
  plan: object
outputs:
  generated_files: object
  code_generation_status: string
depends_on: [planner]
retry_budget: 2
fallback: toolbox
timeout: 45s
max_tokens: 1200
temperature: 0.4
`

func TestParseDescriptor(t *testing.T) {
	c, err := Parse([]byte(coderYAML), "coder.yaml")
	require.NoError(t, err)

	assert.Equal(t, "coder", c.Name)
	assert.Equal(t, []string{"codegen", "review"}, c.Capabilities)
	assert.True(t, c.HasCapability("review"))
	assert.Equal(t, TypeObject, c.Inputs["plan"])
	assert.Equal(t, []string{"code_generation_status", "generated_files"}, c.Outputs.Fields())
	assert.Equal(t, []string{"planner"}, c.DependsOn)
	assert.Equal(t, 2, c.RetryBudget)
	assert.Equal(t, "toolbox", c.Fallback)
	assert.Equal(t, 45*time.Second, c.EffectiveTimeout())
	assert.Equal(t, 1200, c.MaxTokens)
	assert.InDelta(t, 0.4, c.Temperature, 0.0001)
}

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("name: memory\n"), "memory.yaml")
	require.NoError(t, err)

	assert.Equal(t, DefaultRetryBudget, c.RetryBudget)
	assert.Equal(t, DefaultTimeout, c.EffectiveTimeout())
	assert.NotNil(t, c.Inputs)
	assert.NotNil(t, c.Outputs)
}

func TestParseRejectsMalformedDescriptors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", "description: nothing\n"},
		{"bad name", "name: Coder!\n"},
		{"negative retry budget", "name: coder\nretry_budget: -1\n"},
		{"unknown field type", "name: coder\noutputs:\n  files: map\n"},
		{"self dependency", "name: coder\ndepends_on: [coder]\n"},
		{"self fallback", "name: coder\nfallback: coder\n"},
		{"bad timeout", "name: coder\ntimeout: soon\n"},
		{"unknown key", "name: coder\nretries: 3\n"},
		{"temperature out of range", "name: coder\ntemperature: 3.5\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "test.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidContract), "expected ErrInvalidContract, got %v", err)
		})
	}
}

func TestLoadFSCollectsAllErrors(t *testing.T) {
	fsys := fstest.MapFS{
		"contracts/a.yaml":  {Data: []byte("name: alpha\n")},
		"contracts/b.yml":   {Data: []byte("name: Beta\n")},
		"contracts/c.yaml":  {Data: []byte("name: gamma\nretry_budget: -2\n")},
		"contracts/d.txt":   {Data: []byte("ignored")},
		"contracts/sub/e.x": {Data: []byte("ignored")},
	}

	_, err := LoadFS(fsys, "contracts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contracts/b.yml")
	assert.Contains(t, err.Error(), "contracts/c.yaml")
}

func TestDefaultsLoadSevenAgents(t *testing.T) {
	contracts, err := Defaults()
	require.NoError(t, err)

	names := make([]string, 0, len(contracts))
	for i := range contracts {
		names = append(names, contracts[i].Name)
	}
	assert.ElementsMatch(t,
		[]string{"coder", "enhancer", "memory", "orchestrator", "planner", "tester", "toolbox"},
		names)
}

func TestOverlayReplacesByName(t *testing.T) {
	base := []Contract{{Name: "planner", RetryBudget: 3}, {Name: "coder", RetryBudget: 3}}
	override := []Contract{{Name: "coder", RetryBudget: 1}, {Name: "linter"}}

	out := Overlay(base, override)
	require.Len(t, out, 3)
	assert.Equal(t, "planner", out[0].Name)
	assert.Equal(t, 1, out[1].RetryBudget)
	assert.Equal(t, "linter", out[2].Name)
}

func TestOutputValidator(t *testing.T) {
	c := Contract{
		Name: "planner",
		Outputs: Schema{
			"plan":            TypeObject,
			"planning_status": TypeString,
			"file_count":      TypeInteger,
			"extra":           TypeAny,
		},
	}
	v, err := c.CompileOutputs()
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]any{
		"plan":            map[string]any{"files": []string{"main.go"}},
		"planning_status": "completed",
		"file_count":      3,
		"extra":           []int{1, 2},
	}))
	assert.NoError(t, v.Validate(map[string]any{"planning_status": "partial"}))
	assert.Error(t, v.Validate(map[string]any{"planning_status": 42}))
	assert.Error(t, v.Validate(map[string]any{"file_count": 1.5}))
	assert.Error(t, v.Validate(map[string]any{"plan": "not an object"}))
}

func TestCloneDoesNotAlias(t *testing.T) {
	c := Contract{
		Name:      "coder",
		DependsOn: []string{"planner"},
		Outputs:   Schema{"generated_files": TypeObject},
		Options:   map[string]any{"k": 1},
	}
	cp := c.Clone()
	cp.DependsOn[0] = "other"
	cp.Outputs["x"] = TypeString
	cp.Options["k"] = 2

	assert.Equal(t, "planner", c.DependsOn[0])
	assert.False(t, c.Outputs.Declares("x"))
	assert.Equal(t, 1, c.Options["k"])
}
