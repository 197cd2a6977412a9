package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, WorkflowSimple, cfg.Workflow.Type)
	assert.Equal(t, []string{"planner", "coder", "tester"}, cfg.Workflow.Agents)
	assert.Equal(t, DefaultMaxAttempts, cfg.Workflow.AttemptsOverride())
	assert.Equal(t, DefaultMaxTransitions, cfg.Workflow.MaxTransitions)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.True(t, cfg.Consistency.IsEnabled())
	assert.False(t, cfg.Consistency.Strict)

	_, err = os.Stat(Path(dir))
	assert.NoError(t, err, "defaults are written to disk")
}

func TestLoadFillsMissingFields(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0755))
	require.NoError(t, os.WriteFile(Path(dir), []byte(`{
		"workflow": {"type": "conditional", "router": "orchestrated", "max_transitions": 12},
		"consistency": {"enabled": false, "strict": true},
		"agents": {"coder": {"max_tokens": 900}}
	}`), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, WorkflowConditional, cfg.Workflow.Type)
	assert.Equal(t, "orchestrated", cfg.Workflow.Router)
	assert.Equal(t, 12, cfg.Workflow.MaxTransitions)
	assert.Equal(t, DefaultMaxTokens, cfg.LLM.MaxTokens)
	assert.False(t, cfg.Consistency.IsEnabled())
	assert.True(t, cfg.Consistency.Strict)
	assert.Equal(t, 900, cfg.Agents["coder"].MaxTokens)
}

func TestLoadMaxAttempts(t *testing.T) {
	tests := []struct {
		name     string
		workflow string
		want     int
	}{
		{"absent uses default", `{}`, DefaultMaxAttempts},
		{"zero keeps contract budgets", `{"max_attempts": 0}`, 0},
		{"explicit override", `{"max_attempts": 5}`, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0755))
			require.NoError(t, os.WriteFile(Path(dir), []byte(`{"workflow": `+tt.workflow+`}`), 0644))

			cfg, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Workflow.AttemptsOverride())
		})
	}
}

func TestLoadRejectsUnparseableFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ProjectConfigDir), 0755))
	require.NoError(t, os.WriteFile(Path(dir), []byte("{not json"), 0644))

	_, err := Load(dir)
	require.Error(t, err)

	data, err := os.ReadFile(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "user file must not be overwritten")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvProvider, "OLLAMA")
	t.Setenv(EnvModel, "qwen2.5-coder")
	t.Setenv(EnvWorkflowType, "conditional")
	t.Setenv(EnvCheckpointDir, "/var/lib/aicoder")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "qwen2.5-coder", cfg.LLM.Model)
	assert.Equal(t, WorkflowConditional, cfg.Workflow.Type)
	assert.Equal(t, "/var/lib/aicoder", cfg.CheckpointDir("/elsewhere"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown workflow type", func(c *Config) { c.Workflow.Type = "parallel" }},
		{"empty simple workflow", func(c *Config) { c.Workflow.Agents = nil }},
		{"negative max attempts", func(c *Config) { n := -1; c.Workflow.MaxAttempts = &n }},
		{"backoff factor below one", func(c *Config) { c.Workflow.Backoff.Factor = 0.5 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "bedrock" }},
		{"model from another provider", func(c *Config) { c.LLM.Provider = ProviderOpenAI; c.LLM.Model = "claude-sonnet-4-5" }},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 2.5 }},
		{"agent temperature out of range", func(c *Config) { c.Agents = map[string]AgentOverride{"coder": {Temperature: -1}} }},
		{"unknown checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "redis" }},
		{"unknown memory backend", func(c *Config) { c.Memory.Backend = "file" }},
		{"bad prometheus url", func(c *Config) { c.Metrics.PrometheusURL = "localhost:9090" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestModelCatalog(t *testing.T) {
	provider, err := GetModelProvider("claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, provider)

	provider, err = GetModelProvider("llama3.1:8b")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, provider)

	_, err = GetModelProvider("mystery-model")
	assert.Error(t, err)

	info, known := GetModelInfo("gemini-9-ultra")
	assert.False(t, known)
	assert.Equal(t, ProviderGoogle, info.Provider)

	assert.InDelta(t, 3.0+15.0, CalculateCost("claude-sonnet-4-5", 1_000_000, 1_000_000), 0.0001)
	assert.Zero(t, CalculateCost("unknown", 1000, 1000))
}
