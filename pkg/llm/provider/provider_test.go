package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/config"
	"aicoder/pkg/llm"
	"aicoder/pkg/llm/mock"
	"aicoder/pkg/llm/ollama"
	"aicoder/pkg/llm/openai"
)

func TestBaseSelectsClient(t *testing.T) {
	t.Setenv(config.EnvOpenAIAPIKey, "sk-test")
	t.Setenv(config.EnvOllamaHost, "")

	g, err := Base(config.ProviderOpenAI, "gpt-4o", "")
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, g)

	g, err = Base(config.ProviderOllama, "llama3.1", "http://ollama.internal:11434")
	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, g)

	g, err = Base(config.ProviderMock, "mock", "")
	require.NoError(t, err)
	assert.IsType(t, &mock.Generator{}, g)

	_, err = Base("bogus", "x", "")
	assert.Error(t, err)
}

func TestBaseMissingCredentials(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")
	_, err := Base(config.ProviderAnthropic, "claude-sonnet-4-5", "")
	assert.ErrorIs(t, err, config.ErrSecretNotFound)
}

func TestNewMockGeneratorEndToEnd(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = config.ProviderMock
	cfg.Model = ""

	g, err := New(&cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelMock, g.Model())

	ctx := llm.WithCall(context.Background(), llm.Call{RunID: "r1", Agent: "orchestrator"})
	resp, err := g.Generate(ctx, llm.NewRequest("system", "what next?", 100, 0.1))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Text)
}
