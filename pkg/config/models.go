package config

import (
	"fmt"
	"strings"
)

// Providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
	ProviderAuto      = "auto" // first provider with credentials, else mock
)

// Providers lists every accepted llm.provider value.
//
//nolint:gochecknoglobals // static list
var Providers = []string{ProviderAuto, ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama, ProviderMock}

// Default models per provider.
const (
	ModelClaudeSonnet = "claude-sonnet-4-5"
	ModelGPT4o        = "gpt-4o"
	ModelGemini       = "gemini-2.5-flash"
	ModelOllama       = "llama3.1"
	ModelMock         = "mock"
)

// API key environment variables.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// ModelInfo contains static information about a known model.
type ModelInfo struct {
	Provider         string  // API provider
	InputCPM         float64 // cost per million input tokens (USD)
	OutputCPM        float64 // cost per million output tokens (USD)
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels holds pricing and limits for common models. Unknown models are
// mapped to a provider through ProviderPatterns.
//
//nolint:gochecknoglobals // static model catalog
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5":        {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"claude-sonnet-4-20250514": {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"claude-3-sonnet-20240229": {Provider: ProviderAnthropic, InputCPM: 3.0, OutputCPM: 15.0, MaxContextTokens: 200000, MaxOutputTokens: 4096},
	"claude-opus-4-1":          {Provider: ProviderAnthropic, InputCPM: 15.0, OutputCPM: 75.0, MaxContextTokens: 200000, MaxOutputTokens: 16384},
	"gpt-4o":                   {Provider: ProviderOpenAI, InputCPM: 2.5, OutputCPM: 10.0, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	"gpt-4-turbo-preview":      {Provider: ProviderOpenAI, InputCPM: 10.0, OutputCPM: 30.0, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	"o3-mini":                  {Provider: ProviderOpenAI, InputCPM: 1.1, OutputCPM: 4.4, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gemini-2.0-flash":         {Provider: ProviderGoogle, InputCPM: 0.10, OutputCPM: 0.40, MaxContextTokens: 1048576, MaxOutputTokens: 8192},
	"gemini-2.5-flash":         {Provider: ProviderGoogle, InputCPM: 0.30, OutputCPM: 2.50, MaxContextTokens: 1048576, MaxOutputTokens: 65536},
	"mock":                     {Provider: ProviderMock, MaxContextTokens: 32000, MaxOutputTokens: 4096},
}

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns maps unknown model names to providers.
//
//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"phi", ProviderOllama},
	{"ollama:", ProviderOllama},
	{"mock", ProviderMock},
}

// GetModelProvider returns the provider serving modelName.
func GetModelProvider(modelName string) (string, error) {
	if info, ok := KnownModels[modelName]; ok {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// GetModelInfo returns the catalog entry for modelName, or conservative
// defaults with an inferred provider and false when it is not catalogued.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, ok := KnownModels[modelName]; ok {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{
		Provider:         provider,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// DefaultModel returns the model used for provider when none is configured.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return ModelClaudeSonnet
	case ProviderOpenAI:
		return ModelGPT4o
	case ProviderGoogle:
		return ModelGemini
	case ProviderOllama:
		return ModelOllama
	default:
		return ModelMock
	}
}

// CalculateCost returns the USD cost of a generation. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, ok := KnownModels[modelName]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000.0*info.InputCPM + float64(completionTokens)/1_000_000.0*info.OutputCPM
}
