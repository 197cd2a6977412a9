// Package provider builds the configured generator: one client per provider,
// each wrapped in the standard middleware, chained for fallback.
package provider

import (
	"fmt"

	"aicoder/pkg/config"
	"aicoder/pkg/limiter"
	"aicoder/pkg/llm"
	"aicoder/pkg/llm/anthropic"
	"aicoder/pkg/llm/google"
	"aicoder/pkg/llm/mock"
	"aicoder/pkg/llm/ollama"
	"aicoder/pkg/llm/openai"
	"aicoder/pkg/logx"
	"aicoder/pkg/metrics"
)

// Options carries the shared collaborators of every generator.
type Options struct {
	Recorder metrics.Recorder
	Limiter  *limiter.Limiter
	Logger   *logx.Logger
}

// New builds the generator described by cfg: the primary model followed by
// cfg.Fallbacks, each with validation, rate limiting, timeout, metrics and logging.
func New(cfg *config.LLMConfig, opts Options) (llm.Generator, error) {
	if opts.Recorder == nil {
		opts.Recorder = metrics.Nop()
	}
	if opts.Limiter == nil {
		opts.Limiter = limiter.New(limiter.Limits{
			RequestsPerMinute: cfg.RequestsPerMinute,
			TokensPerMinute:   cfg.TokensPerMinute,
		})
	}
	if opts.Logger == nil {
		opts.Logger = logx.NewLogger("llm")
	}
	counter := llm.DefaultCounter()

	provider := config.ResolveProvider(cfg.Provider)
	model := cfg.Model
	if model == "" || cfg.Provider == config.ProviderAuto {
		model = config.DefaultModel(provider)
	}

	primary, err := Base(provider, model, cfg.OllamaHost)
	if err != nil {
		return nil, err
	}
	gens := []llm.Generator{primary}

	for _, fb := range cfg.Fallbacks {
		p, err := config.GetModelProvider(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		g, err := Base(p, fb, cfg.OllamaHost)
		if err != nil {
			opts.Logger.Warn("skipping fallback model %s: %v", fb, err)
			continue
		}
		gens = append(gens, g)
	}

	for i, g := range gens {
		gens[i] = llm.Chain(g,
			llm.WithLogging(opts.Logger),
			llm.WithMetrics(opts.Recorder, counter),
			llm.WithValidation(),
			llm.WithRateLimit(opts.Limiter, counter, opts.Recorder),
			llm.WithTimeout(cfg.Timeout()),
		)
	}
	opts.Logger.Info("generator ready: provider=%s model=%s fallbacks=%d", provider, model, len(gens)-1)
	return llm.Fallback(gens...), nil
}

// Base creates the raw client for provider and model, resolving credentials
// from the secrets file or environment.
func Base(provider, model, ollamaHost string) (llm.Generator, error) {
	key, err := config.GetAPIKey(provider, ollamaHost)
	if err != nil {
		return nil, fmt.Errorf("%s credentials: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.New(key, model), nil
	case config.ProviderOpenAI:
		return openai.New(key, model), nil
	case config.ProviderGoogle:
		return google.New(key, model), nil
	case config.ProviderOllama:
		return ollama.New(key, model), nil
	case config.ProviderMock:
		return mock.New(model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
