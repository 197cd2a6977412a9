// Package agent provides the executable side of an agent and the Runner that
// invokes it with retry, per-attempt timeout and output merging.
package agent

import (
	"context"
	"maps"

	"aicoder/pkg/contract"
	"aicoder/pkg/state"
)

// Config is the configuration bundle handed to an executable on every attempt.
type Config struct {
	MaxTokens   int
	Temperature float32
	Options     map[string]any
}

// Option returns the option under key, or def when absent.
func (c Config) Option(key string, def any) any {
	if v, ok := c.Options[key]; ok {
		return v
	}
	return def
}

// IntOption returns an integer option, accepting the numeric types YAML and JSON decode into.
func (c Config) IntOption(key string, def int) int {
	switch v := c.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Executable produces a partial output mapping for the current state, or a failure.
// Executables must be safe to re-invoke: nothing from a failed attempt is merged.
type Executable interface {
	Execute(ctx context.Context, view state.View, cfg Config) (map[string]any, error)
}

// ExecutableFunc adapts a function to Executable.
type ExecutableFunc func(ctx context.Context, view state.View, cfg Config) (map[string]any, error)

// Execute calls f.
func (f ExecutableFunc) Execute(ctx context.Context, view state.View, cfg Config) (map[string]any, error) {
	return f(ctx, view, cfg)
}

// Resolver is what the Runner needs from the agent registry.
type Resolver interface {
	Resolve(name string) (Executable, error)
	Contract(name string) (contract.Contract, error)
	OutputValidator(name string) (*contract.Validator, error)
}

// ConfigFor builds the executable config from a contract, then applies override
// fields that are set (non-zero MaxTokens/Temperature, merged Options).
func ConfigFor(c *contract.Contract, override *Config) Config {
	cfg := Config{
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Options:     maps.Clone(c.Options),
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = contract.DefaultMaxTokens
	}
	if override == nil {
		return cfg
	}
	if override.MaxTokens > 0 {
		cfg.MaxTokens = override.MaxTokens
	}
	if override.Temperature > 0 {
		cfg.Temperature = override.Temperature
	}
	if len(override.Options) > 0 {
		if cfg.Options == nil {
			cfg.Options = make(map[string]any, len(override.Options))
		}
		for k, v := range override.Options {
			cfg.Options[k] = v
		}
	}
	return cfg
}
