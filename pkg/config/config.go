// Package config loads, validates and persists the aicoder configuration.
//
// Configuration lives in <projectDir>/.aicoder/config.json. A missing file is
// created from defaults; an existing file is loaded, completed with defaults
// for absent fields, overridden from the environment and validated. Run state
// never belongs here: checkpoints and memories are stored by their own packages.
//
// Config is returned by value. Callers that change it persist it with Save.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"aicoder/pkg/logx"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Project layout.
const (
	ProjectConfigDir      = ".aicoder"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"
)

// Workflow types.
const (
	WorkflowSimple      = "simple"
	WorkflowConditional = "conditional"
)

// Checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Environment overrides.
const (
	EnvProvider      = "AICODER_PROVIDER"
	EnvModel         = "AICODER_MODEL"
	EnvWorkflowType  = "AICODER_WORKFLOW_TYPE"
	EnvCheckpointDir = "AICODER_CHECKPOINT_DIR"
	EnvDebug         = "AICODER_DEBUG"
)

// Defaults.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxTransitions    = 50
	DefaultRouter            = "pipeline"
	DefaultMaxTokens         = 4000
	DefaultTemperature       = 0.1
	DefaultLLMTimeoutSec     = 30
	DefaultRequestsPerMinute = 60
	DefaultOllamaHost        = "http://localhost:11434"
	DefaultRetentionDays     = 30
)

// DefaultWorkflowAgents is the simple workflow used when none is configured.
//
//nolint:gochecknoglobals // default sequence
var DefaultWorkflowAgents = []string{"planner", "coder", "tester"}

// BackoffConfig is the delay policy between attempts of one agent.
type BackoffConfig struct {
	InitialDelayMS int     `json:"initial_delay_ms"`
	MaxDelayMS     int     `json:"max_delay_ms"`
	Factor         float64 `json:"factor"`
	Jitter         bool    `json:"jitter"`
}

// InitialDelay returns the first retry delay as a duration.
func (b BackoffConfig) InitialDelay() time.Duration {
	return time.Duration(b.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the delay cap as a duration.
func (b BackoffConfig) MaxDelay() time.Duration {
	return time.Duration(b.MaxDelayMS) * time.Millisecond
}

// WorkflowConfig selects the topology of new runs.
type WorkflowConfig struct {
	Type           string        `json:"type"`   // "simple" or "conditional"
	Agents         []string      `json:"agents"` // simple mode sequence
	Router         string        `json:"router"` // conditional mode router name
	MaxTransitions int           `json:"max_transitions"`
	MaxAttempts    *int          `json:"max_attempts,omitempty"` // 0 uses each contract's retry budget
	Backoff        BackoffConfig `json:"backoff"`
}

// AttemptsOverride returns the global attempt count that replaces every
// contract's retry budget, or 0 when contract budgets apply.
func (w WorkflowConfig) AttemptsOverride() int {
	if w.MaxAttempts == nil {
		return 0
	}
	return *w.MaxAttempts
}

// LLMConfig configures the generator shared by all agents.
type LLMConfig struct {
	Provider          string   `json:"provider"` // anthropic, openai, google, ollama, mock or auto
	Model             string   `json:"model"`
	Fallbacks         []string `json:"fallbacks,omitempty"` // models tried in order when the primary fails
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float32  `json:"temperature"`
	TimeoutSec        int      `json:"timeout_sec"`
	RequestsPerMinute int      `json:"requests_per_minute"`
	TokensPerMinute   int      `json:"tokens_per_minute,omitempty"`
	OllamaHost        string   `json:"ollama_host"`
}

// Timeout returns the per-request timeout.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

// AgentOverride replaces contract defaults for one agent.
type AgentOverride struct {
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Temperature float32        `json:"temperature,omitempty"`
	TimeoutSec  int            `json:"timeout_sec,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

// CheckpointConfig selects where run checkpoints are stored.
type CheckpointConfig struct {
	Backend string `json:"backend"`
	Dir     string `json:"dir"` // relative paths resolve against the project directory
}

// ConsistencyConfig controls the post-run consistency report.
type ConsistencyConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Strict  bool  `json:"strict"`
}

// IsEnabled reports whether the report is produced; it defaults to true.
func (c ConsistencyConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MemoryConfig configures the memory agent's store.
type MemoryConfig struct {
	Backend       string `json:"backend"` // sqlite or memory
	RetentionDays int    `json:"retention_days"`
}

// MetricsConfig points the CLI at a Prometheus server for run queries.
type MetricsConfig struct {
	PrometheusURL string `json:"prometheus_url,omitempty"`
	ListenAddr    string `json:"listen_addr,omitempty"`
}

// Config is the complete aicoder configuration.
type Config struct {
	SchemaVersion string                   `json:"schema_version"`
	Workflow      WorkflowConfig           `json:"workflow"`
	LLM           LLMConfig                `json:"llm"`
	Agents        map[string]AgentOverride `json:"agents,omitempty"`
	Checkpoint    CheckpointConfig         `json:"checkpoint"`
	Consistency   ConsistencyConfig        `json:"consistency"`
	Memory        MemoryConfig             `json:"memory"`
	Metrics       MetricsConfig            `json:"metrics"`
	ContractsDir  string                   `json:"contracts_dir,omitempty"`
	Debug         bool                     `json:"debug"`
}

// Default returns a config populated with defaults.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Path returns the config file location for projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)
}

// Load reads the config for projectDir.
//
// Behavior:
// - Missing file: defaults are saved to a new file
// - Existing file: defaults fill absent fields
// - Unparseable file: error, so the user's file is never overwritten
//
// Environment overrides are applied after the file and are never saved.
func Load(projectDir string) (Config, error) {
	logger := logx.NewLogger("config")
	path := Path(projectDir)

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("config file not found, creating %s", path)
		cfg = Default()
		if err := Save(&cfg, projectDir); err != nil {
			return Config{}, fmt.Errorf("failed to save initial config: %w", err)
		}
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
		}
		applyDefaults(&cfg)
	}

	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	logger.Debug("loaded config: %s workflow, provider %s, checkpoints in %s", cfg.Workflow.Type, cfg.LLM.Provider, cfg.Checkpoint.Backend)
	return cfg, nil
}

// Save writes cfg to projectDir.
func Save(cfg *Config, projectDir string) error {
	path := Path(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CheckpointDir resolves the checkpoint directory against projectDir.
func (c *Config) CheckpointDir(projectDir string) string {
	if filepath.IsAbs(c.Checkpoint.Dir) {
		return c.Checkpoint.Dir
	}
	return filepath.Join(projectDir, c.Checkpoint.Dir)
}

// ResolveContractsDir resolves the contracts override directory, or "" when unset.
func (c *Config) ResolveContractsDir(projectDir string) string {
	if c.ContractsDir == "" || filepath.IsAbs(c.ContractsDir) {
		return c.ContractsDir
	}
	return filepath.Join(projectDir, c.ContractsDir)
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}

	w := &cfg.Workflow
	if w.Type == "" {
		w.Type = WorkflowSimple
	}
	if len(w.Agents) == 0 {
		w.Agents = slices.Clone(DefaultWorkflowAgents)
	}
	if w.Router == "" {
		w.Router = DefaultRouter
	}
	if w.MaxTransitions == 0 {
		w.MaxTransitions = DefaultMaxTransitions
	}
	if w.MaxAttempts == nil {
		attempts := DefaultMaxAttempts
		w.MaxAttempts = &attempts
	}
	if w.Backoff.InitialDelayMS == 0 && w.Backoff.MaxDelayMS == 0 && w.Backoff.Factor == 0 {
		w.Backoff = BackoffConfig{InitialDelayMS: 500, MaxDelayMS: 10000, Factor: 2.0, Jitter: true}
	}

	l := &cfg.LLM
	if l.Provider == "" {
		l.Provider = ProviderAuto
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = DefaultMaxTokens
	}
	if l.Temperature == 0 {
		l.Temperature = DefaultTemperature
	}
	if l.TimeoutSec == 0 {
		l.TimeoutSec = DefaultLLMTimeoutSec
	}
	if l.RequestsPerMinute == 0 {
		l.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if l.OllamaHost == "" {
		l.OllamaHost = DefaultOllamaHost
	}

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = BackendSQLite
	}
	if cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = filepath.Join(ProjectConfigDir, "checkpoints")
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = BackendSQLite
	}
	if cfg.Memory.RetentionDays == 0 {
		cfg.Memory.RetentionDays = DefaultRetentionDays
	}
}

// applyEnv overrides cfg from getenv. Invalid values are left for Validate to report.
func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvProvider); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := getenv(EnvModel); v != "" {
		cfg.LLM.Model = v
	}
	if v := getenv(EnvWorkflowType); v != "" {
		cfg.Workflow.Type = strings.ToLower(v)
	}
	if v := getenv(EnvCheckpointDir); v != "" {
		cfg.Checkpoint.Dir = v
	}
	if v := getenv(EnvDebug); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = on
		}
	}
}

// Validate checks the config structure. Credentials are checked when a generator is built.
func (c *Config) Validate() error {
	var problems []string

	switch c.Workflow.Type {
	case WorkflowSimple:
		if len(c.Workflow.Agents) == 0 {
			problems = append(problems, "workflow.agents must not be empty for a simple workflow")
		}
	case WorkflowConditional:
		if c.Workflow.Router == "" {
			problems = append(problems, "workflow.router is required for a conditional workflow")
		}
	default:
		problems = append(problems, fmt.Sprintf("workflow.type must be %q or %q (got %q)", WorkflowSimple, WorkflowConditional, c.Workflow.Type))
	}
	if c.Workflow.MaxTransitions < 0 {
		problems = append(problems, "workflow.max_transitions must be non-negative")
	}
	if c.Workflow.AttemptsOverride() < 0 {
		problems = append(problems, "workflow.max_attempts must be non-negative")
	}
	if c.Workflow.Backoff.Factor != 0 && c.Workflow.Backoff.Factor < 1 {
		problems = append(problems, "workflow.backoff.factor must be at least 1")
	}

	if !slices.Contains(Providers, c.LLM.Provider) {
		problems = append(problems, fmt.Sprintf("llm.provider must be one of %s (got %q)", strings.Join(Providers, ", "), c.LLM.Provider))
	}
	if c.LLM.Model != "" && c.LLM.Provider != ProviderAuto && c.LLM.Provider != ProviderMock {
		if provider, err := GetModelProvider(c.LLM.Model); err == nil && provider != c.LLM.Provider {
			problems = append(problems, fmt.Sprintf("llm.model %s belongs to provider %s, not %s", c.LLM.Model, provider, c.LLM.Provider))
		}
	}
	if c.LLM.MaxTokens < 0 {
		problems = append(problems, "llm.max_tokens must be non-negative")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, "llm.temperature must be between 0 and 2")
	}
	if c.LLM.RequestsPerMinute < 0 || c.LLM.TokensPerMinute < 0 {
		problems = append(problems, "llm rate limits must be non-negative")
	}

	for name, o := range c.Agents {
		if o.Temperature < 0 || o.Temperature > 2 {
			problems = append(problems, fmt.Sprintf("agents.%s.temperature must be between 0 and 2", name))
		}
		if o.MaxTokens < 0 || o.TimeoutSec < 0 {
			problems = append(problems, fmt.Sprintf("agents.%s limits must be non-negative", name))
		}
	}

	switch c.Checkpoint.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("checkpoint.backend must be sqlite, file or memory (got %q)", c.Checkpoint.Backend))
	}
	switch c.Memory.Backend {
	case BackendSQLite, BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("memory.backend must be sqlite or memory (got %q)", c.Memory.Backend))
	}
	if c.Metrics.PrometheusURL != "" && !strings.HasPrefix(c.Metrics.PrometheusURL, "http://") &&
		!strings.HasPrefix(c.Metrics.PrometheusURL, "https://") {
		problems = append(problems, "metrics.prometheus_url must start with http:// or https://")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
