package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"aicoder/pkg/agent"
	"aicoder/pkg/agents"
	"aicoder/pkg/checkpoint"
	"aicoder/pkg/config"
	"aicoder/pkg/consistency"
	"aicoder/pkg/contract"
	"aicoder/pkg/limiter"
	"aicoder/pkg/llm/provider"
	"aicoder/pkg/logx"
	"aicoder/pkg/memory"
	"aicoder/pkg/metrics"
	"aicoder/pkg/registry"
	"aicoder/pkg/runs"
	"aicoder/pkg/workflow"
)

// EnvPassword unlocks the secrets file without a prompt.
const EnvPassword = "AICODER_PASSWORD"

// app is everything a command needs, built from the project's config.
type app struct {
	cfg      config.Config
	registry *registry.Registry
	store    checkpoint.Store
	memory   memory.Store
	recorder *metrics.PrometheusRecorder
	engine   *workflow.Engine
	runs     *runs.Service
	logger   *logx.Logger
}

// loadApp loads config and secrets, opens the stores and wires the registry,
// runner, engine and run service.
func loadApp(ctx context.Context, dir string) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Debug {
		logx.SetDebug(true)
	}
	if err := unlockSecrets(dir); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, recorder: metrics.NewPrometheusRecorder(), logger: logx.NewLogger("aicoder")}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.store, err = checkpoint.Open(cfg.Checkpoint.Backend, cfg.CheckpointDir(dir)); err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	if a.memory, err = memory.Open(cfg.Memory.Backend, filepath.Join(dir, config.ProjectConfigDir)); err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	if cfg.Memory.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Memory.RetentionDays)
		if n, err := a.memory.Prune(ctx, cutoff); err != nil {
			a.logger.Warn("failed to prune memories: %v", err)
		} else if n > 0 {
			a.logger.Info("pruned %d memories older than %d days", n, cfg.Memory.RetentionDays)
		}
	}

	contracts, err := loadContracts(&cfg, dir)
	if err != nil {
		return nil, err
	}

	lim := limiter.New(limiter.Limits{
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		TokensPerMinute:   cfg.LLM.TokensPerMinute,
	})
	gen, err := provider.New(&cfg.LLM, provider.Options{Recorder: a.recorder, Limiter: lim})
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	a.registry = registry.New()
	if err := agents.Register(a.registry, contracts, agents.Deps{Generator: gen, Memory: a.memory}); err != nil {
		return nil, fmt.Errorf("failed to register agents: %w", err)
	}
	if err := a.registry.Finalize(); err != nil {
		return nil, fmt.Errorf("invalid agent contracts: %w", err)
	}

	runnerOpts := []agent.RunnerOption{
		agent.WithMetrics(a.recorder),
		agent.WithBackoff(agent.BackoffConfig{
			InitialDelay:  cfg.Workflow.Backoff.InitialDelay(),
			MaxDelay:      cfg.Workflow.Backoff.MaxDelay(),
			BackoffFactor: cfg.Workflow.Backoff.Factor,
			Jitter:        cfg.Workflow.Backoff.Jitter,
		}),
	}
	for name, o := range cfg.Agents {
		c, err := a.registry.Contract(name)
		if err != nil {
			return nil, fmt.Errorf("config overrides agent %s: %w", name, err)
		}
		runnerOpts = append(runnerOpts,
			agent.WithAgentConfig(name, agent.ConfigFor(&c, &agent.Config{
				MaxTokens:   o.MaxTokens,
				Temperature: o.Temperature,
				Options:     o.Options,
			})),
			agent.WithAgentTimeout(name, time.Duration(o.TimeoutSec)*time.Second),
		)
	}
	runner := agent.NewRunner(a.registry, runnerOpts...)

	engineOpts := []workflow.Option{
		workflow.WithMetrics(a.recorder),
		workflow.WithMaxAttempts(cfg.Workflow.AttemptsOverride()),
		workflow.WithMaxTransitions(cfg.Workflow.MaxTransitions),
	}
	if cfg.Consistency.IsEnabled() {
		engineOpts = append(engineOpts, workflow.WithValidator(consistency.NewValidator(cfg.Consistency.Strict)))
	}
	a.engine = workflow.New(a.registry, runner, a.store, engineOpts...)
	a.runs = runs.NewService(a.engine, a.store)

	ok = true
	return a, nil
}

// Close interrupts in-flight runs, leaving them resumable, and closes the stores.
func (a *app) Close() {
	if a.runs != nil {
		a.runs.Close()
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			a.logger.Warn("failed to close memory store: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close checkpoint store: %v", err)
		}
	}
}

// topology builds the topology of a new run from config and flag overrides.
func (a *app) topology(mode, router string, agentNames []string) workflow.TopologySpec {
	if mode == "" {
		mode = a.cfg.Workflow.Type
	}
	if mode == workflow.ModeConditional {
		if router == "" {
			router = a.cfg.Workflow.Router
		}
		return workflow.Conditional(router, a.cfg.Workflow.MaxTransitions)
	}
	if len(agentNames) == 0 {
		agentNames = a.cfg.Workflow.Agents
	}
	return workflow.Sequence(agentNames...)
}

func loadContracts(cfg *config.Config, dir string) ([]contract.Contract, error) {
	contracts, err := contract.Defaults()
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in contracts: %w", err)
	}
	overrideDir := cfg.ResolveContractsDir(dir)
	if overrideDir == "" {
		return contracts, nil
	}
	overrides, err := contract.LoadDir(overrideDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load contracts from %s: %w", overrideDir, err)
	}
	return contract.Overlay(contracts, overrides), nil
}

// unlockSecrets decrypts the project's secrets file, if any, into memory.
// The password comes from AICODER_PASSWORD or an interactive prompt.
func unlockSecrets(dir string) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	password := os.Getenv(EnvPassword)
	if password == "" {
		if !term.IsTerminal(int(syscall.Stdin)) {
			config.LogInfo("secrets file present but %s is not set, using environment credentials", EnvPassword)
			return nil
		}
		var err error
		if password, err = readPassword("Password for .aicoder secrets: "); err != nil {
			return err
		}
	}
	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("empty password")
	}
	return string(b), nil
}
