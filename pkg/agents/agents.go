// Package agents implements the seven pipeline agents as executables over an
// llm.Generator. Each agent reads what it needs from the run state and returns
// the output fields its contract declares.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"aicoder/pkg/agent"
	"aicoder/pkg/contract"
	"aicoder/pkg/llm"
	"aicoder/pkg/logx"
	"aicoder/pkg/memory"
	"aicoder/pkg/state"
)

// Agent names.
const (
	Orchestrator = "orchestrator"
	Planner      = "planner"
	Enhancer     = "enhancer"
	Coder        = "coder"
	Tester       = "tester"
	Memory       = "memory"
	Toolbox      = "toolbox"
)

// Names lists every built-in agent.
//
//nolint:gochecknoglobals // static list
var Names = []string{Orchestrator, Planner, Enhancer, Coder, Tester, Memory, Toolbox}

// Well-known output keys shared between agents.
const (
	KeyPlan           = "plan"
	KeyEnhancedPrompt = "enhanced_prompt"
	KeyTestResults    = "test_results"
	KeyMemoryStatus   = "memory_status"
	KeyManifest       = "manifest"
)

// Workflow status values agents hand to the routers.
const (
	StatusPlanning   = "planning"
	StatusEnhancing  = "enhancing"
	StatusCoding     = "coding"
	StatusTesting    = "testing"
	StatusMemory     = "memory_processing"
	StatusTools      = "tool_processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	defaultSystemMsg = "You are a helpful AI assistant."
)

//nolint:gochecknoglobals // system prompts
var systemMessages = map[string]string{
	Enhancer:     "You are an expert at enhancing user prompts for software generation. Clarify intent, add missing technical context and keep the user's goals intact.",
	Planner:      "You are an expert software architect and project planner. Break requests into a concrete file layout and ordered implementation steps.",
	Coder:        "You are an expert software developer. Write complete, working source files that follow the plan exactly.",
	Tester:       "You are an expert in software testing and quality assurance. Review generated code for defects, missing pieces and broken references.",
	Memory:       "You are an expert at managing and retrieving contextual information from earlier work.",
	Orchestrator: "You are an expert at coordinating workflows between specialized software agents.",
	Toolbox:      "You provide utility functions and development tools for generated projects.",
}

// SystemMessage returns the system prompt for agent.
func SystemMessage(agentName string) string {
	if msg, ok := systemMessages[agentName]; ok {
		return msg
	}
	return defaultSystemMsg
}

// Deps are the collaborators shared by the agents.
type Deps struct {
	Generator llm.Generator
	Memory    memory.Store // nil disables the memory agent's storage
	Now       func() time.Time
}

// Executables builds every built-in agent.
func Executables(deps Deps) map[string]agent.Executable {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return map[string]agent.Executable{
		Orchestrator: &OrchestratorAgent{base: newBase(Orchestrator, deps.Generator)},
		Planner:      &PlannerAgent{base: newBase(Planner, deps.Generator)},
		Enhancer:     &EnhancerAgent{base: newBase(Enhancer, deps.Generator)},
		Coder:        &CoderAgent{base: newBase(Coder, deps.Generator)},
		Tester:       &TesterAgent{base: newBase(Tester, deps.Generator)},
		Memory:       &MemoryAgent{store: deps.Memory, now: deps.Now, logger: logx.NewLogger(Memory)},
		Toolbox:      &ToolboxAgent{logger: logx.NewLogger(Toolbox)},
	}
}

// Registrar is the part of the registry Register needs.
type Registrar interface {
	Register(c contract.Contract, exec agent.Executable) error
}

// Register registers every contract with its built-in executable. Contracts
// naming an agent without a built-in implementation are rejected.
func Register(reg Registrar, contracts []contract.Contract, deps Deps) error {
	execs := Executables(deps)
	for i := range contracts {
		exec, ok := execs[contracts[i].Name]
		if !ok {
			return &contract.UnknownAgentError{Name: contracts[i].Name}
		}
		if err := reg.Register(contracts[i], exec); err != nil {
			return fmt.Errorf("register %s: %w", contracts[i].Name, err)
		}
	}
	return nil
}

// base holds what every generator-backed agent shares.
type base struct {
	name   string
	gen    llm.Generator
	logger *logx.Logger
}

func newBase(name string, gen llm.Generator) base {
	return base{name: name, gen: gen, logger: logx.NewLogger(name)}
}

// ask sends prompt under the agent's system message with the attempt's
// token and temperature settings.
func (b *base) ask(ctx context.Context, view state.View, cfg agent.Config, prompt string, wantJSON bool) (string, error) {
	if b.gen == nil {
		return "", agent.Permanent(fmt.Errorf("%s has no generator configured", b.name))
	}
	ctx = llm.WithCall(ctx, llm.Call{RunID: view.RunID(), Agent: b.name})

	req := llm.NewRequest(SystemMessage(b.name), prompt, cfg.MaxTokens, cfg.Temperature)
	req.JSON = wantJSON
	resp, err := b.gen.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", b.name, err)
	}
	b.logger.Debug("run %s: %d+%d tokens, stop=%s", view.RunID(), resp.PromptTokens, resp.CompletionTokens, resp.StopReason)
	return resp.Text, nil
}

// extractJSON decodes the first JSON object in text into out, tolerating
// markdown fences and prose around it.
func extractJSON(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("invalid JSON in response: %w", err)
	}
	return nil
}

// toMap converts v to the generic form state values take after a checkpoint
// round trip, so fresh and resumed runs hold identical data.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}

func toSlice(v any) ([]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}

// request returns the prompt agents work from: the enhanced prompt when the
// enhancer has run, the user's input otherwise.
func request(view state.View) string {
	if p := view.GetString(KeyEnhancedPrompt); p != "" {
		return p
	}
	return view.GetString(state.KeyUserInput)
}
