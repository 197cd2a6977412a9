// Package mock provides an offline generator. Scripted steps are returned in
// order; once the script is exhausted the generator answers with canned
// responses chosen by the calling agent.
package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"aicoder/pkg/llm"
)

// Step is one scripted reply. A non-nil Err is returned instead of Text.
type Step struct {
	Text string
	Err  error
}

// Generator is a scripted, concurrency-safe llm.Generator.
type Generator struct {
	model     string
	mu        sync.Mutex
	script    []Step
	requests  []llm.Request
	responder func(agent string, req llm.Request) string
}

// Option configures a Generator.
type Option func(*Generator)

// WithSteps queues scripted replies.
func WithSteps(steps ...Step) Option {
	return func(g *Generator) {
		g.script = append(g.script, steps...)
	}
}

// WithResponder replaces the canned responses used after the script runs out.
func WithResponder(fn func(agent string, req llm.Request) string) Option {
	return func(g *Generator) {
		g.responder = fn
	}
}

// New creates a mock generator reporting model as its model name.
func New(model string, opts ...Option) *Generator {
	if model == "" {
		model = "mock"
	}
	g := &Generator{model: model, responder: Canned}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enqueue appends scripted replies.
func (g *Generator) Enqueue(steps ...Step) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, steps...)
}

// Requests returns a copy of every request received so far.
func (g *Generator) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]llm.Request, len(g.requests))
	copy(out, g.requests)
	return out
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	return g.model
}

// Generate returns the next scripted step, or a canned response.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, llm.NewErrorWithCause(llm.ErrorTypeTransient, err, "mock request canceled")
	}

	g.mu.Lock()
	g.requests = append(g.requests, req)
	var step *Step
	if len(g.script) > 0 {
		s := g.script[0]
		g.script = g.script[1:]
		step = &s
	}
	g.mu.Unlock()

	if step != nil && step.Err != nil {
		return llm.Response{}, step.Err
	}
	text := ""
	if step != nil {
		text = step.Text
	} else {
		text = g.responder(llm.CallFrom(ctx).Agent, req)
	}

	return llm.Response{
		Text:             text,
		Model:            g.model,
		StopReason:       "end_turn",
		PromptTokens:     len(req.Text()) / 4,
		CompletionTokens: len(text) / 4,
	}, nil
}

// Canned returns a plausible response for agent, enough for a full offline run.
func Canned(agent string, req llm.Request) string {
	prompt := lastUser(req)
	switch agent {
	case "enhancer":
		return mustJSON(map[string]any{
			"enhanced_prompt": strings.TrimSpace(prompt) + "\n\nInclude a README and keep the entry point small.",
			"intent":          "build_project",
			"score":           0.8,
		})
	case "planner":
		return mustJSON(map[string]any{
			"project_name": "generated-project",
			"description":  "Project generated offline by the mock provider",
			"files": []map[string]string{
				{"path": "main.py", "purpose": "entry point"},
				{"path": "utils.py", "purpose": "helpers used by main.py"},
				{"path": "README.md", "purpose": "usage notes"},
			},
			"steps": []string{"write helpers", "write entry point", "document usage"},
		})
	case "coder":
		return mustJSON(map[string]any{
			"files": []map[string]any{
				{"path": "main.py", "content": "from utils import greet\n\nif __name__ == \"__main__\":\n    print(greet(\"world\"))\n", "references": []string{"utils.py"}},
				{"path": "utils.py", "content": "def greet(name):\n    return f\"hello {name}\"\n"},
				{"path": "README.md", "content": "# generated-project\n\nRun `python main.py`.\n"},
			},
		})
	case "tester":
		return mustJSON(map[string]any{"passed": true, "issues": []string{}, "summary": "no issues found"})
	case "orchestrator":
		return "Proceeding with the next stage."
	default:
		return "ok"
	}
}

func lastUser(req llm.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
