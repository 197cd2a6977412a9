// Package llm defines the Generator the agents call for text and the
// middleware wrapped around every provider: rate limiting, metrics, logging
// and provider fallback. Provider clients live in subpackages.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role is the role of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry.
type Message struct {
	Role    Role
	Content string
}

// Request asks a generator for one completion.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
	JSON        bool // ask the provider for a JSON object response where supported
}

// Response is a completed generation.
//
//nolint:govet // field order follows importance, not alignment
type Response struct {
	Text             string
	Model            string
	StopReason       string // "end_turn", "max_tokens", ...
	PromptTokens     int    // 0 when the provider does not report usage
	CompletionTokens int
}

// Generator produces text for a request. Implementations return *Error for
// provider failures so callers can decide whether to retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Model() string
}

// NewRequest builds a request from an optional system prompt and a user prompt.
func NewRequest(system, prompt string, maxTokens int, temperature float32) Request {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return Request{Messages: msgs, MaxTokens: maxTokens, Temperature: temperature}
}

// Validate checks the request before it reaches a provider.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return NewError(ErrorTypeBadPrompt, "request has no messages")
	}
	if r.MaxTokens < 0 {
		return NewError(ErrorTypeBadPrompt, fmt.Sprintf("max tokens must be non-negative, got %d", r.MaxTokens))
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return NewError(ErrorTypeBadPrompt, fmt.Sprintf("temperature must be between 0 and 2, got %.2f", r.Temperature))
	}
	return nil
}

// SplitSystem separates system messages from the conversation, joining them
// for providers that take the system prompt as a separate parameter.
func SplitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// Text concatenates every message's content, for token estimation.
func (r *Request) Text() string {
	var b strings.Builder
	for i, m := range r.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// Middleware wraps a Generator with additional behavior.
type Middleware func(next Generator) Generator

// GeneratorFunc adapts a function and a model name to Generator.
type GeneratorFunc struct {
	Name string
	Fn   func(ctx context.Context, req Request) (Response, error)
}

// Generate calls f.Fn.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f.Fn(ctx, req)
}

// Model returns f.Name.
func (f GeneratorFunc) Model() string {
	return f.Name
}

// Chain composes middlewares around base. Earlier middlewares are outermost:
// Chain(g, a, b) calls a, then b, then g.
func Chain(base Generator, middlewares ...Middleware) Generator {
	g := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		g = middlewares[i](g)
	}
	return g
}

type callKey struct{}

// Call identifies the run and agent a generation belongs to, for metrics and logs.
type Call struct {
	RunID string
	Agent string
}

// WithCall attaches call to ctx.
func WithCall(ctx context.Context, call Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFrom returns the call attached to ctx, or the zero Call.
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	return c
}
