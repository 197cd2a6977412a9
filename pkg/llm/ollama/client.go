// Package ollama implements llm.Generator on a local Ollama server.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"aicoder/pkg/config"
	"aicoder/pkg/llm"
)

const providerName = "ollama"

// Client is an Ollama generator.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// New creates a generator for model served at hostURL. An unparseable host
// falls back to the default local address.
func New(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(config.DefaultOllamaHost)
	}
	return &Client{
		client:  api.NewClient(parsed, http.DefaultClient),
		model:   strings.TrimPrefix(model, "ollama:"),
		hostURL: parsed.String(),
	}
}

// Model returns the model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends one non-streaming chat request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	messages := make([]api.Message, 0, len(req.Messages))
	for i := range req.Messages {
		messages = append(messages, api.Message{
			Role:    string(req.Messages[i].Role),
			Content: req.Messages[i].Content,
		})
	}

	stream := false
	chat := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	if req.JSON {
		chat.Format = json.RawMessage(`"json"`)
	}

	var resp api.ChatResponse
	err := c.client.Chat(ctx, chat, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return llm.Response{}, classify(err, c.hostURL)
	}

	return llm.Response{
		Text:             resp.Message.Content,
		Model:            resp.Model,
		StopReason:       stopReason(&resp),
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
	}, nil
}

// stopReason converts Ollama's done_reason to the common stop reasons.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classify(err error, host string) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return llm.Classify(err, statusErr.StatusCode, providerName)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llm.NewErrorWithCause(llm.ErrorTypeTransient, err, fmt.Sprintf("Ollama server not reachable at %s", host))
	}
	return llm.Classify(err, 0, providerName)
}
