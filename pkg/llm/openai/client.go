// Package openai implements llm.Generator on the OpenAI Responses API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"aicoder/pkg/config"
	"aicoder/pkg/llm"
)

const providerName = "openai"

// Client is an OpenAI generator.
//
//nolint:govet // simple client struct, logical grouping preferred
type Client struct {
	client openai.Client
	model  string
}

// New creates a generator for model using apiKey.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Model returns the model name.
func (c *Client) Model() string {
	return c.model
}

// Generate sends one Responses request. System messages become the request
// instructions; the remaining turns are flattened into a single input.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	system, turns := llm.SplitSystem(req.Messages)

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(capTokens(c.model, req.MaxTokens))),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(flatten(turns))},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if !reasoningModel(c.model) {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, llm.Classify(err, statusOf(err), providerName)
	}
	if resp == nil {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	return llm.Response{
		Text:             resp.OutputText(),
		Model:            resp.Model,
		StopReason:       string(resp.Status),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func flatten(turns []llm.Message) string {
	if len(turns) == 1 {
		return turns[0].Content
	}
	var b strings.Builder
	for i := range turns {
		if turns[i].Role == llm.RoleAssistant {
			fmt.Fprintf(&b, "Assistant: %s\n\n", turns[i].Content)
			continue
		}
		b.WriteString(turns[i].Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// capTokens keeps max output tokens within the model's known limit.
func capTokens(model string, maxTokens int) int {
	if info, ok := config.KnownModels[model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		return info.MaxOutputTokens
	}
	return maxTokens
}

// reasoningModel reports whether model rejects the temperature parameter.
func reasoningModel(model string) bool {
	return strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") ||
		strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5")
}

func statusOf(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
