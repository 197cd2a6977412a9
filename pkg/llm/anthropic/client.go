// Package anthropic implements llm.Generator on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"aicoder/pkg/llm"
)

const providerName = "anthropic"

// Client is a Claude generator.
//
//nolint:govet // simple client struct, logical grouping preferred
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a generator for model using apiKey.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// Model returns the model name.
func (c *Client) Model() string {
	return string(c.model)
}

// Generate sends one Messages request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	system, turns, err := alternate(req.Messages)
	if err != nil {
		return llm.Response{}, llm.NewError(llm.ErrorTypeBadPrompt, fmt.Sprintf("message alternation error: %v", err))
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for i := range turns {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(turns[i].Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(turns[i].Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, llm.Classify(err, statusOf(err), providerName)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return llm.Response{
		Text:             text.String(),
		Model:            string(resp.Model),
		StopReason:       string(resp.StopReason),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func statusOf(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// alternate extracts the system prompt and merges consecutive user turns so
// the conversation strictly alternates and ends with a user message.
func alternate(msgs []llm.Message) (string, []llm.Message, error) {
	system, rest := llm.SplitSystem(msgs)
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	merged := make([]llm.Message, 0, len(rest))
	for _, m := range rest {
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Content += "\n\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}
	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if last := merged[len(merged)-1]; last.Role != llm.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", last.Role)
	}
	return system, merged, nil
}
