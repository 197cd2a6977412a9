// Package google implements llm.Generator on the Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"aicoder/pkg/llm"
)

const providerName = "google"

// Client is a Gemini generator. The SDK client is created on first use.
//
//nolint:govet // logical grouping preferred
type Client struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// New creates a generator for model using apiKey.
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

// Model returns the model name.
func (c *Client) Model() string {
	return c.model
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llm.NewErrorWithCause(llm.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	c.client = client
	return client, nil
}

// Generate sends one GenerateContent request.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return llm.Response{}, err
	}

	contents, system, err := convert(req.Messages)
	if err != nil {
		return llm.Response{}, llm.NewError(llm.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return llm.Response{}, llm.Classify(err, statusOf(err), providerName)
	}
	if result == nil {
		return llm.Response{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	resp := llm.Response{
		Text:       result.Text(),
		Model:      c.model,
		StopReason: stopReason(result),
	}
	if result.UsageMetadata != nil {
		resp.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}

// convert maps messages to Gemini contents. Gemini names the assistant role
// "model" and takes system messages as a separate instruction.
func convert(msgs []llm.Message) ([]*genai.Content, string, error) {
	system, rest := llm.SplitSystem(msgs)
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("message list cannot be empty")
	}

	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		var role string
		switch rest[i].Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model"
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", rest[i].Role)
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rest[i].Content}},
		})
	}
	return contents, system, nil
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return "incomplete"
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonStop, "":
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return string(result.Candidates[0].FinishReason)
	}
}

func statusOf(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
