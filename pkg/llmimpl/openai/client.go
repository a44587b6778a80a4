// Package openai provides the OpenAI client implementation using the official Go SDK.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

// Client wraps the official OpenAI SDK to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw OpenAI client; rate limiting is applied at a higher level.
func NewClient(apiKey, model string) llm.Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Request implements llm.Client.
func (c *Client) Request(ctx context.Context, in llm.Request) (llm.Response, error) {
	model := in.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(in.MaxTokens)),
		Temperature: openai.Float(float64(in.Temperature)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("empty response from OpenAI API")
	}

	choice := resp.Choices[0]
	return llm.Response{
		Content:          choice.Message.Content,
		StopReason:       string(choice.FinishReason),
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Supports implements llm.Client.
func (c *Client) Supports(model string) bool {
	provider, err := config.ProviderForModel(model)
	return err == nil && provider == config.ProviderOpenAI
}

// Provider implements llm.Client.
func (c *Client) Provider() config.ProviderID {
	return config.ProviderOpenAI
}
