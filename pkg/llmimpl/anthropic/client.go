// Package anthropic provides the Anthropic Claude client implementation.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

// Client wraps the Anthropic SDK to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  string
}

// NewClient creates a raw Claude client; rate limiting is applied at a higher level.
func NewClient(apiKey, model string) llm.Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// prepareMessages adapts a conversation to Anthropic API requirements:
// system messages move to the top-level system parameter, consecutive
// same-role messages merge, and the sequence must start with a user turn.
func prepareMessages(messages []llm.Message) (systemPrompt string, out []anthropic.MessageParam, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var turns []llm.Message
	for i := range messages {
		if messages[i].Role == llm.RoleSystem {
			systemParts = append(systemParts, messages[i].Content)
			continue
		}
		// Merge consecutive same-role turns.
		if n := len(turns); n > 0 && turns[n-1].Role == messages[i].Role {
			turns[n-1].Content += "\n\n" + messages[i].Content
			continue
		}
		turns = append(turns, messages[i])
	}

	if len(turns) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if turns[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got %s", turns[0].Role)
	}

	for i := range turns {
		block := anthropic.NewTextBlock(turns[i].Content)
		if turns[i].Role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

// Request implements llm.Client.
func (c *Client) Request(ctx context.Context, in llm.Request) (llm.Response, error) {
	model := in.Model
	if model == "" {
		model = c.model
	}

	systemPrompt, messages, err := prepareMessages(in.Messages)
	if err != nil {
		return llm.Response{}, fmt.Errorf("invalid message sequence: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(in.MaxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("Anthropic API call failed: %w", err)
	}
	if msg == nil {
		return llm.Response{}, fmt.Errorf("empty response from Anthropic API")
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return llm.Response{
		Content:          content.String(),
		StopReason:       string(msg.StopReason),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// Supports implements llm.Client.
func (c *Client) Supports(model string) bool {
	provider, err := config.ProviderForModel(model)
	return err == nil && provider == config.ProviderAnthropic
}

// Provider implements llm.Client.
func (c *Client) Provider() config.ProviderID {
	return config.ProviderAnthropic
}
