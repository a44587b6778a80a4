// Package gemini provides the Google Gemini client implementation.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

// Client wraps the Google GenAI SDK to implement llm.Client.
type Client struct {
	apiKey string
	model  string

	initOnce sync.Once
	client   *genai.Client
	initErr  error
}

// NewClient creates a raw Gemini client; rate limiting is applied at a higher
// level. SDK client creation needs a context, so it is deferred to first use.
func NewClient(apiKey, model string) llm.Client {
	return &Client{apiKey: apiKey, model: model}
}

// ensureClient builds the SDK client exactly once, even under concurrent
// first requests. A construction failure is sticky for the client's lifetime.
func (c *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.initOnce.Do(func() {
		c.client, c.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if c.initErr != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", c.initErr)
	}
	return c.client, nil
}

// Request implements llm.Client.
func (c *Client) Request(ctx context.Context, in llm.Request) (llm.Response, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return llm.Response{}, err
	}

	model := in.Model
	if model == "" {
		model = c.model
	}

	contents, systemInstruction := convertMessages(in.Messages)

	//nolint:gosec // MaxTokens validated at a higher layer
	maxTokens := int32(in.MaxTokens)
	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.Response{}, fmt.Errorf("Gemini API call failed: %w", err)
	}
	if result == nil {
		return llm.Response{}, fmt.Errorf("empty response from Gemini API")
	}

	resp := llm.Response{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}
	if result.UsageMetadata != nil {
		resp.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		resp.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}

// convertMessages maps conversation turns to Gemini content, extracting
// system messages into the system instruction.
func convertMessages(messages []llm.Message) (contents []*genai.Content, systemInstruction string) {
	var systemParts []string
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents, strings.Join(systemParts, "\n\n")
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return ""
	}
	return string(result.Candidates[0].FinishReason)
}

// Supports implements llm.Client.
func (c *Client) Supports(model string) bool {
	provider, err := config.ProviderForModel(model)
	return err == nil && provider == config.ProviderGemini
}

// Provider implements llm.Client.
func (c *Client) Provider() config.ProviderID {
	return config.ProviderGemini
}
