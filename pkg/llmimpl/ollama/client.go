// Package ollama provides the Ollama client implementation for local models.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a raw Ollama client for the given server URL
// (e.g. "http://localhost:11434"); rate limiting is applied at a higher level.
func NewClient(hostURL, model string) llm.Client {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Request implements llm.Client.
func (c *Client) Request(ctx context.Context, in llm.Request) (llm.Response, error) {
	model := in.Model
	if model == "" {
		model = c.model
	}

	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, fmt.Errorf("Ollama API call failed: %w", err)
	}

	return llm.Response{
		Content:          response.Message.Content,
		StopReason:       response.DoneReason,
		PromptTokens:     response.Metrics.PromptEvalCount,
		CompletionTokens: response.Metrics.EvalCount,
	}, nil
}

// Supports implements llm.Client.
func (c *Client) Supports(model string) bool {
	provider, err := config.ProviderForModel(model)
	return err == nil && provider == config.ProviderOllama
}

// Provider implements llm.Client.
func (c *Client) Provider() config.ProviderID {
	return config.ProviderOllama
}
