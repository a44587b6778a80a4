package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/pkg/config"
)

func taggingMiddleware(tag string, order *[]string) Middleware {
	return func(next Client) Client {
		return WrapClient(
			func(ctx context.Context, req Request) (Response, error) {
				*order = append(*order, tag)
				return next.Request(ctx, req)
			},
			next.Supports,
			next.Provider,
		)
	}
}

func TestChainAppliesMiddlewaresOutsideIn(t *testing.T) {
	var order []string
	base := WrapClient(
		func(context.Context, Request) (Response, error) {
			order = append(order, "base")
			return Response{Content: "done"}, nil
		},
		func(string) bool { return true },
		func() config.ProviderID { return config.ProviderOpenAI },
	)

	chained := Chain(base,
		taggingMiddleware("outer", &order),
		taggingMiddleware("inner", &order),
	)

	resp, err := chained.Request(context.Background(), NewRequest("gpt-4o", []Message{NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, []string{"outer", "inner", "base"}, order)

	assert.True(t, chained.Supports("gpt-4o"))
	assert.Equal(t, config.ProviderOpenAI, chained.Provider())
}

func TestChainWithoutMiddlewaresIsBase(t *testing.T) {
	base := WrapClient(
		func(context.Context, Request) (Response, error) { return Response{}, nil },
		func(string) bool { return false },
		func() config.ProviderID { return config.ProviderOllama },
	)
	assert.Equal(t, base, Chain(base))
}

func TestRequestValidate(t *testing.T) {
	valid := NewRequest("gpt-4o", []Message{NewUserMessage("hi")})
	require.NoError(t, valid.Validate())
	assert.Equal(t, 4096, valid.MaxTokens)
	assert.InDelta(t, 0.3, valid.Temperature, 0.001)

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"empty model", func(r *Request) { r.Model = "" }},
		{"no messages", func(r *Request) { r.Messages = nil }},
		{"zero max tokens", func(r *Request) { r.MaxTokens = 0 }},
		{"temperature too high", func(r *Request) { r.Temperature = 2.5 }},
		{"temperature negative", func(r *Request) { r.Temperature = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRequest("gpt-4o", []Message{NewUserMessage("hi")})
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}
