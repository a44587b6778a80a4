package llm

import (
	"context"

	"llmgate/pkg/config"
)

// Middleware wraps a Client with additional behavior. Middlewares compose via
// Chain to form a processing pipeline in front of the base client.
type Middleware func(next Client) Client

// clientFunc adapts plain functions to the Client interface.
type clientFunc struct {
	request  func(context.Context, Request) (Response, error)
	supports func(string) bool
	provider func() config.ProviderID
}

func (f clientFunc) Request(ctx context.Context, req Request) (Response, error) {
	return f.request(ctx, req)
}

func (f clientFunc) Supports(model string) bool {
	return f.supports(model)
}

func (f clientFunc) Provider() config.ProviderID {
	return f.provider()
}

// WrapClient creates a Client from the provided function implementations.
// Helper for middlewares that only need to intercept Request.
func WrapClient(
	request func(context.Context, Request) (Response, error),
	supports func(string) bool,
	provider func() config.ProviderID,
) Client {
	return clientFunc{request: request, supports: supports, provider: provider}
}

// Chain composes middlewares around a base client. Earlier middlewares are
// outermost: Chain(client, mw1, mw2) yields the call stack mw1 -> mw2 -> client.
func Chain(base Client, middlewares ...Middleware) Client {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
