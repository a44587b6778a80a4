// Package llmimpl hosts the provider client implementations and a scripted
// mock used by the diagnostic CLI and tests.
package llmimpl

import (
	"context"
	"sync"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

// Mock is a scripted llm.Client that never touches the network. It records
// every request it receives and replays configured responses or errors.
type Mock struct {
	mu        sync.Mutex
	provider  config.ProviderID
	requests  []llm.Request
	responses []llm.Response
	errs      []error
	calls     int
}

// NewMock creates a mock client posing as the given provider. By default it
// answers every request with a canned response.
func NewMock(provider config.ProviderID) *Mock {
	return &Mock{provider: provider}
}

// Script queues responses and errors, consumed one per call in order. When
// the script runs out, the last entry repeats.
func (m *Mock) Script(responses []llm.Response, errs []error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.errs = errs
}

// Request implements llm.Client.
func (m *Mock) Request(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	call := m.calls
	m.calls++

	if len(m.errs) > 0 {
		i := min(call, len(m.errs)-1)
		if err := m.errs[i]; err != nil {
			return llm.Response{}, err
		}
	}
	if len(m.responses) > 0 {
		i := min(call, len(m.responses)-1)
		return m.responses[i], nil
	}
	return llm.Response{Content: "mock response", StopReason: "end_turn"}, nil
}

// Supports implements llm.Client.
func (m *Mock) Supports(model string) bool {
	provider, err := config.ProviderForModel(model)
	return err == nil && provider == m.provider
}

// Provider implements llm.Client.
func (m *Mock) Provider() config.ProviderID {
	return m.provider
}

// Calls returns how many requests reached the mock.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of the recorded requests.
func (m *Mock) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}
