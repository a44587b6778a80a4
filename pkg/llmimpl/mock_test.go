package llmimpl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

func TestMockDefaultsToCannedResponse(t *testing.T) {
	m := NewMock(config.ProviderOpenAI)
	req := llm.NewRequest("gpt-4o", []llm.Message{llm.NewUserMessage("hi")})

	resp, err := m.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "mock response", resp.Content)
	assert.Equal(t, 1, m.Calls())
	assert.Equal(t, []llm.Request{req}, m.Requests())
}

func TestMockScriptRepeatsLastEntry(t *testing.T) {
	m := NewMock(config.ProviderAnthropic)
	m.Script(
		[]llm.Response{{Content: "one"}, {Content: "two"}},
		[]error{nil, nil, errors.New("boom")},
	)
	ctx := context.Background()
	req := llm.NewRequest("claude-sonnet-4-0", []llm.Message{llm.NewUserMessage("hi")})

	resp, err := m.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "one", resp.Content)

	resp, err = m.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "two", resp.Content)

	// Third call onward replays the final scripted error.
	for i := 0; i < 2; i++ {
		_, err = m.Request(ctx, req)
		assert.EqualError(t, err, "boom")
	}
	assert.Equal(t, 4, m.Calls())
}

func TestMockRouting(t *testing.T) {
	m := NewMock(config.ProviderGemini)
	assert.True(t, m.Supports("gemini-2.0-flash"))
	assert.False(t, m.Supports("gpt-4o"))
	assert.Equal(t, config.ProviderGemini, m.Provider())
}
