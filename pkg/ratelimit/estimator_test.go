package ratelimit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/pkg/config"
	"llmgate/pkg/llm"
)

func estimatorRequest(content string) llm.Request {
	return llm.NewRequest("gpt-4o", []llm.Message{llm.NewUserMessage(content)})
}

func TestHeuristicEstimatorQuartersCharacterCount(t *testing.T) {
	e := HeuristicEstimator{}

	// 99 content chars + trailing newline from joining.
	assert.Equal(t, 25, e.Estimate(estimatorRequest(strings.Repeat("a", 99))))

	// Short payloads never estimate below one token.
	assert.Equal(t, 1, e.Estimate(estimatorRequest("x")))
	assert.Equal(t, 1, e.Estimate(llm.Request{Model: "gpt-4o"}))
}

func TestHeuristicEstimatorJoinsAllMessages(t *testing.T) {
	e := HeuristicEstimator{}
	req := llm.NewRequest("gpt-4o", []llm.Message{
		llm.NewSystemMessage(strings.Repeat("s", 39)),
		llm.NewUserMessage(strings.Repeat("u", 39)),
	})
	// 2 * (39 + 1 newline) = 80 chars.
	assert.Equal(t, 20, e.Estimate(req))
}

func TestTiktokenEstimatorCountsTokens(t *testing.T) {
	e, err := NewTiktokenEstimator()
	require.NoError(t, err)

	n := e.Estimate(estimatorRequest("The quick brown fox jumps over the lazy dog."))
	assert.Greater(t, n, 5)
	assert.Less(t, n, 20)

	assert.GreaterOrEqual(t, e.Estimate(llm.Request{Model: "gpt-4o"}), 1)
}

func TestEstimatorRegistryRoutesByModelFamily(t *testing.T) {
	reg := NewEstimatorRegistry()

	// Hosted families share the tiktoken estimator.
	openaiEst := reg.ForModel("gpt-4o-mini")
	assert.Same(t, openaiEst, reg.ForModel("claude-sonnet-4-0"))
	assert.Same(t, openaiEst, reg.ForModel("gemini-2.0-flash"))

	// Local and unrecognized models fall back to the heuristic.
	assert.IsType(t, HeuristicEstimator{}, reg.ForModel("llama3.2"))
	assert.IsType(t, HeuristicEstimator{}, reg.ForModel("totally-unknown-model"))
}

func TestEstimatorRegistryOverride(t *testing.T) {
	reg := NewEstimatorRegistry()
	reg.SetEstimator(config.ProviderOllama, fixedEstimator{n: 42})

	assert.Equal(t, 42, reg.ForModel("llama3.2").Estimate(estimatorRequest("anything")))
}
