package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/pkg/llm"
)

func TestPrepareMessagesExtractsSystemPrompt(t *testing.T) {
	system, out, err := prepareMessages([]llm.Message{
		llm.NewSystemMessage("You are terse."),
		llm.NewUserMessage("hello"),
		{Role: llm.RoleAssistant, Content: "hi"},
		llm.NewUserMessage("bye"),
	})
	require.NoError(t, err)
	assert.Equal(t, "You are terse.", system)
	assert.Len(t, out, 3)
}

func TestPrepareMessagesJoinsMultipleSystemMessages(t *testing.T) {
	system, out, err := prepareMessages([]llm.Message{
		llm.NewSystemMessage("first"),
		llm.NewSystemMessage("second"),
		llm.NewUserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", system)
	assert.Len(t, out, 1)
}

func TestPrepareMessagesMergesConsecutiveSameRole(t *testing.T) {
	_, out, err := prepareMessages([]llm.Message{
		llm.NewUserMessage("part one"),
		llm.NewUserMessage("part two"),
		{Role: llm.RoleAssistant, Content: "answer"},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2, "adjacent user turns merge into one")
}

func TestPrepareMessagesRejectsInvalidSequences(t *testing.T) {
	_, _, err := prepareMessages(nil)
	assert.Error(t, err)

	_, _, err = prepareMessages([]llm.Message{llm.NewSystemMessage("only system")})
	assert.Error(t, err)

	_, _, err = prepareMessages([]llm.Message{{Role: llm.RoleAssistant, Content: "me first"}})
	assert.Error(t, err, "conversation must open with a user turn")
}

func TestClientRouting(t *testing.T) {
	c := NewClient("test-key", "claude-sonnet-4-0")
	assert.True(t, c.Supports("claude-sonnet-4-0"))
	assert.False(t, c.Supports("gpt-4o"))
	assert.Equal(t, "anthropic", string(c.Provider()))
}
