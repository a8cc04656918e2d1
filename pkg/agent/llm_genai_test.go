package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/config"
)

func TestGenerate_MissingAPIKeyEnv(t *testing.T) {
	client := NewGenAIClient()
	_, err := client.Generate(context.Background(), &GenerateInput{
		Config: &config.LLMProviderConfig{
			Model:     "gemini-2.5-pro",
			APIKeyEnv: "RESEARCHD_TEST_MISSING_KEY_DOES_NOT_EXIST",
		},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "RESEARCHD_TEST_MISSING_KEY_DOES_NOT_EXIST")
}

func TestGenerate_MissingConfig(t *testing.T) {
	client := NewGenAIClient()
	_, err := client.Generate(context.Background(), &GenerateInput{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider config")
}

func TestToGenAIContents_SplitsSystemInstruction(t *testing.T) {
	messages := []ConversationMessage{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hello"},
	}

	contents, system := toGenAIContents(messages)

	require.NotNil(t, system)
	require.Len(t, contents, 1)
}

func TestToGenAIContents_AssistantWithToolCalls(t *testing.T) {
	messages := []ConversationMessage{
		{
			Role:    RoleAssistant,
			Content: "calling a tool",
			ToolCalls: []ToolCall{
				{ID: "call-1", Name: "vector_search", Arguments: `{"query":"x"}`},
			},
		},
	}

	contents, system := toGenAIContents(messages)

	assert.Nil(t, system)
	require.Len(t, contents, 1)
	assert.Len(t, contents[0].Parts, 2)
}

func TestToGenAIContents_ToolResultMessage(t *testing.T) {
	messages := []ConversationMessage{
		{Role: RoleTool, ToolName: "vector_search", Content: "no results"},
	}

	contents, system := toGenAIContents(messages)

	assert.Nil(t, system)
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 1)
}

func TestMarshalFunctionArgs(t *testing.T) {
	out, err := marshalFunctionArgs(map[string]any{"query": "test"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"test"}`, out)
}

func TestIsRetryableGenAIError(t *testing.T) {
	assert.False(t, isRetryableGenAIError(nil))
	assert.False(t, isRetryableGenAIError(context.DeadlineExceeded))
}

func TestToGenAITools(t *testing.T) {
	tools := toGenAITools([]ToolDefinition{
		{Name: "vector_search", Description: "search the vector store"},
		{Name: "web_search", Description: "search the web"},
	})

	require.Len(t, tools, 1)
	assert.Len(t, tools[0].FunctionDeclarations, 2)
	assert.Equal(t, "vector_search", tools[0].FunctionDeclarations[0].Name)
}
