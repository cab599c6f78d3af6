package types //nolint:revive // package name is intentional

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionResponseFromChat(t *testing.T) {
	content, err := json.Marshal("hello there")
	require.NoError(t, err)

	resp := CompletionResponseFromChat(&ChatResponse{
		ID:    "chat-1",
		Model: "m",
		Choices: []Choice{{
			Message:      ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: &Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	})

	require.NotNil(t, resp)
	assert.Equal(t, "text_completion", resp.Object)
	assert.Equal(t, "chat-1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Text)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 3, resp.Usage.TotalTokens)

	assert.Nil(t, CompletionResponseFromChat(nil))
}

func TestExtractMessageText_PartArrays(t *testing.T) {
	parts := ChatMessage{Content: json.RawMessage(
		`[{"type":"text","text":"one "},{"type":"image_url","text":"skip"},{"type":"text","text":"two"}]`)}
	assert.Equal(t, "one two", extractMessageText(parts))

	assert.Empty(t, extractMessageText(ChatMessage{Content: json.RawMessage("null")}))
	assert.Empty(t, extractMessageText(ChatMessage{}))
}
