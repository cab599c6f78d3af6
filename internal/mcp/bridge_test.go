package mcp

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertTool_WrapsSchemaInFunctionShape(t *testing.T) {
	src := &mcp.Tool{
		Name:        "search_docs",
		Description: "search documentation",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string"},
			},
			Required: []string{"query"},
		},
	}

	tool := convertTool(src)
	assert.Equal(t, "function", tool.Type)
	assert.Equal(t, "search_docs", tool.Function.Name)

	var params map[string]any
	require.NoError(t, json.Unmarshal(tool.Function.Parameters, &params))
	assert.Equal(t, "object", params["type"])
	assert.Contains(t, params["properties"], "query")
	assert.Equal(t, []any{"query"}, params["required"])
}

func TestConvertTool_EmptySchemaStillHasProperties(t *testing.T) {
	tool := convertTool(&mcp.Tool{Name: "noop"})
	var params map[string]any
	require.NoError(t, json.Unmarshal(tool.Function.Parameters, &params))
	assert.NotNil(t, params["properties"], "OpenAI requires a properties object")
}

func TestExtractText_JoinsContentBlocks(t *testing.T) {
	out := extractText(&mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "part one "},
			mcp.TextContent{Type: "text", Text: "part two"},
		},
	})
	assert.Equal(t, "part one part two", out)

	assert.Empty(t, extractText(nil))
}
