package ollama

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/types"
)

func TestBuildRequest_OptionsNested(t *testing.T) {
	p := New(provider.Config{})
	temp := 0.4
	content, _ := json.Marshal("hi")
	seed := int64(7)

	httpReq, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model:       "llama3",
		Messages:    []types.ChatMessage{{Role: "user", Content: content}},
		Temperature: &temp,
		MaxTokens:   64,
		Seed:        &seed,
	})
	require.NoError(t, err)
	assert.Equal(t, "/api/chat", httpReq.URL.Path)

	raw, _ := io.ReadAll(httpReq.Body)
	var body struct {
		Model   string `json:"model"`
		Options struct {
			Temperature float64 `json:"temperature"`
			NumPredict  int     `json:"num_predict"`
			Seed        int64   `json:"seed"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "llama3", body.Model)
	assert.Equal(t, 0.4, body.Options.Temperature)
	assert.Equal(t, 64, body.Options.NumPredict)
	assert.Equal(t, int64(7), body.Options.Seed)
}

func TestParseResponse_UsageFromEvalCounts(t *testing.T) {
	p := New(provider.Config{})
	respBody := `{"model":"llama3","message":{"role":"assistant","content":"hey"},"done":true,"prompt_eval_count":4,"eval_count":6}`
	parsed, err := p.ParseResponse(&http.Response{Body: io.NopCloser(strings.NewReader(respBody))})
	require.NoError(t, err)

	var text string
	require.NoError(t, json.Unmarshal(parsed.Choices[0].Message.Content, &text))
	assert.Equal(t, "hey", text)
	assert.Equal(t, 10, parsed.Usage.TotalTokens)
}

func TestMapError_FlatBody(t *testing.T) {
	p := New(provider.Config{})
	err := p.MapError(404, []byte(`{"error":"model 'x' not found"}`))
	assert.ErrorContains(t, err, "not found")
}
