package bedrock

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exllm/exllm/pkg/types"
)

func testProvider() *Provider {
	return New(aws.Config{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIATEST", SecretAccessKey: "secret"}, nil
		}),
	})
}

func wireMsg(t *testing.T, role, content string) types.ChatMessage {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	return types.ChatMessage{Role: role, Content: raw}
}

func TestBuildRequest_SignsAndTargetsModel(t *testing.T) {
	p := testProvider()
	req := &types.ChatRequest{
		Model:    "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []types.ChatMessage{wireMsg(t, "user", "hi")},
	}

	httpReq, err := p.BuildRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "bedrock-runtime.us-east-1.amazonaws.com", httpReq.URL.Host)
	assert.Contains(t, httpReq.URL.Path, "/invoke")
	assert.NotContains(t, httpReq.URL.Path, "invoke-with-response-stream")
	assert.Contains(t, httpReq.Header.Get("Authorization"), "AWS4-HMAC-SHA256")
}

func TestBuildRequest_StreamTargetsStreamingAction(t *testing.T) {
	p := testProvider()
	httpReq, err := p.BuildRequest(context.Background(), &types.ChatRequest{
		Model:    "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []types.ChatMessage{wireMsg(t, "user", "hi")},
		Stream:   true,
	})
	require.NoError(t, err)
	assert.Contains(t, httpReq.URL.Path, "invoke-with-response-stream")
}

func TestClaudePayload_SystemHoistedAndDefaults(t *testing.T) {
	body, err := claudePayload(&types.ChatRequest{
		Model: "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []types.ChatMessage{
			wireMsg(t, "system", "be terse"),
			wireMsg(t, "user", "hi"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "be terse", body.System)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, 2048, body.MaxTokens)
	assert.Equal(t, "bedrock-2023-05-31", body.AnthropicVersion)
}

func TestLlamaPayload_PromptFraming(t *testing.T) {
	body := llamaPayload(&types.ChatRequest{
		Model:    "meta.llama3-8b-instruct-v1:0",
		Messages: []types.ChatMessage{wireMsg(t, "user", "hi")},
	})
	assert.Contains(t, body.Prompt, "<|begin_of_text|>")
	assert.Contains(t, body.Prompt, "hi")
	assert.Contains(t, body.Prompt, "<|start_header_id|>assistant<|end_header_id|>")
}

func TestPayloadFor_UnknownFamily(t *testing.T) {
	p := testProvider()
	_, err := p.payloadFor(&types.ChatRequest{Model: "cohere.command-r"})
	assert.Error(t, err)
}

// TestTransformEventStream encodes EventStream frames with base64
// chunk wrappers and checks the transformer emits well-formed SSE.
func TestTransformEventStream(t *testing.T) {
	var wire bytes.Buffer
	encoder := eventstream.NewEncoder()

	payload := []byte(`{"bytes":"eyJ0eXBlIjoiY29udGVudF9ibG9ja19kZWx0YSIsImRlbHRhIjp7InRleHQiOiJoaSJ9fQ=="}`)
	require.NoError(t, encoder.Encode(&wire, eventstream.Message{
		Headers: eventstream.Headers{{
			Name:  ":event-type",
			Value: eventstream.StringValue("chunk"),
		}},
		Payload: payload,
	}))

	out := transformEventStream(io.NopCloser(&wire))
	sse, err := io.ReadAll(out)
	require.NoError(t, err)

	text := string(sse)
	assert.Contains(t, text, `data: {"type":"content_block_delta","delta":{"text":"hi"}}`)
	assert.Contains(t, text, "data: [DONE]")
}

func TestParseStreamChunk_ClaudeAndLlama(t *testing.T) {
	p := testProvider()

	chunk, err := p.ParseStreamChunk([]byte(`{"type":"content_block_delta","delta":{"text":"hey"}}`))
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, "hey", chunk.Choices[0].Delta.Content)

	stop, err := p.ParseStreamChunk([]byte(`{"type":"message_stop"}`))
	require.NoError(t, err)
	assert.Equal(t, "stop", stop.Choices[0].FinishReason)

	llama, err := p.ParseStreamChunk([]byte(`{"generation":"word","stop_reason":null}`))
	require.NoError(t, err)
	assert.Equal(t, "word", llama.Choices[0].Delta.Content)
}
