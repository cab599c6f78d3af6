// Package bedrock provides the AWS Bedrock runtime adapter. Requests
// are signed with SigV4; streaming responses arrive as AWS EventStream
// frames, which a response transformer re-encodes as SSE for the stream
// coordinator.
package bedrock

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/goccy/go-json"

	"github.com/exllm/exllm/internal/streaming"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/types"
)

const ProviderName = "bedrock"

// Provider implements the Bedrock adapter.
type Provider struct {
	cfg    aws.Config
	region string
}

// New creates a Bedrock adapter from a resolved AWS config.
func New(cfg aws.Config) *Provider {
	return &Provider{cfg: cfg, region: cfg.Region}
}

// NewFromConfig is the factory registered for the "bedrock" type.
// Credentials and region come from the standard AWS environment chain
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION, profiles).
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(awsCfg), nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) DefaultBaseURL() string {
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", p.region)
}

func (p *Provider) Auth() provider.AuthScheme { return provider.AuthSigV4 }

// BuildRequest constructs, serializes, and SigV4-signs the model
// invocation. Streaming requests target invoke-with-response-stream and
// carry the EventStream-to-SSE transformer in their context.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	payload, err := p.payloadFor(req)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	action := "invoke"
	if req.Stream {
		action = "invoke-with-response-stream"
	}
	url := fmt.Sprintf("%s/model/%s/%s", p.DefaultBaseURL(), req.Model, action)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	creds, err := p.cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve credentials: %w", err)
	}
	payloadHash := sha256.Sum256(bodyBytes)
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, creds, httpReq,
		hex.EncodeToString(payloadHash[:]), "bedrock", p.region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	if req.Stream {
		streamCtx := context.WithValue(httpReq.Context(),
			provider.ResponseTransformerKey, provider.ResponseTransformer(transformEventStream))
		httpReq = httpReq.WithContext(streamCtx)
	}
	return httpReq, nil
}

// payloadFor selects the model-family body shape.
func (p *Provider) payloadFor(req *types.ChatRequest) (any, error) {
	switch {
	case strings.HasPrefix(req.Model, "anthropic."):
		return claudePayload(req)
	case strings.HasPrefix(req.Model, "meta."):
		return llamaPayload(req), nil
	default:
		return nil, fmt.Errorf("unsupported model family for %s", req.Model)
	}
}

type claudeBody struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []claudeMessage `json:"messages"`
	System           string          `json:"system,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func claudePayload(req *types.ChatRequest) (*claudeBody, error) {
	body := &claudeBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = 2048
	}
	for _, m := range req.Messages {
		var text string
		if err := json.Unmarshal(m.Content, &text); err != nil {
			text = string(m.Content)
		}
		if m.Role == "system" {
			if body.System != "" {
				body.System += "\n\n"
			}
			body.System += text
			continue
		}
		body.Messages = append(body.Messages, claudeMessage{Role: m.Role, Content: text})
	}
	return body, nil
}

type llamaBody struct {
	Prompt      string   `json:"prompt"`
	MaxGenLen   int      `json:"max_gen_len,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

func llamaPayload(req *types.ChatRequest) *llamaBody {
	var prompt strings.Builder
	prompt.WriteString("<|begin_of_text|>")
	for _, m := range req.Messages {
		var text string
		if err := json.Unmarshal(m.Content, &text); err != nil {
			text = string(m.Content)
		}
		prompt.WriteString(fmt.Sprintf("<|start_header_id|>%s<|end_header_id|>\n\n%s<|eot_id|>", m.Role, text))
	}
	prompt.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")

	body := &llamaBody{
		Prompt:      prompt.String(),
		MaxGenLen:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if body.MaxGenLen == 0 {
		body.MaxGenLen = 512
	}
	return body
}

// ParseResponse detects the model family from the body shape.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var claudeResp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &claudeResp); err == nil && len(claudeResp.Content) > 0 {
		content, _ := json.Marshal(claudeResp.Content[0].Text)
		finish := "stop"
		if claudeResp.StopReason == "max_tokens" {
			finish = "length"
		}
		return &types.ChatResponse{
			Object: "chat.completion",
			Choices: []types.Choice{{
				Message:      types.ChatMessage{Role: "assistant", Content: content},
				FinishReason: finish,
			}},
			Usage: &types.Usage{
				PromptTokens:     claudeResp.Usage.InputTokens,
				CompletionTokens: claudeResp.Usage.OutputTokens,
				TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
			},
		}, nil
	}

	var llamaResp struct {
		Generation string `json:"generation"`
	}
	if err := json.Unmarshal(body, &llamaResp); err == nil && llamaResp.Generation != "" {
		content, _ := json.Marshal(llamaResp.Generation)
		return &types.ChatResponse{
			Object: "chat.completion",
			Choices: []types.Choice{{
				Message:      types.ChatMessage{Role: "assistant", Content: content},
				FinishReason: "stop",
			}},
		}, nil
	}

	return nil, fmt.Errorf("unrecognized bedrock response shape")
}

// ParseStreamChunk handles the SSE payloads the transformer emits:
// Anthropic event objects or Llama generation fragments.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}

	switch event["type"] {
	case "content_block_delta":
		delta, _ := event["delta"].(map[string]any)
		text, _ := delta["text"].(string)
		return &types.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []types.StreamChoice{{
				Delta: types.StreamDelta{Content: text},
			}},
		}, nil
	case "message_stop":
		return &types.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []types.StreamChoice{{
				FinishReason: "stop",
			}},
		}, nil
	}

	if gen, ok := event["generation"].(string); ok {
		chunk := &types.StreamChunk{
			Object: "chat.completion.chunk",
			Choices: []types.StreamChoice{{
				Delta: types.StreamDelta{Content: gen},
			}},
		}
		if stop, ok := event["stop_reason"].(string); ok && stop != "" {
			chunk.Choices[0].FinishReason = "stop"
		}
		return chunk, nil
	}
	return nil, nil
}

// NewStreamParser lets each stream parse through the adapter directly;
// the parser is stateless so the adapter itself serves.
func (p *Provider) NewStreamParser() streaming.ChunkParser {
	return bedrockParser{p}
}

type bedrockParser struct{ p *Provider }

func (b bedrockParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	return b.p.ParseStreamChunk(data)
}

// MapError maps Bedrock's exception envelope.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Message string `json:"message"`
	}
	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		message = errResp.Message
	}
	switch statusCode {
	case http.StatusForbidden, http.StatusUnauthorized:
		return errors.NewAuthenticationError(ProviderName, "", message)
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(ProviderName, "", message)
	case http.StatusBadRequest:
		return errors.NewInvalidRequestError(ProviderName, "", message)
	case http.StatusNotFound:
		return errors.NewNotFoundError(ProviderName, "", message)
	default:
		if statusCode >= 500 {
			return errors.NewServiceUnavailableError(ProviderName, "", message)
		}
		return errors.NewInternalError(ProviderName, "", message)
	}
}

// transformEventStream decodes AWS EventStream frames and re-encodes
// each payload as one SSE data event. Bedrock wraps chunk payloads as
// {"bytes": "<base64>"}, which is unwrapped before forwarding.
func transformEventStream(body io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer body.Close()
		defer pw.Close()

		decoder := eventstream.NewDecoder()
		buf := make([]byte, 64*1024)
		for {
			msg, err := decoder.Decode(body, buf)
			if err != nil {
				break
			}
			payload := msg.Payload
			var wrapper struct {
				Bytes string `json:"bytes"`
			}
			if err := json.Unmarshal(payload, &wrapper); err == nil && wrapper.Bytes != "" {
				if decoded, err := base64.StdEncoding.DecodeString(wrapper.Bytes); err == nil {
					payload = decoded
				}
			}
			if _, err := fmt.Fprintf(pw, "data: %s\n\n", payload); err != nil {
				return
			}
		}
		_, _ = io.WriteString(pw, "data: [DONE]\n\n")
	}()
	return pr
}
