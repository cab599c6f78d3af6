// Package anthropic provides the Anthropic Messages API adapter.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/exllm/exllm/internal/streaming"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/types"
)

const (
	ProviderName   = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// apiVersion is the anthropic-version header every request carries.
	apiVersion = "2023-06-01"

	// defaultMaxTokens applies when the caller sets none; the Messages
	// API requires the field.
	defaultMaxTokens = 4096
)

// Provider implements the Anthropic adapter.
type Provider struct {
	baseURL string
	headers map[string]string
}

// New creates an Anthropic adapter.
func New(cfg provider.Config) *Provider {
	p := &Provider{
		baseURL: DefaultBaseURL,
		headers: make(map[string]string),
	}
	if cfg.BaseURL != "" {
		p.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p
}

// NewFromConfig is the factory registered for the "anthropic" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}

func (p *Provider) Name() string              { return ProviderName }
func (p *Provider) DefaultBaseURL() string    { return p.baseURL }
func (p *Provider) Auth() provider.AuthScheme { return provider.AuthAPIKeyHeader }

// messagesRequest is the Messages API body.
type messagesRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []messageParam     `json:"messages"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Tools         []toolParam        `json:"tools,omitempty"`
	ToolChoice    map[string]any     `json:"tool_choice,omitempty"`
}

type messageParam struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type toolParam struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// BuildRequest maps the unified request onto the Messages API: the
// system message moves to the top-level system field, tool definitions
// lose the OpenAI function wrapper, and stop becomes stop_sequences.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body := messagesRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = defaultMaxTokens
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			var text string
			if err := json.Unmarshal(m.Content, &text); err == nil {
				if body.System != "" {
					body.System += "\n\n"
				}
				body.System += text
			}
			continue
		}
		role := m.Role
		if role == "tool" {
			// Tool results travel as user turns with tool_result blocks.
			role = "user"
		}
		body.Messages = append(body.Messages, messageParam{
			Role:    role,
			Content: convertContent(m),
		})
	}

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		body.Tools = append(body.Tools, toolParam{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}
	if len(req.ToolChoice) > 0 {
		body.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// convertContent maps wire content to Messages API content: plain
// strings pass through, part arrays become typed blocks.
func convertContent(m types.ChatMessage) any {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		if m.ToolCallID != "" {
			return []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     text,
			}}
		}
		return text
	}

	var parts []map[string]any
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return string(m.Content)
	}
	blocks := make([]map[string]any, 0, len(parts))
	for _, part := range parts {
		switch part["type"] {
		case "image_url":
			if img, ok := part["image_url"].(map[string]any); ok {
				if url, ok := img["url"].(string); ok {
					blocks = append(blocks, imageBlock(url))
				}
			}
		default:
			if t, ok := part["text"].(string); ok {
				blocks = append(blocks, map[string]any{"type": "text", "text": t})
			}
		}
	}
	return blocks
}

// imageBlock converts a data URL or https URL into an image source block.
func imageBlock(url string) map[string]any {
	if strings.HasPrefix(url, "data:") {
		meta, data, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
		if ok {
			mediaType := strings.TrimSuffix(meta, ";base64")
			return map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": mediaType,
					"data":       data,
				},
			}
		}
	}
	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": url},
	}
}

func convertToolChoice(raw json.RawMessage) map[string]any {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "none":
			return map[string]any{"type": "none"}
		case "required":
			return map[string]any{"type": "any"}
		default:
			return map[string]any{"type": "auto"}
		}
	}
	var obj struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		return map[string]any{"type": "tool", "name": obj.Function.Name}
	}
	return nil
}

// messagesResponse is the Messages API response body.
type messagesResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseResponse converts a Messages API response into the unified shape.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var mr messagesResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	var toolCalls []types.ToolCall
	for _, block := range mr.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			toolCalls = append(toolCalls, types.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: types.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}

	content, err := json.Marshal(text.String())
	if err != nil {
		return nil, err
	}
	return &types.ChatResponse{
		ID:     mr.ID,
		Object: "chat.completion",
		Model:  mr.Model,
		Choices: []types.Choice{{
			Message: types.ChatMessage{
				Role:      "assistant",
				Content:   content,
				ToolCalls: toolCalls,
			},
			FinishReason: mapStopReason(mr.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     mr.Usage.InputTokens,
			CompletionTokens: mr.Usage.OutputTokens,
			TotalTokens:      mr.Usage.InputTokens + mr.Usage.OutputTokens,
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// ParseStreamChunk delegates to the event-stream parser; note the
// stateless call path is only correct for single-event parsing, so the
// coordinator asks for a stateful parser via NewStreamParser instead.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	return (&streaming.AnthropicParser{}).ParseChunk(data)
}

// NewStreamParser returns a fresh stateful parser per stream.
func (p *Provider) NewStreamParser() streaming.ChunkParser {
	return &streaming.AnthropicParser{}
}

// BuildContinuationRequest implements stream recovery: the partial
// response becomes the assistant's previous turn, followed by a user
// turn asking to continue.
func (p *Provider) BuildContinuationRequest(ctx context.Context, original *types.ChatRequest, partial string) (*http.Request, error) {
	cont := *original
	cont.Stream = true

	assistant, err := json.Marshal(partial)
	if err != nil {
		return nil, err
	}
	user, err := json.Marshal("continue")
	if err != nil {
		return nil, err
	}
	cont.Messages = append(append([]types.ChatMessage{}, original.Messages...),
		types.ChatMessage{Role: "assistant", Content: assistant},
		types.ChatMessage{Role: "user", Content: user},
	)
	return p.BuildRequest(ctx, &cont)
}

// MapError decodes the Anthropic error envelope.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthenticationError(ProviderName, "", message)
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(ProviderName, "", message)
	case http.StatusBadRequest:
		if errResp.Error.Type == "invalid_request_error" && strings.Contains(message, "prompt is too long") {
			return &errors.LLMError{
				StatusCode: statusCode, Message: message,
				Type: errors.TypeContextLength, Provider: ProviderName,
			}
		}
		return errors.NewInvalidRequestError(ProviderName, "", message)
	case http.StatusNotFound:
		return errors.NewNotFoundError(ProviderName, "", message)
	case 529: // Anthropic's overloaded status
		return errors.NewServiceUnavailableError(ProviderName, "", message)
	default:
		if statusCode >= 500 {
			return errors.NewServiceUnavailableError(ProviderName, "", message)
		}
		return errors.NewInternalError(ProviderName, "", message)
	}
}
