// Package ollama provides the Ollama local-server adapter. The chat
// endpoint streams newline-delimited JSON rather than SSE; the stream
// coordinator switches framing accordingly.
package ollama

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
	ProviderName   = "ollama"
	DefaultBaseURL = "http://localhost:11434"
)

// Provider implements the Ollama adapter.
type Provider struct {
	baseURL string
}

// New creates an Ollama adapter.
func New(cfg provider.Config) *Provider {
	p := &Provider{baseURL: DefaultBaseURL}
	if cfg.BaseURL != "" {
		p.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return p
}

// NewFromConfig is the factory registered for the "ollama" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}

func (p *Provider) Name() string              { return ProviderName }
func (p *Provider) DefaultBaseURL() string    { return p.baseURL }
func (p *Provider) Auth() provider.AuthScheme { return provider.AuthNone }

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequest maps the unified request to /api/chat; sampling knobs
// nest under options.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body := chatRequest{Model: req.Model, Stream: req.Stream}
	for _, m := range req.Messages {
		var text string
		if err := json.Unmarshal(m.Content, &text); err != nil {
			text = string(m.Content)
		}
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: text})
	}
	opts := map[string]any{}
	if req.Temperature != nil {
		opts["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		opts["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		opts["top_k"] = *req.TopK
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		opts["stop"] = req.Stop
	}
	if req.Seed != nil {
		opts["seed"] = *req.Seed
	}
	if len(opts) > 0 {
		body.Options = opts
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// ParseResponse converts an /api/chat response to the unified shape.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	content, err := json.Marshal(cr.Message.Content)
	if err != nil {
		return nil, err
	}
	return &types.ChatResponse{
		Object: "chat.completion",
		Model:  cr.Model,
		Choices: []types.Choice{{
			Message:      types.ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: &types.Usage{
			PromptTokens:     cr.PromptEvalCount,
			CompletionTokens: cr.EvalCount,
			TotalTokens:      cr.PromptEvalCount + cr.EvalCount,
		},
	}, nil
}

// ParseStreamChunk parses one NDJSON line.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	return (&streaming.OllamaParser{}).ParseChunk(data)
}

// MapError maps Ollama's flat error body.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	}
	switch statusCode {
	case http.StatusNotFound:
		return errors.NewNotFoundError(ProviderName, "", message)
	case http.StatusBadRequest:
		return errors.NewInvalidRequestError(ProviderName, "", message)
	default:
		if statusCode >= 500 {
			return errors.NewServiceUnavailableError(ProviderName, "", message)
		}
		return errors.NewInternalError(ProviderName, "", message)
	}
}
