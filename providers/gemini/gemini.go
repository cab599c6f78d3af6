// Package gemini provides the Google Gemini (generativelanguage)
// adapter. Auth travels as a URL query parameter; streaming uses the
// streamGenerateContent endpoint with SSE framing.
package gemini

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
	ProviderName   = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Provider implements the Gemini adapter.
type Provider struct {
	baseURL string
	headers map[string]string
}

// New creates a Gemini adapter.
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

// NewFromConfig is the factory registered for the "gemini" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}

func (p *Provider) Name() string              { return ProviderName }
func (p *Provider) DefaultBaseURL() string    { return p.baseURL }
func (p *Provider) Auth() provider.AuthScheme { return provider.AuthQueryParam }

type generateRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// BuildRequest maps the unified request onto generateContent: system
// messages become systemInstruction, assistant turns use the "model"
// role, and sampling knobs move into generationConfig.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body := generateRequest{}
	for _, m := range req.Messages {
		text := contentText(m.Content)
		switch m.Role {
		case "system":
			if body.SystemInstruction == nil {
				body.SystemInstruction = &geminiContent{}
			}
			body.SystemInstruction.Parts = append(body.SystemInstruction.Parts, geminiPart{Text: text})
		case "assistant", "model":
			body.Contents = append(body.Contents, geminiContent{
				Role: "model", Parts: []geminiPart{{Text: text}},
			})
		default:
			body.Contents = append(body.Contents, geminiContent{
				Role: "user", Parts: []geminiPart{{Text: text}},
			})
		}
	}
	if req.Temperature != nil || req.TopP != nil || req.TopK != nil ||
		req.MaxTokens > 0 || len(req.Stop) > 0 {
		body.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := "generateContent"
	if req.Stream {
		endpoint = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, req.Model, endpoint)
	if req.Stream {
		url += "?alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// contentText flattens wire content to plain text; non-text parts are
// dropped (Gemini image support is out of this adapter's scope).
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return string(raw)
	}
	var sb strings.Builder
	for _, part := range parts {
		if t, ok := part["text"].(string); ok {
			sb.WriteString(t)
		}
	}
	return sb.String()
}

type generateResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// ParseResponse converts a generateContent response to the unified
// shape.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("response has no candidates")
	}

	var text strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	content, err := json.Marshal(text.String())
	if err != nil {
		return nil, err
	}

	finish := "stop"
	switch gr.Candidates[0].FinishReason {
	case "MAX_TOKENS":
		finish = "length"
	case "SAFETY", "RECITATION":
		finish = "content_filter"
	}

	return &types.ChatResponse{
		Object: "chat.completion",
		Model:  gr.ModelVersion,
		Choices: []types.Choice{{
			Message:      types.ChatMessage{Role: "assistant", Content: content},
			FinishReason: finish,
		}},
		Usage: &types.Usage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// ParseStreamChunk parses one streamed candidate fragment.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	return (&streaming.GeminiParser{}).ParseChunk(data)
}

// BuildContinuationRequest implements stream recovery with model+user
// continuation parts.
func (p *Provider) BuildContinuationRequest(ctx context.Context, original *types.ChatRequest, partial string) (*http.Request, error) {
	cont := *original
	cont.Stream = true

	model, err := json.Marshal(partial)
	if err != nil {
		return nil, err
	}
	user, err := json.Marshal("continue")
	if err != nil {
		return nil, err
	}
	cont.Messages = append(append([]types.ChatMessage{}, original.Messages...),
		types.ChatMessage{Role: "model", Content: model},
		types.ChatMessage{Role: "user", Content: user},
	)
	return p.BuildRequest(ctx, &cont)
}

// MapError decodes the Google API error envelope.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
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
