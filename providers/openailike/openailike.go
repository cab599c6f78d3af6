// Package openailike is the shared adapter for OpenAI-compatible
// providers. Most hosted LLM APIs follow OpenAI's chat-completions
// format with minor variations; the concrete provider packages (groq,
// mistral, perplexity, openrouter, xai, lmstudio) configure this base
// instead of duplicating it.
package openailike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/types"
)

// Info carries the per-provider variations.
type Info struct {
	// Name is the provider identifier (e.g., "groq", "openrouter").
	Name string

	// DefaultBaseURL is the default API endpoint, including any version
	// prefix (e.g. "https://api.groq.com/openai/v1").
	DefaultBaseURL string

	// Auth defaults to Bearer when empty.
	Auth provider.AuthScheme

	// ChatEndpoint defaults to "/chat/completions".
	ChatEndpoint string

	// EmbeddingsEndpoint defaults to "/embeddings"; empty string with
	// NoEmbeddings set disables the capability.
	EmbeddingsEndpoint string
	NoEmbeddings       bool

	// ModelsEndpoint defaults to "/models".
	ModelsEndpoint string

	// ExtraHeaders are attached to every request (OpenRouter's referer
	// headers, for example).
	ExtraHeaders map[string]string
}

// Provider implements a generic OpenAI-compatible adapter.
type Provider struct {
	info    Info
	baseURL string
	headers map[string]string
}

// New creates an adapter for the given provider variation. cfg.BaseURL
// overrides the default endpoint; cfg.Headers merge over ExtraHeaders.
func New(info Info, cfg provider.Config) *Provider {
	if info.ChatEndpoint == "" {
		info.ChatEndpoint = "/chat/completions"
	}
	if info.EmbeddingsEndpoint == "" {
		info.EmbeddingsEndpoint = "/embeddings"
	}
	if info.ModelsEndpoint == "" {
		info.ModelsEndpoint = "/models"
	}
	p := &Provider{
		info:    info,
		baseURL: strings.TrimSuffix(info.DefaultBaseURL, "/"),
		headers: make(map[string]string),
	}
	if cfg.BaseURL != "" {
		p.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	for k, v := range info.ExtraHeaders {
		p.headers[k] = v
	}
	for k, v := range cfg.Headers {
		p.headers[k] = v
	}
	return p
}

func (p *Provider) Name() string           { return p.info.Name }
func (p *Provider) DefaultBaseURL() string { return p.baseURL }

func (p *Provider) Auth() provider.AuthScheme {
	if p.info.Auth == "" {
		return provider.AuthBearer
	}
	return p.info.Auth
}

// BuildRequest serializes the wire request unchanged; the unified
// request shape IS the OpenAI shape.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+p.info.ChatEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseResponse decodes the provider response, which is already in the
// unified format.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// ParseStreamChunk parses one SSE data payload.
func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[DONE]")) {
		return nil, nil
	}
	var chunk types.StreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal chunk: %w", err)
	}
	return &chunk, nil
}

// MapError decodes the OpenAI error envelope into the taxonomy.
func (p *Provider) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	message := http.StatusText(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	name := p.info.Name
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthenticationError(name, "", message)
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(name, "", message)
	case http.StatusBadRequest:
		if strings.Contains(message, "context length") || strings.Contains(message, "maximum context") {
			return &errors.LLMError{
				StatusCode: statusCode, Message: message,
				Type: errors.TypeContextLength, Provider: name,
			}
		}
		return errors.NewInvalidRequestError(name, "", message)
	case http.StatusNotFound:
		return errors.NewNotFoundError(name, "", message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.NewTimeoutError(name, "", message)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return errors.NewServiceUnavailableError(name, "", message)
	default:
		return errors.NewInternalError(name, "", message)
	}
}

// BuildEmbeddingRequest implements provider.Embedder.
func (p *Provider) BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest) (*http.Request, error) {
	if p.info.NoEmbeddings {
		return nil, fmt.Errorf("%s does not support embeddings", p.info.Name)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+p.info.EmbeddingsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseEmbeddingResponse implements provider.Embedder.
func (p *Provider) ParseEmbeddingResponse(resp *http.Response) (*types.EmbeddingResponse, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	var embResp types.EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal embedding response: %w", err)
	}
	return &embResp, nil
}

// BuildListModelsRequest implements provider.ModelLister.
func (p *Provider) BuildListModelsRequest(ctx context.Context) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+p.info.ModelsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseListModelsResponse implements provider.ModelLister.
func (p *Provider) ParseListModelsResponse(resp *http.Response) ([]types.Model, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read models response: %w", err)
	}
	var listResp struct {
		Data []types.Model `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("unmarshal models response: %w", err)
	}
	return listResp.Data, nil
}
