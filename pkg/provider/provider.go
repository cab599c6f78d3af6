// Package provider defines the adapter contract for LLM providers.
// Each provider (OpenAI, Anthropic, etc.) implements this interface
// to handle request/response transformation and API communication.
package provider

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/exllm/exllm/pkg/types"
)

// AuthScheme identifies how a provider expects credentials on the wire.
type AuthScheme string

const (
	// AuthBearer sets "Authorization: Bearer <token>".
	AuthBearer AuthScheme = "bearer"
	// AuthAPIKeyHeader sets "x-api-key: <token>" (Anthropic-style).
	AuthAPIKeyHeader AuthScheme = "x-api-key"
	// AuthSigV4 signs the request with AWS Signature v4 (Bedrock).
	AuthSigV4 AuthScheme = "sigv4"
	// AuthQueryParam appends the key as a URL query parameter (Gemini).
	AuthQueryParam AuthScheme = "query"
	// AuthNone sends no credentials (Ollama, LM Studio).
	AuthNone AuthScheme = "none"
	// AuthCustom means the adapter's BuildRequest attaches credentials
	// itself (signed JWTs, OAuth tokens).
	AuthCustom AuthScheme = "custom"
)

// Provider defines the interface that all LLM provider adapters must implement.
// It handles request preparation and response parsing; the transport itself is
// owned by the HTTP client the pipeline builds.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// DefaultBaseURL returns the provider's default API endpoint.
	DefaultBaseURL() string

	// Auth returns the credential scheme this provider uses.
	Auth() AuthScheme

	// BuildRequest transforms a unified ChatRequest into a provider-specific
	// HTTP request: parameter mapping, headers, body serialization.
	BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error)

	// ParseResponse transforms a provider-specific response into the unified
	// ChatResponse format.
	ParseResponse(resp *http.Response) (*types.ChatResponse, error)

	// ParseStreamChunk parses a single streaming event payload (the data of
	// one SSE frame, or one NDJSON line) into a unified StreamChunk.
	// Returns nil, nil for keep-alive or non-content events.
	ParseStreamChunk(data []byte) (*types.StreamChunk, error)

	// MapError converts a provider-specific error response into a
	// standardized LLMError.
	MapError(statusCode int, body []byte) error
}

// Embedder is implemented by providers that support embedding requests.
type Embedder interface {
	BuildEmbeddingRequest(ctx context.Context, req *types.EmbeddingRequest) (*http.Request, error)
	ParseEmbeddingResponse(resp *http.Response) (*types.EmbeddingResponse, error)
}

// ModelLister is implemented by providers that expose a model listing
// endpoint.
type ModelLister interface {
	BuildListModelsRequest(ctx context.Context) (*http.Request, error)
	ParseListModelsResponse(resp *http.Response) ([]types.Model, error)
}

// ContinuationFormatter is implemented by providers that support stream
// recovery. It rewrites the original request so the model continues from
// the accumulated partial content.
type ContinuationFormatter interface {
	BuildContinuationRequest(ctx context.Context, original *types.ChatRequest, partial string) (*http.Request, error)
}

// TokenSource defines the interface for retrieving access tokens.
// It allows for dynamic token retrieval (Vault, OIDC, signed JWTs) vs
// static API keys.
type TokenSource interface {
	// Token returns a valid access token or error.
	Token() (string, error)
}

// StaticTokenSource implements TokenSource with a static API key.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a new static token source.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the static token.
func (s *StaticTokenSource) Token() (string, error) {
	return s.token, nil
}

// GetToken returns the token from TokenSource if available, otherwise the
// static APIKey.
func GetToken(ts TokenSource, apiKey string) (string, error) {
	if ts != nil {
		return ts.Token()
	}
	return apiKey, nil
}

// Config contains provider-specific configuration.
type Config struct {
	Name        string
	Type        string
	APIKey      string
	TokenSource TokenSource
	BaseURL     string
	// AllowPrivateBaseURL permits loopback/private/link-local base URLs
	// (e.g. http://127.0.0.1). Default is false to reduce SSRF risk when
	// base_url can be influenced by an untrusted party.
	AllowPrivateBaseURL bool
	DefaultModel        string
	Timeout             time.Duration
	Headers             map[string]string
}

// Factory creates provider instances from configuration.
type Factory func(cfg Config) (Provider, error)

// ResponseTransformer transforms a streamed response body. It adapts
// non-SSE streaming formats (AWS EventStream) into byte streams the SSE
// framer can process.
type ResponseTransformer func(io.ReadCloser) io.ReadCloser

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ResponseTransformerKey is the context key adapters use to attach a
// ResponseTransformer to a streaming request.
var ResponseTransformerKey = contextKey("exllm_response_transformer")

// Adapter is a function-record Provider for user-supplied providers: a
// registry entry built from plain functions instead of a named type.
// Only ProviderName and the two request/response functions are required;
// nil optional functions fall back to sensible defaults.
type Adapter struct {
	ProviderName string
	BaseURL      string
	AuthScheme   AuthScheme

	BuildRequestFn     func(ctx context.Context, req *types.ChatRequest) (*http.Request, error)
	ParseResponseFn    func(resp *http.Response) (*types.ChatResponse, error)
	ParseStreamChunkFn func(data []byte) (*types.StreamChunk, error)
	MapErrorFn         func(statusCode int, body []byte) error
}

func (a *Adapter) Name() string           { return a.ProviderName }
func (a *Adapter) DefaultBaseURL() string { return a.BaseURL }

func (a *Adapter) Auth() AuthScheme {
	if a.AuthScheme == "" {
		return AuthBearer
	}
	return a.AuthScheme
}

func (a *Adapter) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	return a.BuildRequestFn(ctx, req)
}

func (a *Adapter) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	return a.ParseResponseFn(resp)
}

func (a *Adapter) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	if a.ParseStreamChunkFn == nil {
		return nil, nil
	}
	return a.ParseStreamChunkFn(data)
}

func (a *Adapter) MapError(statusCode int, body []byte) error {
	if a.MapErrorFn == nil {
		return nil
	}
	return a.MapErrorFn(statusCode, body)
}
