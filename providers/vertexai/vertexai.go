// Package vertexai provides the Google Vertex AI adapter. The wire
// format matches Gemini's generateContent API, but auth uses OAuth2
// access tokens from application-default credentials instead of an API
// key, and the endpoint is project/location scoped.
package vertexai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/exllm/exllm/internal/streaming"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/types"

	"github.com/exllm/exllm/providers/gemini"
)

const ProviderName = "vertexai"

// Provider implements the Vertex AI adapter by wrapping the Gemini
// adapter with a project-scoped base URL and OAuth2 bearer tokens.
type Provider struct {
	inner     *gemini.Provider
	projectID string
	location  string
	tokenSrc  oauth2.TokenSource
}

// New creates a Vertex AI adapter with an explicit token source.
func New(projectID, location string, tokenSrc oauth2.TokenSource, cfg provider.Config) *Provider {
	if location == "" {
		location = "us-central1"
	}
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf(
			"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google",
			location, projectID, location)
	}
	inner := gemini.New(provider.Config{BaseURL: base, Headers: cfg.Headers})
	return &Provider{
		inner:     inner,
		projectID: projectID,
		location:  location,
		tokenSrc:  tokenSrc,
	}
}

// NewFromConfig is the factory registered for the "vertexai" type. The
// project id rides in cfg.Name metadata conventionally as
// "vertexai:<project>:<location>". A missing project falls back to the
// one in the application-default credentials; a missing location falls
// back to us-central1.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	projectID, location := splitProjectLocation(cfg.Name)
	creds, err := google.FindDefaultCredentials(context.Background(),
		"https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	if projectID == "" {
		projectID = creds.ProjectID
	}
	if projectID == "" {
		return nil, fmt.Errorf("no GCP project id resolvable for vertexai")
	}
	return New(projectID, location, creds.TokenSource, cfg), nil
}

func splitProjectLocation(name string) (string, string) {
	parts := strings.Split(name, ":")
	if len(parts) >= 3 {
		return parts[1], parts[2]
	}
	if len(parts) == 2 {
		return parts[1], ""
	}
	return "", ""
}

func (p *Provider) Name() string              { return ProviderName }
func (p *Provider) DefaultBaseURL() string    { return p.inner.DefaultBaseURL() }
func (p *Provider) Auth() provider.AuthScheme { return provider.AuthCustom }

// BuildRequest delegates the body shape to the Gemini adapter and
// attaches a fresh OAuth2 bearer token.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	httpReq, err := p.inner.BuildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	// Vertex authenticates with the bearer token below, so any key query
	// parameter is dropped; the alt=sse query for streams is kept.
	q := httpReq.URL.Query()
	q.Del("key")
	httpReq.URL.RawQuery = q.Encode()

	tok, err := p.tokenSrc.Token()
	if err != nil {
		return nil, fmt.Errorf("vertex token: %w", err)
	}
	tok.SetAuthHeader(httpReq)
	return httpReq, nil
}

func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	return p.inner.ParseResponse(resp)
}

func (p *Provider) ParseStreamChunk(data []byte) (*types.StreamChunk, error) {
	return p.inner.ParseStreamChunk(data)
}

// NewStreamParser parses Vertex streams with the Gemini chunk parser.
func (p *Provider) NewStreamParser() streaming.ChunkParser {
	return &streaming.GeminiParser{}
}

func (p *Provider) MapError(statusCode int, body []byte) error {
	return p.inner.MapError(statusCode, body)
}
