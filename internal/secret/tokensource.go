package secret

import (
	"context"
	"os"
	"time"
)

// apiKeyEnvVars maps provider types to their conventional environment
// variables.
var apiKeyEnvVars = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"perplexity": "PERPLEXITY_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"xai":        "XAI_API_KEY",
}

// baseURLEnvVars maps local providers to their endpoint variables.
var baseURLEnvVars = map[string]string{
	"ollama":   "OLLAMA_API_BASE",
	"lmstudio": "LMSTUDIO_API_BASE",
}

// APIKeyFromEnv resolves a provider type's conventional API key
// environment variable. ok is false when the provider has no
// conventional variable or it is unset.
func APIKeyFromEnv(providerType string) (string, bool) {
	name, ok := apiKeyEnvVars[providerType]
	if !ok {
		return "", false
	}
	val, ok := os.LookupEnv(name)
	return val, ok && val != ""
}

// BaseURLFromEnv resolves a local provider's endpoint variable.
func BaseURLFromEnv(providerType string) (string, bool) {
	name, ok := baseURLEnvVars[providerType]
	if !ok {
		return "", false
	}
	val, ok := os.LookupEnv(name)
	return val, ok && val != ""
}

// TokenSource adapts a secret path (env://..., vault://...) resolved
// through a Manager into the provider.TokenSource contract, with a TTL
// cache in front so hot request paths do not hit Vault.
type TokenSource struct {
	provider Provider
	path     string
}

// NewTokenSource builds a token source reading path through mgr,
// cached for ttl.
func NewTokenSource(mgr *Manager, path string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenSource{
		provider: NewCachedProvider(managerProvider{mgr}, ttl),
		path:     path,
	}
}

// Token implements provider.TokenSource.
func (t *TokenSource) Token() (string, error) {
	return t.provider.Get(context.Background(), t.path)
}

// managerProvider adapts the scheme-routing Manager to the Provider
// interface so CachedProvider can wrap it.
type managerProvider struct {
	mgr *Manager
}

func (m managerProvider) Get(ctx context.Context, path string) (string, error) {
	return m.mgr.Get(ctx, path)
}

func (m managerProvider) Close() error { return m.mgr.Close() }
