// Package openrouter provides the OpenRouter provider adapter.
package openrouter

import (
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/openailike"
)

const (
	ProviderName   = "openrouter"
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

// New creates an OpenRouter adapter. The attribution headers OpenRouter
// uses for rankings can be overridden via cfg.Headers.
func New(cfg provider.Config) *openailike.Provider {
	return openailike.New(openailike.Info{
		Name:           ProviderName,
		DefaultBaseURL: DefaultBaseURL,
		NoEmbeddings:   true,
		ExtraHeaders: map[string]string{
			"HTTP-Referer": "https://github.com/exllm/exllm",
			"X-Title":      "exllm",
		},
	}, cfg)
}

// NewFromConfig is the factory registered for the "openrouter" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}
