// Package perplexity provides the Perplexity provider adapter.
package perplexity

import (
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/openailike"
)

const (
	ProviderName   = "perplexity"
	DefaultBaseURL = "https://api.perplexity.ai"
)

// New creates a Perplexity adapter.
func New(cfg provider.Config) *openailike.Provider {
	return openailike.New(openailike.Info{
		Name:           ProviderName,
		DefaultBaseURL: DefaultBaseURL,
		NoEmbeddings:   true,
	}, cfg)
}

// NewFromConfig is the factory registered for the "perplexity" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}
