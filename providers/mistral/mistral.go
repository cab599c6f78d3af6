// Package mistral provides the Mistral AI provider adapter.
package mistral

import (
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/openailike"
)

const (
	ProviderName   = "mistral"
	DefaultBaseURL = "https://api.mistral.ai/v1"
)

// New creates a Mistral adapter.
func New(cfg provider.Config) *openailike.Provider {
	return openailike.New(openailike.Info{
		Name:           ProviderName,
		DefaultBaseURL: DefaultBaseURL,
	}, cfg)
}

// NewFromConfig is the factory registered for the "mistral" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}
