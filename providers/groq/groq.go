// Package groq provides the Groq provider adapter, an OpenAI-compatible
// endpoint under /openai/v1.
package groq

import (
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/openailike"
)

const (
	ProviderName   = "groq"
	DefaultBaseURL = "https://api.groq.com/openai/v1"
)

// New creates a Groq adapter.
func New(cfg provider.Config) *openailike.Provider {
	return openailike.New(openailike.Info{
		Name:           ProviderName,
		DefaultBaseURL: DefaultBaseURL,
		NoEmbeddings:   true,
	}, cfg)
}

// NewFromConfig is the factory registered for the "groq" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}
