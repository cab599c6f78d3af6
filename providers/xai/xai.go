// Package xai provides the xAI (Grok) provider adapter.
package xai

import (
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/openailike"
)

const (
	ProviderName   = "xai"
	DefaultBaseURL = "https://api.x.ai/v1"
)

// New creates an xAI adapter.
func New(cfg provider.Config) *openailike.Provider {
	return openailike.New(openailike.Info{
		Name:           ProviderName,
		DefaultBaseURL: DefaultBaseURL,
		NoEmbeddings:   true,
	}, cfg)
}

// NewFromConfig is the factory registered for the "xai" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}
