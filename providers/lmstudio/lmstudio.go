// Package lmstudio provides the LM Studio local-server adapter. LM
// Studio exposes an unauthenticated OpenAI-compatible endpoint.
package lmstudio

import (
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/openailike"
)

const (
	ProviderName   = "lmstudio"
	DefaultBaseURL = "http://localhost:1234/v1"
)

// New creates an LM Studio adapter.
func New(cfg provider.Config) *openailike.Provider {
	return openailike.New(openailike.Info{
		Name:           ProviderName,
		DefaultBaseURL: DefaultBaseURL,
		Auth:           provider.AuthNone,
	}, cfg)
}

// NewFromConfig is the factory registered for the "lmstudio" type.
func NewFromConfig(cfg provider.Config) (provider.Provider, error) {
	return New(cfg), nil
}
