// Package providers is the factory registry for the built-in provider
// adapters. Provider configs select an adapter by Type; user adapters
// register their own factories alongside the built-ins.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/providers/anthropic"
	"github.com/exllm/exllm/providers/bedrock"
	"github.com/exllm/exllm/providers/gemini"
	"github.com/exllm/exllm/providers/groq"
	"github.com/exllm/exllm/providers/lmstudio"
	"github.com/exllm/exllm/providers/mistral"
	"github.com/exllm/exllm/providers/ollama"
	"github.com/exllm/exllm/providers/openai"
	"github.com/exllm/exllm/providers/openrouter"
	"github.com/exllm/exllm/providers/perplexity"
	"github.com/exllm/exllm/providers/vertexai"
	"github.com/exllm/exllm/providers/xai"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]provider.Factory{
		"openai":     openai.NewFromConfig,
		"anthropic":  anthropic.NewFromConfig,
		"gemini":     gemini.NewFromConfig,
		"groq":       groq.NewFromConfig,
		"mistral":    mistral.NewFromConfig,
		"perplexity": perplexity.NewFromConfig,
		"openrouter": openrouter.NewFromConfig,
		"xai":        xai.NewFromConfig,
		"bedrock":    bedrock.NewFromConfig,
		"vertexai":   vertexai.NewFromConfig,
		"ollama":     ollama.NewFromConfig,
		"lmstudio":   lmstudio.NewFromConfig,
	}
)

// Register adds or replaces the factory for a provider type.
func Register(providerType string, factory provider.Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[providerType] = factory
}

// Get returns the factory for the given provider type.
func Get(providerType string) (provider.Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[providerType]
	return f, ok
}

// Create builds a provider instance from configuration.
func Create(cfg provider.Config) (provider.Provider, error) {
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %s (available: %v)", cfg.Type, List())
	}
	return factory(cfg)
}

// List returns the registered provider type names, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
