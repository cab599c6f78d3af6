package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exllm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EnvExpansionAndDefaults(t *testing.T) {
	t.Setenv("TEST_EXLLM_KEY", "sk-from-env")

	path := writeConfig(t, `
providers:
  - name: primary
    type: openai
    api_key: ${TEST_EXLLM_KEY}
    default_model: gpt-4o-mini
defaults:
  temperature: 0.2
  max_tokens: 256
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	pcs := cfg.ProviderConfigs()
	require.Len(t, pcs, 1)
	assert.Equal(t, "primary", pcs[0].Name)
	assert.Equal(t, "sk-from-env", pcs[0].APIKey)
	assert.Equal(t, "gpt-4o-mini", pcs[0].DefaultModel)
	assert.Equal(t, 0.2, cfg.Defaults["temperature"])
}

func TestLoad_APIKeyFallsBackToConventionalEnvVar(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-123")

	path := writeConfig(t, `
providers:
  - type: groq
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	pcs := cfg.ProviderConfigs()
	require.Len(t, pcs, 1)
	assert.Equal(t, "groq", pcs[0].Name, "name defaults to type")
	assert.Equal(t, "gsk-123", pcs[0].APIKey)
}

func TestLoad_LocalProviderBaseURLFromEnv(t *testing.T) {
	t.Setenv("OLLAMA_API_BASE", "http://127.0.0.1:11434")

	path := writeConfig(t, `
providers:
  - type: ollama
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	pcs := cfg.ProviderConfigs()
	require.Len(t, pcs, 1)
	assert.Equal(t, "http://127.0.0.1:11434", pcs[0].BaseURL)
	assert.True(t, pcs[0].AllowPrivateBaseURL)
}

func TestLoad_RejectsDuplicateAndUntypedProviders(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  - name: a
    type: openai
  - name: a
    type: groq
`))
	assert.ErrorContains(t, err, "twice")

	_, err = Load(writeConfig(t, `
providers:
  - name: a
`))
	assert.ErrorContains(t, err, "type is required")
}

func TestManager_LoadsInitialConfig(t *testing.T) {
	path := writeConfig(t, "providers:\n  - type: openai\n")
	m, err := NewManager(path, nil)
	require.NoError(t, err)
	require.Len(t, m.Get().Providers, 1)
}
