package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_StableAcrossOptionOrder(t *testing.T) {
	messages := []map[string]any{{"role": "user", "content": "hi"}}

	a, err := Fingerprint("openai", messages, map[string]any{
		"model": "gpt-4o", "temperature": 0.5, "max_tokens": 100,
	})
	require.NoError(t, err)
	b, err := Fingerprint("openai", messages, map[string]any{
		"max_tokens": 100, "temperature": 0.5, "model": "gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, a, b, "map insertion order must not change the key")
	assert.Len(t, a, 64)
}

func TestFingerprint_VolatileOptionsExcluded(t *testing.T) {
	messages := []map[string]any{{"role": "user", "content": "hi"}}
	base, err := Fingerprint("openai", messages, map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)

	noisy, err := Fingerprint("openai", messages, map[string]any{
		"model":   "gpt-4o",
		"stream":  true,
		"user":    "u-123",
		"api_key": "sk-other",
		"retry":   map[string]any{"attempts": 9},
	})
	require.NoError(t, err)
	assert.Equal(t, base, noisy, "volatile fields must not affect the key")
}

func TestFingerprint_SemanticChangesChangeKey(t *testing.T) {
	messages := []map[string]any{{"role": "user", "content": "hi"}}
	base, err := Fingerprint("openai", messages, map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)

	otherModel, err := Fingerprint("openai", messages, map[string]any{"model": "gpt-4"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherModel)

	otherProvider, err := Fingerprint("groq", messages, map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherProvider)

	otherMessages, err := Fingerprint("openai",
		[]map[string]any{{"role": "user", "content": "bye"}},
		map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherMessages)
}
