package secret

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	envprovider "github.com/exllm/exllm/internal/secret/env"
)

func TestManager_SchemeRouting(t *testing.T) {
	t.Setenv("EXLLM_TEST_SECRET", "s3cret")

	mgr := NewManager()
	mgr.Register("env", envprovider.New())

	val, err := mgr.Get(context.Background(), "env://EXLLM_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", val)

	// Paths without a scheme pass through as static values.
	val, err = mgr.Get(context.Background(), "sk-static")
	require.NoError(t, err)
	assert.Equal(t, "sk-static", val)

	_, err = mgr.Get(context.Background(), "vault://not/registered")
	assert.ErrorContains(t, err, "no secret provider registered")
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "mk-1")

	key, ok := APIKeyFromEnv("mistral")
	require.True(t, ok)
	assert.Equal(t, "mk-1", key)

	_, ok = APIKeyFromEnv("not-a-provider")
	assert.False(t, ok)
}

func TestJWTTokenSource_MintsAndReuses(t *testing.T) {
	src, err := NewJWTTokenSource("keyid.signingsecret", time.Minute)
	require.NoError(t, err)

	tok1, err := src.Token()
	require.NoError(t, err)
	tok2, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2, "token is reused until near expiry")

	parsed, err := jwt.Parse(tok1, func(tok *jwt.Token) (any, error) {
		return []byte("signingsecret"), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "keyid", claims["api_key"])
	assert.Equal(t, "SIGN", parsed.Header["sign_type"])
}

func TestJWTTokenSource_RejectsMalformedKey(t *testing.T) {
	_, err := NewJWTTokenSource("no-dot-here", time.Minute)
	assert.Error(t, err)
	_, err = NewJWTTokenSource("trailing.", time.Minute)
	assert.Error(t, err)
}

func TestTokenSource_CachesThroughManager(t *testing.T) {
	t.Setenv("EXLLM_TS_SECRET", "v1")

	mgr := NewManager()
	mgr.Register("env", envprovider.New())
	src := NewTokenSource(mgr, "env://EXLLM_TS_SECRET", time.Minute)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "v1", tok)

	// The cached value survives the env var changing underneath.
	t.Setenv("EXLLM_TS_SECRET", "v2")
	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "v1", tok)
}

func TestOIDCTokenSource_ValidatesConfig(t *testing.T) {
	_, err := NewOIDCTokenSource(OIDCConfig{IssuerURL: "https://issuer"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "client_id"))
}
