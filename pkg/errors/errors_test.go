package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIsCooldownRequired pins the breaker failure classification: every
// 5xx plus 401/404/408/429 counts, other 4xx are caller mistakes.
func TestIsCooldownRequired(t *testing.T) {
	cooldown := []int{
		http.StatusUnauthorized,
		http.StatusNotFound,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	for _, code := range cooldown {
		assert.True(t, IsCooldownRequired(code), "status %d must trigger cooldown", code)
	}

	noCooldown := []int{
		http.StatusOK,
		http.StatusBadRequest,
		http.StatusForbidden,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
	}
	for _, code := range noCooldown {
		assert.False(t, IsCooldownRequired(code), "status %d must not trigger cooldown", code)
	}
}

func TestLLMError_MessageCarriesContext(t *testing.T) {
	err := NewRateLimitError("openai", "gpt-4", "rate limit exceeded")
	msg := err.Error()
	for _, want := range []string{"rate_limit_error", "openai", "gpt-4", "429"} {
		assert.Contains(t, msg, want)
	}
}

func TestLLMError_HTTPStatusCodes(t *testing.T) {
	cases := []struct {
		err  *LLMError
		code int
	}{
		{NewAuthenticationError("p", "m", "msg"), http.StatusUnauthorized},
		{NewRateLimitError("p", "m", "msg"), http.StatusTooManyRequests},
		{NewInvalidRequestError("p", "m", "msg"), http.StatusBadRequest},
		{NewNotFoundError("p", "m", "msg"), http.StatusNotFound},
		{NewTimeoutError("p", "m", "msg"), http.StatusRequestTimeout},
		{NewServiceUnavailableError("p", "m", "msg"), http.StatusServiceUnavailable},
		{NewInternalError("p", "m", "msg"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.HTTPStatusCode(), tc.err.Type)
	}

	zero := &LLMError{Message: "no status"}
	assert.Equal(t, http.StatusInternalServerError, zero.HTTPStatusCode())
}

func TestLLMError_RetryableFlag(t *testing.T) {
	retryable := []*LLMError{
		NewRateLimitError("p", "m", "msg"),
		NewTimeoutError("p", "m", "msg"),
		NewServiceUnavailableError("p", "m", "msg"),
	}
	for _, err := range retryable {
		assert.True(t, err.Retryable, "%s should be retryable", err.Type)
	}

	terminal := []*LLMError{
		NewAuthenticationError("p", "m", "msg"),
		NewInvalidRequestError("p", "m", "msg"),
		NewNotFoundError("p", "m", "msg"),
		NewInternalError("p", "m", "msg"),
	}
	for _, err := range terminal {
		assert.False(t, err.Retryable, "%s should not be retryable", err.Type)
	}
}
