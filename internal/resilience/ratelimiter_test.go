package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(10, 3)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "burst of 3 exhausted")
}

func TestRateLimiter_Accessors(t *testing.T) {
	rl := NewRateLimiter(5, 2)
	assert.Equal(t, 5.0, rl.Rate())
	assert.Equal(t, 2, rl.Burst())
	assert.True(t, rl.AllowN(2))
	assert.False(t, rl.AllowN(1))
}

func TestManager_SharedInstancesPerProvider(t *testing.T) {
	m := NewManager(ManagerConfig{
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Bulkhead:       BulkheadConfig{MaxConcurrent: 2, MaxQueued: 2},
		RatePerSec:     10,
		Burst:          5,
	}, nil)

	assert.Same(t, m.Breaker("openai"), m.Breaker("openai"))
	assert.NotSame(t, m.Breaker("openai"), m.Breaker("anthropic"))
	assert.Same(t, m.Bulkhead("openai"), m.Bulkhead("openai"))
	assert.Same(t, m.Limiter("openai"), m.Limiter("openai"))
}

func TestManager_LimiterDisabledWhenRateZero(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil)
	assert.Nil(t, m.Limiter("openai"))
}
