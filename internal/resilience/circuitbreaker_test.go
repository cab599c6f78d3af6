package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCircuitBreaker_OpensAtFailureThreshold checks P7's closed->open
// edge: exactly failure_threshold consecutive failures open the
// circuit, one fewer does not.
func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("p", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		RecoveryTime:     time.Hour,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	cb := NewCircuitBreaker("p", CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTime:     time.Hour,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(),
		"non-consecutive failures must not open the circuit")
}

// TestCircuitBreaker_HalfOpenSingleProbe admits exactly one probe after
// the recovery time, and a probe success sequence closes the circuit
// (the half_open->closed edge of P7).
func TestCircuitBreaker_HalfOpenSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker("p", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		RecoveryTime:     20 * time.Millisecond,
	})

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.Allow(), "first call after recovery time is the probe")
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe runs in half-open")

	cb.RecordSuccess()
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("p", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTime:     10 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_TelemetryHookFires(t *testing.T) {
	cb := NewCircuitBreaker("p", CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTime:     time.Hour,
	})

	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{})
	cb.OnStateChange(func(name string, from, to CircuitState) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
		close(done)
	})

	cb.RecordFailure()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state-change hook never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open"}, transitions)
}
