package httpclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exllm/exllm/internal/resilience"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/provider"
)

func TestAuthMiddleware_Schemes(t *testing.T) {
	cases := []struct {
		scheme provider.AuthScheme
		check  func(t *testing.T, r *http.Request)
	}{
		{provider.AuthBearer, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		}},
		{provider.AuthAPIKeyHeader, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		}},
		{provider.AuthQueryParam, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "sk-test", r.URL.Query().Get("key"))
		}},
		{provider.AuthNone, func(t *testing.T, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			assert.Empty(t, r.Header.Get("x-api-key"))
		}},
	}

	for _, tc := range cases {
		t.Run(string(tc.scheme), func(t *testing.T) {
			var seen *http.Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = r.Clone(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()

			client := Build(Config{
				ProviderName: "test",
				AuthScheme:   tc.scheme,
				APIKey:       "sk-test",
				Retry:        RetryConfig{Enabled: false},
			})
			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			resp.Body.Close()
			tc.check(t, seen)
		})
	}
}

func TestRetryMiddleware_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := Build(Config{
		ProviderName: "test",
		AuthScheme:   provider.AuthNone,
		Retry: RetryConfig{
			Enabled:      true,
			Attempts:     3,
			InitialDelay: time.Millisecond,
		},
	})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryMiddleware_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := Build(Config{
		ProviderName: "test",
		AuthScheme:   provider.AuthNone,
		Retry:        RetryConfig{Enabled: true, Attempts: 3, InitialDelay: time.Millisecond},
	})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryMiddleware_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var gap atomic.Int64
	var last atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UnixNano()
		if prev := last.Swap(now); prev != 0 {
			gap.Store(now - prev)
		}
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := Build(Config{
		ProviderName: "test",
		AuthScheme:   provider.AuthNone,
		Retry:        RetryConfig{Enabled: true, Attempts: 2, InitialDelay: time.Millisecond},
	})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Duration(gap.Load()), 900*time.Millisecond,
		"Retry-After must stretch the backoff")
}

// TestBreakerMiddleware_OpenFailsFastWithoutHTTP exercises §8 scenario 6:
// three 500s open the circuit; the fourth call fails locally with
// circuit_open, quickly, without reaching the server.
func TestBreakerMiddleware_OpenFailsFastWithoutHTTP(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTime:     50 * time.Millisecond,
	})
	client := Build(Config{
		ProviderName: "test",
		AuthScheme:   provider.AuthNone,
		Retry:        RetryConfig{Enabled: false},
		Breaker:      cb,
	})

	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	require.Equal(t, int32(3), calls.Load())

	start := time.Now()
	_, err := client.Get(srv.URL)
	elapsed := time.Since(start)
	require.Error(t, err)
	var perr *errors.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.KindCircuitOpen, perr.Kind)
	assert.Less(t, elapsed, 50*time.Millisecond, "open circuit must fail fast")
	assert.Equal(t, int32(3), calls.Load(), "no HTTP call while open")

	// After the recovery window the next call probes the server again.
	time.Sleep(60 * time.Millisecond)
	resp, err := client.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
	}
	assert.Equal(t, int32(4), calls.Load(), "half-open probe reaches the server")
}

// TestBreakerMiddleware_CooldownStatusesCountAsFailures checks the
// failure classification: rate-limit responses trip the breaker just
// like 5xx, while plain 400s do not.
func TestBreakerMiddleware_CooldownStatusesCountAsFailures(t *testing.T) {
	status := atomic.Int32{}
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTime:     time.Hour,
	})
	client := Build(Config{
		ProviderName: "test",
		AuthScheme:   provider.AuthNone,
		Retry:        RetryConfig{Enabled: false},
		Breaker:      cb,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, resilience.StateOpen, cb.State(), "two 429s must open the breaker")

	cb.Reset()
	status.Store(http.StatusBadRequest)
	for i := 0; i < 5; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, resilience.StateClosed, cb.State(), "400s are caller mistakes, not breaker failures")
}

func TestBreakerMiddleware_BulkheadFull(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bulkhead := resilience.NewBulkhead(resilience.BulkheadConfig{
		MaxConcurrent: 1,
		MaxQueued:     0,
	})
	client := Build(Config{
		ProviderName: "test",
		AuthScheme:   provider.AuthNone,
		Retry:        RetryConfig{Enabled: false},
		Bulkhead:     bulkhead,
	})

	firstDone := make(chan struct{})
	go func() {
		resp, err := client.Get(srv.URL)
		if err == nil {
			resp.Body.Close()
		}
		close(firstDone)
	}()

	assert.Eventually(t, func() bool { return bulkhead.InFlight() == 1 },
		time.Second, time.Millisecond)

	_, err := client.Get(srv.URL)
	var perr *errors.PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.KindBulkheadFull, perr.Kind)

	close(release)
	<-firstDone
}
