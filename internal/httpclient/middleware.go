package httpclient

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/exllm/exllm/internal/resilience"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/provider"
)

// Middleware wraps a RoundTripper with additional behavior. The builder
// composes an ordered list of these once per provider; the resulting
// client is shared by all concurrent requests to that provider.
type Middleware func(http.RoundTripper) http.RoundTripper

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// AuthMiddleware attaches credentials per the provider's auth scheme.
// SigV4 and custom schemes are handled by the adapter's BuildRequest, so
// they pass through untouched here.
func AuthMiddleware(scheme provider.AuthScheme, source provider.TokenSource, apiKey string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			token, err := provider.GetToken(source, apiKey)
			if err != nil {
				return nil, fmt.Errorf("resolve credentials: %w", err)
			}
			switch scheme {
			case provider.AuthBearer:
				if req.Header.Get("Authorization") == "" {
					req.Header.Set("Authorization", "Bearer "+token)
				}
			case provider.AuthAPIKeyHeader:
				if req.Header.Get("x-api-key") == "" {
					req.Header.Set("x-api-key", token)
				}
			case provider.AuthQueryParam:
				q := req.URL.Query()
				if q.Get("key") == "" {
					q.Set("key", token)
					req.URL.RawQuery = q.Encode()
				}
			}
			return next.RoundTrip(req)
		})
	}
}

// RetryConfig controls the retry middleware.
type RetryConfig struct {
	Enabled      bool
	Attempts     int           // total tries = Attempts (min 1)
	InitialDelay time.Duration // first backoff
	MaxDelay     time.Duration
	Jitter       float64 // 0..1 multiplicative jitter band
}

// DefaultRetryConfig matches the donor's client defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:      true,
		Attempts:     3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Jitter:       0.2,
	}
}

// retryableStatus reports whether an HTTP status warrants a retry.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryMiddleware retries transport errors and retryable statuses with
// exponential backoff and jitter, honoring Retry-After when present.
// The request body must be rewindable (GetBody set), which holds for all
// adapter-built requests since they use bytes.Reader bodies.
func RetryMiddleware(cfg RetryConfig) Middleware {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	randFloat := func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Float64()
	}

	backoff := func(attempt int) time.Duration {
		d := cfg.InitialDelay
		for i := 1; i < attempt; i++ {
			next := d * 2
			if next < d {
				break
			}
			d = next
		}
		if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
			d = cfg.MaxDelay
		}
		if cfg.Jitter > 0 && d > 0 {
			j := cfg.Jitter
			if j > 1 {
				j = 1
			}
			factor := (1 - j) + randFloat()*2*j
			d = time.Duration(float64(d) * factor)
			if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
		}
		return d
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if !cfg.Enabled {
				return next.RoundTrip(req)
			}
			attempts := cfg.Attempts
			if attempts < 1 {
				attempts = 1
			}
			var resp *http.Response
			var err error
			for attempt := 1; attempt <= attempts; attempt++ {
				if attempt > 1 {
					wait := backoff(attempt - 1)
					if resp != nil {
						if ra := retryAfter(resp); ra > wait {
							wait = ra
						}
						drainAndClose(resp)
					}
					select {
					case <-req.Context().Done():
						return nil, req.Context().Err()
					case <-time.After(wait):
					}
					if req.GetBody != nil {
						body, berr := req.GetBody()
						if berr != nil {
							return nil, fmt.Errorf("rewind request body: %w", berr)
						}
						req.Body = body
					}
				}
				resp, err = next.RoundTrip(req)
				if err != nil {
					if req.Context().Err() != nil {
						return nil, err
					}
					continue
				}
				if !retryableStatus(resp.StatusCode) {
					return resp, nil
				}
			}
			return resp, err
		})
	}
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		resp.Body.Close()
	}
}

// BreakerMiddleware guards the transport with a circuit breaker and an
// optional bulkhead. Open circuits fail fast with KindCircuitOpen; a full
// bulkhead queue fails with KindBulkheadFull. Transport errors and any
// status IsCooldownRequired classifies as cooldown-worthy (5xx plus
// 401/404/408/429) count as breaker failures; other statuses are client
// mistakes and count as successes.
func BreakerMiddleware(cb *resilience.CircuitBreaker, bulkhead *resilience.Bulkhead) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if cb != nil && !cb.Allow() {
				return nil, &errors.PipelineError{
					Kind:    errors.KindCircuitOpen,
					Message: "circuit breaker open for " + req.URL.Host,
				}
			}
			if bulkhead != nil {
				if err := bulkhead.Acquire(req.Context()); err != nil {
					return nil, err
				}
				defer bulkhead.Release()
			}
			resp, err := next.RoundTrip(req)
			if cb != nil {
				if err != nil || errors.IsCooldownRequired(resp.StatusCode) {
					cb.RecordFailure()
				} else {
					cb.RecordSuccess()
				}
			}
			return resp, err
		})
	}
}

// ObserveMiddleware logs each round trip at debug level with duration
// and status, in the donor's structured-field style.
func ObserveMiddleware(log *slog.Logger, providerName string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			attrs := []any{
				"provider", providerName,
				"method", req.Method,
				"host", req.URL.Host,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				log.Debug("upstream request failed", append(attrs, "error", err)...)
			} else {
				log.Debug("upstream request", append(attrs, "status", resp.StatusCode)...)
			}
			return resp, err
		})
	}
}
