// Package httpclient composes per-provider HTTP clients from an ordered
// middleware chain: auth, retry, circuit breaker, and observability. Each provider gets one shared client; retry state and
// breaker state are therefore shared across concurrent requests to that
// provider.
package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/exllm/exllm/internal/resilience"
	"github.com/exllm/exllm/pkg/provider"
)

const (
	// DefaultSyncTimeout bounds non-streaming calls.
	DefaultSyncTimeout = 60 * time.Second
	// DefaultStreamTimeout bounds streaming calls end-to-end.
	DefaultStreamTimeout = 5 * time.Minute
)

// Config describes one provider's client.
type Config struct {
	ProviderName string
	AuthScheme   provider.AuthScheme
	APIKey       string
	TokenSource  provider.TokenSource

	Timeout time.Duration // 0 means DefaultSyncTimeout
	Stream  bool          // stream clients get the longer default timeout

	Retry    RetryConfig
	Breaker  *resilience.CircuitBreaker
	Bulkhead *resilience.Bulkhead

	Logger *slog.Logger

	// Transport overrides the base transport, for tests.
	Transport http.RoundTripper
}

// Build composes the middleware chain into an *http.Client. Order, from
// outermost to the wire: observe -> breaker/bulkhead -> retry -> auth.
// The breaker sits outside retry so an open circuit fails fast without
// consuming retry budget, and one caller-visible call is one breaker
// outcome regardless of how many attempts retry burned.
func Build(cfg Config) *http.Client {
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	rt := AuthMiddleware(cfg.AuthScheme, cfg.TokenSource, cfg.APIKey)(base)
	rt = RetryMiddleware(cfg.Retry)(rt)
	rt = BreakerMiddleware(cfg.Breaker, cfg.Bulkhead)(rt)
	rt = ObserveMiddleware(log, cfg.ProviderName)(rt)

	timeout := cfg.Timeout
	if timeout <= 0 {
		if cfg.Stream {
			timeout = DefaultStreamTimeout
		} else {
			timeout = DefaultSyncTimeout
		}
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}
