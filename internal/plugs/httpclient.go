package plugs

import (
	"time"

	"github.com/exllm/exllm/internal/httpclient"
	"github.com/exllm/exllm/internal/resilience"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/registry"
)

// BuildHTTPClient attaches the provider's composed HTTP client to the
// request: auth, retry, timeout, circuit breaker, and logging middleware
// per the provider's config and the request's merged options. The
// breaker and bulkhead come from the shared resilience manager, so all
// concurrent requests to one provider share the same instances.
type BuildHTTPClient struct {
	Registry   *registry.Registry
	Resilience *resilience.Manager
	Stream     bool
}

func (b BuildHTTPClient) Name() string { return "BuildHTTPClient" }

func (b BuildHTTPClient) Init(opts map[string]any) (any, error) { return nil, nil }

func (b BuildHTTPClient) Call(req *pipeline.Request, _ any) *pipeline.Request {
	entry, ok := b.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, b.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}

	cfg := httpclient.Config{
		ProviderName: req.Provider,
		AuthScheme:   entry.Adapter.Auth(),
		TokenSource:  entry.Config.TokenSource,
		Stream:       b.Stream,
		Retry:        retryOptions(req),
		Breaker:      b.Resilience.Breaker(req.Provider),
		Bulkhead:     b.Resilience.Bulkhead(req.Provider),
	}
	if key, ok := req.Config[OptAPIKey].(string); ok {
		cfg.APIKey = key
	}
	if ms, ok := intOption(req.Config[OptTimeoutMs]); ok && ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}

	n := req.Clone()
	n.HTTPClient = httpclient.Build(cfg)
	return n
}

func retryOptions(req *pipeline.Request) httpclient.RetryConfig {
	cfg := httpclient.DefaultRetryConfig()
	rc, ok := req.Config[OptRetry].(map[string]any)
	if !ok {
		return cfg
	}
	if enabled, ok := rc["enabled"].(bool); ok {
		cfg.Enabled = enabled
	}
	if v, ok := intOption(rc["attempts"]); ok && v > 0 {
		cfg.Attempts = v
	}
	if v, ok := intOption(rc["initial_delay_ms"]); ok && v > 0 {
		cfg.InitialDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := intOption(rc["max_delay_ms"]); ok && v > 0 {
		cfg.MaxDelay = time.Duration(v) * time.Millisecond
	}
	return cfg
}
