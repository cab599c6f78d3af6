package exllm

import (
	"log/slog"
	"time"

	"github.com/exllm/exllm/internal/config"
	"github.com/exllm/exllm/internal/mcp"
	"github.com/exllm/exllm/internal/observability"
	"github.com/exllm/exllm/internal/pricing"
	"github.com/exllm/exllm/internal/resilience"
	pkgcache "github.com/exllm/exllm/pkg/cache"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/types"
)

// providerInstance pairs a pre-built adapter with its config for
// registration at New time.
type providerInstance struct {
	id      string
	adapter provider.Provider
	config  provider.Config
}

// ClientConfig holds all configuration for the ExLLM client.
type ClientConfig struct {
	Providers []ProviderConfig
	Instances []providerInstance

	// Defaults is the app-level option layer FetchConfig merges below
	// per-call options (model, temperature, cache, retry, ...).
	Defaults Options

	// ContextManagement enables the ManageContext plug with the given
	// plug options (strategy, max_tokens, response_reserve).
	ContextManagement Options

	Cache       pkgcache.Cache
	Pricing     []pricing.ModelPricing
	Resilience  resilience.ManagerConfig
	RecoveryTTL time.Duration
	Sinks       []observability.Sink
	Logger      *slog.Logger
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Defaults:    Options{},
		Resilience:  resilience.DefaultManagerConfig(),
		RecoveryTTL: RecoveryTTL,
		Logger:      slog.Default(),
	}
}

// Option configures the client.
type Option func(*ClientConfig)

// WithProvider registers a provider built from the factory registry
// (cfg.Type selects the adapter; cfg.Name is the registry id).
func WithProvider(cfg ProviderConfig) Option {
	return func(c *ClientConfig) {
		c.Providers = append(c.Providers, cfg)
	}
}

// WithProviderInstance registers a pre-built adapter under id, for
// custom providers and tests.
func WithProviderInstance(id string, adapter Provider, cfg ProviderConfig) Option {
	return func(c *ClientConfig) {
		c.Instances = append(c.Instances, providerInstance{id: id, adapter: adapter, config: cfg})
	}
}

// WithDefaults sets app-level default options merged below each call's
// options.
func WithDefaults(defaults Options) Option {
	return func(c *ClientConfig) {
		for k, v := range defaults {
			c.Defaults[k] = v
		}
	}
}

// WithConfigFile loads providers and defaults from a YAML config file
// (environment variables expand inside it). The file is read once, when
// the option is applied; it is not watched, and later edits to it do
// not reach the client.
func WithConfigFile(path string) Option {
	return func(c *ClientConfig) {
		fileCfg, err := config.Load(path)
		if err != nil {
			// Options cannot fail; a broken file surfaces as a missing
			// provider at New time with a log line here.
			slog.Default().Warn("config file load failed", "path", path, "error", err)
			return
		}
		for _, pc := range fileCfg.ProviderConfigs() {
			c.Providers = append(c.Providers, pc)
		}
		for k, v := range fileCfg.Defaults {
			c.Defaults[k] = v
		}
	}
}

// WithContextManagement enables context trimming with the given
// strategy ("truncate", "sliding_window", "smart"), model budget, and
// response reserve.
func WithContextManagement(strategy string, maxTokens, responseReserve int) Option {
	return func(c *ClientConfig) {
		c.ContextManagement = Options{
			"strategy":         strategy,
			"max_tokens":       maxTokens,
			"response_reserve": responseReserve,
		}
	}
}

// WithCache installs a response cache backend. Per-call caching still
// requires the cache option ({"cache": {"enabled": true}}).
func WithCache(backend pkgcache.Cache) Option {
	return func(c *ClientConfig) {
		c.Cache = backend
	}
}

// WithPricing overrides the model price table used by TrackCost.
func WithPricing(table []pricing.ModelPricing) Option {
	return func(c *ClientConfig) {
		c.Pricing = table
	}
}

// WithResilience overrides circuit-breaker, bulkhead, and rate-limit
// defaults shared by all providers.
func WithResilience(cfg resilience.ManagerConfig) Option {
	return func(c *ClientConfig) {
		c.Resilience = cfg
	}
}

// WithRecoveryTTL overrides how long interrupted-stream records are
// retained before the sweeper reclaims them.
func WithRecoveryTTL(ttl time.Duration) Option {
	return func(c *ClientConfig) {
		c.RecoveryTTL = ttl
	}
}

// WithObservability attaches post-pipeline sinks (OTel, S3 archive,
// Postgres cost audit, Prometheus) fed after each request finishes.
func WithObservability(sinks ...observability.Sink) Option {
	return func(c *ClientConfig) {
		c.Sinks = append(c.Sinks, sinks...)
	}
}

// WithMCPTools merges the tool definitions exported by connected MCP
// servers into the default tools option, so every chat call can invoke
// them unless the caller overrides tools per request.
func WithMCPTools(bridge *mcp.Bridge) Option {
	return func(c *ClientConfig) {
		if bridge == nil {
			return
		}
		tools := bridge.Tools()
		if existing, ok := c.Defaults["tools"].([]types.Tool); ok {
			tools = append(existing, tools...)
		}
		c.Defaults["tools"] = tools
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) {
		if logger != nil {
			c.Logger = logger
		}
	}
}
