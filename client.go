package exllm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/exllm/exllm/internal/observability"
	"github.com/exllm/exllm/internal/plugs"
	"github.com/exllm/exllm/internal/pricing"
	"github.com/exllm/exllm/internal/resilience"
	"github.com/exllm/exllm/internal/streaming"
	pkgcache "github.com/exllm/exllm/pkg/cache"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/registry"
	"github.com/exllm/exllm/providers"
)

// Client is the entry point of the library. It owns the provider
// registry, the compiled default pipelines, and the process-wide shared
// state: resilience manager, recovery registry, response cache, price
// table, and observability sinks.
type Client struct {
	config ClientConfig
	logger *slog.Logger

	registry   *registry.Registry
	resilience *resilience.Manager
	recovery   *streaming.RecoveryRegistry
	calculator *pricing.Calculator
	cache      pkgcache.Cache
	sinks      []observability.Sink

	chatPipeline       *pipeline.Pipeline
	streamPipeline     *pipeline.Pipeline
	embeddingsPipeline *pipeline.Pipeline
	listModelsPipeline *pipeline.Pipeline

	streamMu   sync.Mutex
	streams    map[string]context.CancelFunc
	streamFlow map[string]*streaming.FlowController
}

// New creates a client from the given options.
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		config:     cfg,
		logger:     cfg.Logger,
		registry:   registry.New(),
		resilience: resilience.NewManager(cfg.Resilience, cfg.Logger),
		recovery:   streaming.NewRecoveryRegistry(cfg.RecoveryTTL),
		calculator: pricing.NewCalculator(cfg.Pricing),
		cache:      cfg.Cache,
		sinks:      cfg.Sinks,
		streams:    make(map[string]context.CancelFunc),
		streamFlow: make(map[string]*streaming.FlowController),
	}

	for _, pc := range cfg.Providers {
		if pc.BaseURL != "" {
			if err := provider.ValidateBaseURL(pc.BaseURL, pc.AllowPrivateBaseURL); err != nil {
				return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
			}
		}
		adapter, err := providers.Create(pc)
		if err != nil {
			return nil, fmt.Errorf("create provider %q: %w", pc.Name, err)
		}
		id := pc.Name
		if id == "" {
			id = pc.Type
		}
		c.registry.Register(id, &registry.Entry{
			Adapter:      adapter,
			Config:       pc,
			DefaultModel: pc.DefaultModel,
		})
	}
	for _, pi := range cfg.Instances {
		c.registry.Register(pi.id, &registry.Entry{
			Adapter:      pi.adapter,
			Config:       pi.config,
			DefaultModel: pi.config.DefaultModel,
		})
	}

	if err := c.compilePipelines(); err != nil {
		return nil, err
	}

	c.logger.Info("exllm client initialized",
		"providers", c.registry.List(),
		"cache", c.cache != nil,
		"sinks", len(c.sinks))
	return c, nil
}

// compilePipelines assembles the default per-operation pipelines in the
// order the request-processing design prescribes: validate, config,
// (context), (cache), client, prepare, execute, parse, cost, (store).
func (c *Client) compilePipelines() error {
	validate := plugs.ValidateProvider{Registry: c.registry}
	fetch := plugs.FetchConfig{Registry: c.registry, Defaults: c.config.Defaults}

	chat := []pipeline.Plug{validate, fetch}
	if c.config.ContextManagement != nil {
		chat = append(chat, plugs.ManageContext{})
	}
	chat = append(chat,
		plugs.CacheLookup{Backend: c.cache},
		plugs.BuildHTTPClient{Registry: c.registry, Resilience: c.resilience},
		plugs.PrepareRequest{Registry: c.registry},
		plugs.ExecuteRequest{Registry: c.registry},
		plugs.ParseResponse{Registry: c.registry},
		plugs.TrackCost{Calculator: c.calculator},
		plugs.CacheStore{Backend: c.cache},
	)

	stream := []pipeline.Plug{validate, fetch}
	if c.config.ContextManagement != nil {
		stream = append(stream, plugs.ManageContext{})
	}
	stream = append(stream,
		plugs.BuildHTTPClient{Registry: c.registry, Resilience: c.resilience, Stream: true},
		plugs.StreamCoordinatorPlug{Registry: c.registry},
		plugs.PrepareRequest{Registry: c.registry, Stream: true},
		plugs.ExecuteStreamRequest{
			Registry: c.registry,
			Recovery: c.recovery,
			Sink:     clientStreamSink{c},
			Logger:   c.logger,
		},
	)

	embeddings := []pipeline.Plug{validate, fetch,
		plugs.BuildHTTPClient{Registry: c.registry, Resilience: c.resilience},
		plugs.ExecuteEmbeddings{Registry: c.registry},
	}

	listModels := []pipeline.Plug{validate, fetch,
		plugs.BuildHTTPClient{Registry: c.registry, Resilience: c.resilience},
		plugs.ExecuteListModels{Registry: c.registry},
	}

	var opts map[string]map[string]any
	if c.config.ContextManagement != nil {
		opts = map[string]map[string]any{
			plugs.ManageContext{}.Name(): c.config.ContextManagement,
		}
	}

	var err error
	if c.chatPipeline, err = pipeline.Compile("chat", chat, opts, c.logger); err != nil {
		return err
	}
	if c.streamPipeline, err = pipeline.Compile("stream", stream, opts, c.logger); err != nil {
		return err
	}
	if c.embeddingsPipeline, err = pipeline.Compile("embeddings", embeddings, nil, c.logger); err != nil {
		return err
	}
	if c.listModelsPipeline, err = pipeline.Compile("list_models", listModels, nil, c.logger); err != nil {
		return err
	}
	return nil
}

// clientStreamSink adapts the client to plugs.StreamSink while also
// tracking per-stream flow controllers for StreamMetrics.
type clientStreamSink struct{ c *Client }

func (s clientStreamSink) StreamStarted(streamID string, cancel context.CancelFunc) {
	s.c.StreamStarted(streamID, cancel)
}

func (s clientStreamSink) StreamFinished(streamID string, err error) {
	s.c.StreamFinished(streamID, err)
	// Flow metrics are readable only while the stream lives.
	s.c.streamMu.Lock()
	delete(s.c.streamFlow, streamID)
	s.c.streamMu.Unlock()
}

// Close releases shared resources: the recovery sweeper, the cache, and
// any still-running streams (cancelled).
func (c *Client) Close() error {
	c.streamMu.Lock()
	for id, cancel := range c.streams {
		cancel()
		delete(c.streams, id)
	}
	c.streamMu.Unlock()

	c.recovery.Close()
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			return err
		}
	}
	for _, sink := range c.sinks {
		sink.Close()
	}
	c.logger.Info("exllm client closed")
	return nil
}

// RecoveryTTL is how long interrupted-stream records are retained.
const RecoveryTTL = 30 * time.Minute
