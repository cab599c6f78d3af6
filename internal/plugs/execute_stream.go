package plugs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/exllm/exllm/internal/streaming"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/registry"
	"github.com/exllm/exllm/pkg/types"
)

// StreamSink receives lifecycle callbacks for active streams so the
// client can track and cancel them.
type StreamSink interface {
	// StreamStarted registers a running stream's cancel function.
	StreamStarted(streamID string, cancel context.CancelFunc)
	// StreamFinished removes a stream once its coordinator returns.
	StreamFinished(streamID string, err error)
}

// PrivStreamCallback is where the client stashes the caller's chunk
// callback before running the stream pipeline.
const PrivStreamCallback = "stream_callback"

// StreamCoordinatorPlug initialises the request's stream context: a
// unique stream id, the start time, the user callback (read from
// Private[PrivStreamCallback]), and the provider's chunk parser. It must
// run before ExecuteStreamRequest.
type StreamCoordinatorPlug struct {
	Registry *registry.Registry
}

func (StreamCoordinatorPlug) Name() string { return "StreamCoordinator" }

func (StreamCoordinatorPlug) Init(opts map[string]any) (any, error) { return nil, nil }

func (s StreamCoordinatorPlug) Call(req *pipeline.Request, _ any) *pipeline.Request {
	entry, ok := s.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, s.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}

	streamID := uuid.NewString()
	cb, _ := req.Private[PrivStreamCallback].(func(streaming.Chunk))
	n := req.Clone()
	n.StreamContext = &pipeline.StreamContext{
		StreamID:  streamID,
		StartTime: time.Now(),
		Provider:  req.Provider,
		Callback: func(chunk any) {
			if c, ok := chunk.(streaming.Chunk); ok && cb != nil {
				cb(c)
			}
		},
		ParseChunkFn: func(data []byte) (any, error) {
			return entry.Adapter.ParseStreamChunk(data)
		},
	}
	if rc, ok := req.Config[OptStreamRecovery].(map[string]any); ok {
		if enabled, _ := rc["enabled"].(bool); enabled {
			n.StreamContext.RecoveryID = streamID
		}
	}
	return n
}

// ExecuteStreamRequest posts the prepared request with an SSE accept
// header, verifies the response status, and hands the body to a stream
// coordinator running on its own goroutine. The pipeline returns with
// state=streaming while chunks flow to the callback.
type ExecuteStreamRequest struct {
	Registry *registry.Registry
	Recovery *streaming.RecoveryRegistry
	Sink     StreamSink
	Logger   *slog.Logger
}

func (ExecuteStreamRequest) Name() string { return "ExecuteStreamRequest" }

func (ExecuteStreamRequest) Init(opts map[string]any) (any, error) { return nil, nil }

func (e ExecuteStreamRequest) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if req.HTTPClient == nil || req.ProviderRequest == nil || req.StreamContext == nil {
		return pipeline.HaltWithError(req, e.Name(), errors.KindException,
			"pipeline misassembled: stream context or http client missing", nil)
	}
	entry, ok := e.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, e.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}

	// Derive from the prepared request's context so adapter-attached
	// values (Bedrock's response transformer) survive the rewrap.
	streamCtx, cancel := context.WithCancel(req.ProviderRequest.Context())

	httpReq := req.ProviderRequest.WithContext(streamCtx)
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := req.HTTPClient.Do(httpReq)
	if err != nil {
		cancel()
		return pipeline.HaltWithError(req, e.Name(), transportErrorKind(req.Context(), err), err.Error(), nil)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		cancel()
		return ExecuteRequest{Registry: e.Registry}.haltForStatus(req, resp, body)
	}

	body := resp.Body
	// Adapters whose upstream does not speak SSE (Bedrock's EventStream)
	// attach a transformer to the request context.
	if transformer, ok := httpReq.Context().Value(provider.ResponseTransformerKey).(provider.ResponseTransformer); ok {
		body = transformer(body)
	}

	coord := streaming.NewCoordinator(e.coordinatorConfig(req, entry))
	if e.Sink != nil {
		e.Sink.StreamStarted(req.StreamContext.StreamID, cancel)
	}

	go func() {
		runErr := coord.Run(streamCtx, body)
		cancel()
		if e.Sink != nil {
			e.Sink.StreamFinished(req.StreamContext.StreamID, runErr)
		}
	}()

	n := req.Clone()
	n.Response = resp
	n.State = pipeline.StateStreaming
	n.StreamContext.FlowController = coord.FlowController()
	return n
}

func (e ExecuteStreamRequest) coordinatorConfig(req *pipeline.Request, entry *registry.Entry) streaming.CoordinatorConfig {
	sc := req.StreamContext
	// Stateful chunk parsers (Anthropic's event accumulation) need a
	// fresh instance per stream; adapters opt in via NewStreamParser.
	var parser streaming.ChunkParser = adapterParser{entry}
	if spp, ok := entry.Adapter.(interface {
		NewStreamParser() streaming.ChunkParser
	}); ok {
		parser = spp.NewStreamParser()
	}
	cfg := streaming.CoordinatorConfig{
		StreamID: sc.StreamID,
		Provider: req.Provider,
		Parser:   parser,
		Flow:     flowOptions(req),
		NDJSON:   req.Provider == "ollama",
		Logger:   e.Logger,
		Callback: func(chunk streaming.Chunk) {
			if sc.Callback != nil {
				sc.Callback(chunk)
			}
		},
	}

	if sc.RecoveryID != "" && e.Recovery != nil {
		rc, _ := req.Config[OptStreamRecovery].(map[string]any)
		strategy := streaming.ResumeExact
		if s, ok := rc["strategy"].(string); ok && s != "" {
			strategy = streaming.ResumeStrategy(s)
		}
		maxAttempts := streaming.DefaultMaxAttempts
		if v, ok := intOption(rc["max_attempts"]); ok && v > 0 {
			maxAttempts = v
		}
		cfg.Recovery = e.Recovery
		cfg.RecoveryID = sc.RecoveryID
		cfg.Strategy = strategy
		cfg.MaxAttempts = maxAttempts
		cfg.Resume = e.resumeFunc(req, entry)
	}
	return cfg
}

// resumeFunc builds the provider-specific continuation request issuer.
func (e ExecuteStreamRequest) resumeFunc(req *pipeline.Request, entry *registry.Entry) streaming.ResumeFunc {
	return func(ctx context.Context, partial string) (io.ReadCloser, error) {
		httpReq, err := e.continuationRequest(ctx, req, entry, partial)
		if err != nil {
			return nil, err
		}
		resp, err := req.HTTPClient.Do(httpReq)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			resp.Body.Close()
			if mapped := entry.Adapter.MapError(resp.StatusCode, body); mapped != nil {
				return nil, mapped
			}
			return nil, &errors.PipelineError{
				Kind:    errors.KindFromStatusCode(resp.StatusCode),
				Message: http.StatusText(resp.StatusCode),
			}
		}
		return resp.Body, nil
	}
}

func (e ExecuteStreamRequest) continuationRequest(ctx context.Context, req *pipeline.Request, entry *registry.Entry, partial string) (*http.Request, error) {
	wire, ok := WireRequest(req)
	if !ok {
		var err error
		wire, err = BuildWireRequest(req, true)
		if err != nil {
			return nil, err
		}
	}

	if formatter, ok := entry.Adapter.(provider.ContinuationFormatter); ok {
		return formatter.BuildContinuationRequest(ctx, wire, partial)
	}

	family := streaming.FamilyOpenAI
	switch req.Provider {
	case "anthropic":
		family = streaming.FamilyAnthropic
	case "gemini", "vertexai":
		family = streaming.FamilyGemini
	}
	msgs := streaming.ContinuationMessages(family, req.Messages, partial)
	wireMsgs, err := WireMessages(msgs)
	if err != nil {
		return nil, err
	}
	cont := *wire
	cont.Messages = wireMsgs
	return entry.Adapter.BuildRequest(ctx, &cont)
}

// adapterParser routes chunk parsing through the provider adapter,
// keeping user-supplied adapters in control of their own chunk format.
type adapterParser struct {
	entry *registry.Entry
}

func (p adapterParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	return p.entry.Adapter.ParseStreamChunk(data)
}

func flowOptions(req *pipeline.Request) streaming.FlowControlConfig {
	cfg := streaming.FlowControlConfig{}
	fc, ok := req.Config[OptFlowControl].(map[string]any)
	if !ok {
		return cfg
	}
	if v, ok := intOption(fc["capacity"]); ok && v > 0 {
		cfg.Capacity = v
	}
	if s, ok := fc["overflow"].(string); ok && s != "" {
		cfg.Overflow = streaming.OverflowStrategy(s)
	}
	if v, ok := floatOption(fc["backpressure_threshold"]); ok && v > 0 {
		cfg.BackpressureThreshold = v
	}
	if v, ok := intOption(fc["rate_limit_ms"]); ok && v > 0 {
		cfg.RateLimit = time.Duration(v) * time.Millisecond
	}
	if batch, ok := fc["batch"].(map[string]any); ok {
		if v, ok := intOption(batch["size"]); ok && v > 1 {
			cfg.BatchSize = v
		}
		if v, ok := intOption(batch["timeout_ms"]); ok && v > 0 {
			cfg.BatchTimeout = time.Duration(v) * time.Millisecond
		}
	}
	return cfg
}
