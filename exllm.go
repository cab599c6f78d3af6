// Package exllm is a unified client library for LLM HTTP providers.
// One request/response model covers OpenAI, Anthropic, Gemini, Groq,
// Mistral, Perplexity, OpenRouter, Bedrock, Ollama, LM Studio and any
// user-registered provider, with synchronous chat, SSE streaming with
// flow control and recovery, embeddings, and model listing.
//
// Basic usage:
//
//	client, err := exllm.New(
//	    exllm.WithProvider(exllm.ProviderConfig{
//	        Name:   "openai",
//	        Type:   "openai",
//	        APIKey: os.Getenv("OPENAI_API_KEY"),
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.Chat(ctx, "openai",
//	    []exllm.Message{{Role: "user", Content: "Hello!"}},
//	    exllm.Options{"model": "gpt-4o-mini"})
package exllm

import (
	"context"
	"fmt"

	"github.com/exllm/exllm/internal/plugs"
	"github.com/exllm/exllm/internal/streaming"
	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/provider"
	"github.com/exllm/exllm/pkg/registry"
	"github.com/exllm/exllm/pkg/types"
)

// Version is the current version of ExLLM.
const Version = "1.0.0"

// Re-exported core types, so callers rarely import subpackages.
type (
	// Message is one turn of the conversation; Content is a string or a
	// []ContentPart for multimodal turns.
	Message = pipeline.Message

	// ContentPart is one typed part of a multimodal message.
	ContentPart = pipeline.ContentPart

	// Options is the per-call option map (see the recognized option
	// keys in internal/plugs).
	Options = map[string]any

	// Response is the normalized provider-independent chat result.
	Response = pipeline.NormalizedResponse

	// StreamChunk is the normalized per-event value streams deliver.
	StreamChunk = streaming.Chunk

	// Error is the error value surfaced after local recovery is
	// exhausted: kind, message, plug, provider, details.
	Error = errors.PipelineError

	// ProviderConfig configures one registered provider.
	ProviderConfig = provider.Config

	// Provider is the adapter contract for custom providers.
	Provider = provider.Provider

	// Adapter is the function-record form of Provider for user-supplied
	// providers.
	Adapter = provider.Adapter

	// EmbeddingResponse is the unified embeddings result.
	EmbeddingResponse = types.EmbeddingResponse

	// ModelInfo describes one entry of a provider's model catalog.
	ModelInfo = types.Model
)

// ErrStreamNotFound is returned by CancelStream for unknown stream ids.
var ErrStreamNotFound = fmt.Errorf("stream not found")

// Chat sends a synchronous chat request through the provider's chat
// pipeline and returns the normalized response.
func (c *Client) Chat(ctx context.Context, providerID string, messages []Message, options Options) (*Response, error) {
	req := pipeline.NewRequest(providerID, messages, options).WithContext(ctx)
	pl := c.resolvePipeline(providerID, registry.OpChat, c.chatPipeline)
	final := pl.Run(req)
	c.observe(ctx, final)
	if final.State == pipeline.StateCompleted && final.Result != nil {
		return final.Result, nil
	}
	return nil, c.surfaceError(final)
}

// Stream starts a streaming chat request. Chunks are delivered to
// callback in arrival order on a dedicated consumer; the final chunk has
// Done=true. The returned stream id cancels the stream via CancelStream.
func (c *Client) Stream(ctx context.Context, providerID string, messages []Message, options Options, callback func(StreamChunk)) (string, error) {
	if options == nil {
		options = Options{}
	}
	req := pipeline.NewRequest(providerID, messages, options).WithContext(ctx)
	req.Private[plugs.PrivStreamCallback] = callback

	pl := c.resolvePipeline(providerID, registry.OpStream, c.streamPipeline)
	final := pl.Run(req)
	c.observe(ctx, final)
	if final.State == pipeline.StateStreaming && final.StreamContext != nil {
		if fc, ok := final.StreamContext.FlowController.(*streaming.FlowController); ok {
			c.streamMu.Lock()
			if _, live := c.streams[final.StreamContext.StreamID]; live {
				c.streamFlow[final.StreamContext.StreamID] = fc
			}
			c.streamMu.Unlock()
		}
		return final.StreamContext.StreamID, nil
	}
	return "", c.surfaceError(final)
}

// Completion runs a legacy text-completion request over the chat
// pipeline: the prompt becomes a single user turn and the chat result
// is folded back into the completion response shape.
func (c *Client) Completion(ctx context.Context, providerID, prompt string, options Options) (*types.CompletionResponse, error) {
	resp, err := c.Chat(ctx, providerID, []Message{{Role: "user", Content: prompt}}, options)
	if err != nil {
		return nil, err
	}
	if chatResp, ok := resp.Raw.(*types.ChatResponse); ok {
		return types.CompletionResponseFromChat(chatResp), nil
	}
	// Cache-replayed results lose the concrete Raw type; rebuild from
	// the normalized fields.
	out := &types.CompletionResponse{
		Object: "text_completion",
		Model:  resp.Model,
	}
	text := ""
	if resp.Content != nil {
		text = *resp.Content
	}
	out.Choices = []types.CompletionChoice{{Text: text, FinishReason: resp.FinishReason}}
	return out, nil
}

// Embeddings computes embeddings for one string or a list of strings.
func (c *Client) Embeddings(ctx context.Context, providerID string, inputs any, options Options) (*EmbeddingResponse, error) {
	texts, err := embeddingInputs(inputs)
	if err != nil {
		return nil, err
	}
	req := pipeline.NewRequest(providerID, nil, options).WithContext(ctx)
	req.Private[plugs.PrivEmbeddingInputs] = texts

	pl := c.resolvePipeline(providerID, registry.OpEmbeddings, c.embeddingsPipeline)
	final := pl.Run(req)
	c.observe(ctx, final)
	if resp, ok := final.Private[plugs.PrivEmbeddingResponse].(*types.EmbeddingResponse); ok {
		return resp, nil
	}
	return nil, c.surfaceError(final)
}

// ListModels fetches the provider's model catalog.
func (c *Client) ListModels(ctx context.Context, providerID string) ([]ModelInfo, error) {
	req := pipeline.NewRequest(providerID, nil, nil).WithContext(ctx)
	pl := c.resolvePipeline(providerID, registry.OpListModels, c.listModelsPipeline)
	final := pl.Run(req)
	if models, ok := final.Private[plugs.PrivModelList].([]types.Model); ok {
		return models, nil
	}
	return nil, c.surfaceError(final)
}

// CancelStream cancels a running stream. The stream's callback receives
// one final chunk with FinishReason "cancelled".
func (c *Client) CancelStream(streamID string) error {
	c.streamMu.Lock()
	cancel, ok := c.streams[streamID]
	c.streamMu.Unlock()
	if !ok {
		return ErrStreamNotFound
	}
	cancel()
	return nil
}

// RegisterProvider adds a user-supplied provider adapter at runtime.
// The default pipelines serve it unless entry pipelines are installed
// through the registry.
func (c *Client) RegisterProvider(id string, adapter Provider, cfg ProviderConfig) {
	c.registry.Register(id, &registry.Entry{
		Adapter:      adapter,
		Config:       cfg,
		DefaultModel: cfg.DefaultModel,
	})
}

// Registry exposes the provider registry, for pipeline customization.
func (c *Client) Registry() *registry.Registry { return c.registry }

// StreamMetrics returns the flow-controller metrics of a running stream.
func (c *Client) StreamMetrics(streamID string) (streaming.FlowMetrics, bool) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	fc, ok := c.streamFlow[streamID]
	if !ok {
		return streaming.FlowMetrics{}, false
	}
	return fc.Metrics(), true
}

// StreamStarted implements plugs.StreamSink.
func (c *Client) StreamStarted(streamID string, cancel context.CancelFunc) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.streams[streamID] = cancel
}

// StreamFinished implements plugs.StreamSink.
func (c *Client) StreamFinished(streamID string, err error) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	delete(c.streams, streamID)
	if err != nil {
		c.logger.Debug("stream finished with error", "stream_id", streamID, "error", err)
	}
}

// resolvePipeline prefers a provider-registered pipeline for the
// operation and falls back to the client default. Unknown providers get
// the default so ValidateProvider produces the canonical error.
func (c *Client) resolvePipeline(providerID string, op registry.Operation, fallback *pipeline.Pipeline) *pipeline.Pipeline {
	if entry, ok := c.registry.Get(providerID); ok {
		if pl, ok := entry.Pipelines[op]; ok && pl != nil {
			return pl
		}
	}
	return fallback
}

// surfaceError converts the terminal request's first error entry into
// the caller-facing Error value.
func (c *Client) surfaceError(req *pipeline.Request) error {
	if len(req.Errors) == 0 {
		return &errors.PipelineError{
			Kind:     errors.KindException,
			Provider: req.Provider,
			Message:  "pipeline ended without result or error",
		}
	}
	entry := req.Errors[0]
	perr := &errors.PipelineError{
		Kind:     entry.Kind,
		Message:  entry.Message,
		Plug:     entry.Plug,
		Provider: req.Provider,
		Details:  entry.Details,
	}
	if details, ok := entry.Details.(map[string]any); ok {
		if ra, ok := details["retry_after_ms"].(int64); ok {
			perr.RetryAfterMs = ra
		}
	}
	return perr
}

func (c *Client) observe(ctx context.Context, req *pipeline.Request) {
	for _, sink := range c.sinks {
		sink.OnRequestEnd(ctx, req)
	}
}

func embeddingInputs(inputs any) ([]string, error) {
	switch v := inputs.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("embedding inputs must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("embedding inputs must be a string or list of strings")
	}
}
