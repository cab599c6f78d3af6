package streaming

import (
	"github.com/exllm/exllm/pkg/types"
)

const (
	// SSEDataPrefix is the prefix for SSE data lines.
	SSEDataPrefix = "data: "

	// SSEDone is the payload marking stream completion.
	SSEDone = "[DONE]"
)

// ChunkParser parses provider-specific stream event payloads.
type ChunkParser interface {
	// ParseChunk parses one event payload into a unified StreamChunk.
	// Returns nil, nil for keep-alive or non-content events.
	ParseChunk(data []byte) (*types.StreamChunk, error)
}

// Chunk is the normalized per-event value delivered to stream callbacks.
// The final chunk of a stream has Done=true.
type Chunk struct {
	Content       string
	Role          string
	FinishReason  string
	Model         string
	ToolCallDelta []types.ToolCall
	Done          bool
	Usage         *types.Usage
	ProviderRaw   *types.StreamChunk
}

// FromWire flattens an OpenAI-shaped wire chunk into a Chunk.
func FromWire(wc *types.StreamChunk) Chunk {
	c := Chunk{Model: wc.Model, Usage: wc.Usage, ProviderRaw: wc}
	if len(wc.Choices) > 0 {
		choice := wc.Choices[0]
		c.Content = choice.Delta.Content
		c.Role = choice.Delta.Role
		c.FinishReason = choice.FinishReason
		c.ToolCallDelta = choice.Delta.ToolCalls
	}
	return c
}
