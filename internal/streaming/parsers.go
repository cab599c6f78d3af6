package streaming

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/exllm/exllm/pkg/types"
)

// OpenAIParser parses OpenAI-family stream payloads: one JSON
// chat.completion.chunk object per SSE data frame. Groq, Mistral,
// Perplexity, OpenRouter, xAI, and LM Studio all use this format.
type OpenAIParser struct{}

// ParseChunk implements ChunkParser for the OpenAI format.
func (p *OpenAIParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte(SSEDone)) {
		return nil, nil
	}

	var chunk types.StreamChunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("unmarshal openai chunk: %w", err)
	}
	return &chunk, nil
}

// AnthropicParser parses the Anthropic event stream. Each data frame is
// a typed event; message_start carries the id/model, content_block_delta
// carries text, message_delta carries the stop reason and output usage.
type AnthropicParser struct {
	currentID    string
	currentModel string
	inputTokens  int
}

// ParseChunk implements ChunkParser for the Anthropic format.
func (p *AnthropicParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte(SSEDone)) {
		return nil, nil
	}

	var event map[string]any
	if err := json.Unmarshal(trimmed, &event); err != nil {
		// Unparseable events are dropped, not fatal; the framer already
		// records malformed frames.
		return nil, nil
	}
	eventType, _ := event["type"].(string)

	switch eventType {
	case "message_start":
		return p.handleMessageStart(event), nil
	case "content_block_delta":
		return p.handleContentDelta(event), nil
	case "message_delta":
		return p.handleMessageDelta(event), nil
	default:
		// message_stop, content_block_start/stop, ping: no content.
		return nil, nil
	}
}

func (p *AnthropicParser) handleMessageStart(event map[string]any) *types.StreamChunk {
	msg, ok := event["message"].(map[string]any)
	if !ok {
		return nil
	}
	if id, ok := msg["id"].(string); ok {
		p.currentID = id
	}
	if model, ok := msg["model"].(string); ok {
		p.currentModel = model
	}
	if usage, ok := msg["usage"].(map[string]any); ok {
		if in, ok := usage["input_tokens"].(float64); ok {
			p.inputTokens = int(in)
		}
	}
	return &types.StreamChunk{
		ID:     p.currentID,
		Object: "chat.completion.chunk",
		Model:  p.currentModel,
		Choices: []types.StreamChoice{{
			Delta: types.StreamDelta{Role: "assistant"},
		}},
	}
}

func (p *AnthropicParser) handleContentDelta(event map[string]any) *types.StreamChunk {
	delta, ok := event["delta"].(map[string]any)
	if !ok || delta["type"] != "text_delta" {
		return nil
	}
	text, ok := delta["text"].(string)
	if !ok {
		return nil
	}
	return &types.StreamChunk{
		ID:     p.currentID,
		Object: "chat.completion.chunk",
		Model:  p.currentModel,
		Choices: []types.StreamChoice{{
			Delta: types.StreamDelta{Content: text},
		}},
	}
}

func (p *AnthropicParser) handleMessageDelta(event map[string]any) *types.StreamChunk {
	delta, ok := event["delta"].(map[string]any)
	if !ok {
		return nil
	}
	stopReason, _ := delta["stop_reason"].(string)
	if stopReason == "" {
		return nil
	}
	chunk := &types.StreamChunk{
		ID:     p.currentID,
		Object: "chat.completion.chunk",
		Model:  p.currentModel,
		Choices: []types.StreamChoice{{
			FinishReason: mapAnthropicStopReason(stopReason),
		}},
	}
	if usage, ok := event["usage"].(map[string]any); ok {
		if out, ok := usage["output_tokens"].(float64); ok {
			chunk.Usage = &types.Usage{
				PromptTokens:     p.inputTokens,
				CompletionTokens: int(out),
				TotalTokens:      p.inputTokens + int(out),
			}
		}
	}
	return chunk
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

// GeminiParser parses Gemini streaming responses. Gemini streams a JSON
// array of response objects; the transport layer may deliver bracket,
// comma, and object fragments, so stray array punctuation is stripped.
type GeminiParser struct{}

// ParseChunk implements ChunkParser for the Gemini format.
func (p *GeminiParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	trimmed = bytes.TrimPrefix(trimmed, []byte("["))
	trimmed = bytes.TrimSuffix(trimmed, []byte("]"))
	trimmed = bytes.TrimPrefix(trimmed, []byte(","))
	trimmed = bytes.TrimSpace(trimmed)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var resp geminiStreamResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, nil
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}

	candidate := resp.Candidates[0]
	var textContent string
	for _, part := range candidate.Content.Parts {
		textContent += part.Text
	}

	chunk := &types.StreamChunk{
		Object: "chat.completion.chunk",
		Choices: []types.StreamChoice{{
			Delta: types.StreamDelta{Content: textContent},
		}},
	}
	if candidate.FinishReason != "" {
		chunk.Choices[0].FinishReason = mapGeminiFinishReason(candidate.FinishReason)
	}
	if resp.UsageMetadata != nil {
		chunk.Usage = &types.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return chunk, nil
}

type geminiStreamResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return reason
	}
}

// OllamaParser parses Ollama's newline-delimited JSON stream: one
// response object per line, with done=true on the terminal line.
type OllamaParser struct{}

// ParseChunk implements ChunkParser for the Ollama NDJSON format.
func (p *OllamaParser) ParseChunk(data []byte) (*types.StreamChunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var resp ollamaStreamResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal ollama chunk: %w", err)
	}

	chunk := &types.StreamChunk{
		Object: "chat.completion.chunk",
		Model:  resp.Model,
		Choices: []types.StreamChoice{{
			Delta: types.StreamDelta{Content: resp.Message.Content, Role: resp.Message.Role},
		}},
	}
	if resp.Done {
		chunk.Choices[0].FinishReason = "stop"
		if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
			chunk.Usage = &types.Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
	}
	return chunk, nil
}

type ollamaStreamResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// GetParser returns the chunk parser for a provider family. Unknown
// providers default to the OpenAI format, which nearly every
// OpenAI-compatible endpoint speaks.
func GetParser(providerName string) ChunkParser {
	switch providerName {
	case "anthropic":
		return &AnthropicParser{}
	case "gemini", "vertexai":
		return &GeminiParser{}
	case "ollama":
		return &OllamaParser{}
	default:
		return &OpenAIParser{}
	}
}
