// Package plugs contains the core pipeline plugs: provider validation,
// config merging, context management, caching, HTTP client construction,
// execution (sync and streaming), response parsing, and cost tracking.
// Providers contribute their own prepare/parse plugs through the
// registry; everything here is provider-agnostic.
package plugs

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/types"
)

// Option keys recognized in Request.Options and merged into
// Request.Config by FetchConfig.
const (
	OptModel            = "model"
	OptTemperature      = "temperature"
	OptMaxTokens        = "max_tokens"
	OptTopP             = "top_p"
	OptTopK             = "top_k"
	OptFrequencyPenalty = "frequency_penalty"
	OptPresencePenalty  = "presence_penalty"
	OptStop             = "stop"
	OptSeed             = "seed"
	OptUser             = "user"
	OptResponseFormat   = "response_format"
	OptTools            = "tools"
	OptToolChoice       = "tool_choice"
	OptTimeoutMs        = "timeout_ms"
	OptRetry            = "retry"
	OptCache            = "cache"
	OptStreamRecovery   = "stream_recovery"
	OptFlowControl      = "flow_control"
	OptAPIKey           = "api_key"
	OptBaseURL          = "base_url"
	OptOrganization     = "organization"
	OptContext          = "context_management"
)

// Private keys the plugs use for inter-plug bookkeeping.
const (
	privWireRequest = "wire_request"
	privCacheKey    = "cache_key"
	privCacheHit    = "cache_hit"
)

// WireRequest returns the provider-agnostic wire request built by
// BuildWireRequest, stashed in Request.Private.
func WireRequest(req *pipeline.Request) (*types.ChatRequest, bool) {
	wr, ok := req.Private[privWireRequest].(*types.ChatRequest)
	return wr, ok
}

// BuildWireRequest maps the Request's messages and merged config onto
// the unified ChatRequest the provider adapters consume.
func BuildWireRequest(req *pipeline.Request, stream bool) (*types.ChatRequest, error) {
	wr := &types.ChatRequest{Stream: stream}

	if m, ok := req.Config[OptModel].(string); ok {
		wr.Model = m
	}
	if wr.Model == "" {
		return nil, fmt.Errorf("no model resolved for provider %s", req.Provider)
	}

	msgs, err := WireMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	wr.Messages = msgs

	if v, ok := floatOption(req.Config[OptTemperature]); ok {
		wr.Temperature = &v
	}
	if v, ok := floatOption(req.Config[OptTopP]); ok {
		wr.TopP = &v
	}
	if v, ok := intOption(req.Config[OptMaxTokens]); ok {
		wr.MaxTokens = v
	}
	if v, ok := intOption(req.Config[OptTopK]); ok {
		wr.TopK = &v
	}
	if v, ok := floatOption(req.Config[OptFrequencyPenalty]); ok {
		wr.FrequencyPenalty = &v
	}
	if v, ok := floatOption(req.Config[OptPresencePenalty]); ok {
		wr.PresencePenalty = &v
	}
	if v, ok := intOption(req.Config[OptSeed]); ok {
		s := int64(v)
		wr.Seed = &s
	}
	if v, ok := req.Config[OptUser].(string); ok {
		wr.User = v
	}
	switch stop := req.Config[OptStop].(type) {
	case string:
		wr.Stop = []string{stop}
	case []string:
		wr.Stop = stop
	case []any:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				wr.Stop = append(wr.Stop, str)
			}
		}
	}
	if rf, ok := req.Config[OptResponseFormat].(map[string]any); ok {
		format := &types.ResponseFormat{}
		if t, ok := rf["type"].(string); ok {
			format.Type = t
		}
		if schema, ok := rf["schema"]; ok {
			raw, err := json.Marshal(schema)
			if err != nil {
				return nil, fmt.Errorf("marshal response_format schema: %w", err)
			}
			format.JSONSchema = raw
		}
		wr.ResponseFormat = format
	}
	if tools, ok := req.Config[OptTools]; ok {
		switch t := tools.(type) {
		case []types.Tool:
			wr.Tools = t
		default:
			raw, err := json.Marshal(tools)
			if err != nil {
				return nil, fmt.Errorf("marshal tools: %w", err)
			}
			var converted []types.Tool
			if err := json.Unmarshal(raw, &converted); err != nil {
				return nil, fmt.Errorf("tools option has unrecognized shape: %w", err)
			}
			wr.Tools = converted
		}
	}
	if tc, ok := req.Config[OptToolChoice]; ok {
		raw, err := json.Marshal(tc)
		if err != nil {
			return nil, fmt.Errorf("marshal tool_choice: %w", err)
		}
		wr.ToolChoice = raw
	}
	return wr, nil
}

// WireMessages converts pipeline messages (string or typed-part content)
// to the OpenAI-style wire shape.
func WireMessages(messages []pipeline.Message) ([]types.ChatMessage, error) {
	out := make([]types.ChatMessage, 0, len(messages))
	for i, m := range messages {
		wm := types.ChatMessage{Role: m.Role}
		switch content := m.Content.(type) {
		case string:
			raw, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("marshal message %d: %w", i, err)
			}
			wm.Content = raw
		case []pipeline.ContentPart:
			parts := make([]map[string]any, 0, len(content))
			for _, p := range content {
				parts = append(parts, wirePart(p))
			}
			raw, err := json.Marshal(parts)
			if err != nil {
				return nil, fmt.Errorf("marshal message %d parts: %w", i, err)
			}
			wm.Content = raw
		case json.RawMessage:
			wm.Content = content
		case nil:
			wm.Content = json.RawMessage(`""`)
		default:
			raw, err := json.Marshal(content)
			if err != nil {
				return nil, fmt.Errorf("marshal message %d: %w", i, err)
			}
			wm.Content = raw
		}
		out = append(out, wm)
	}
	return out, nil
}

func wirePart(p pipeline.ContentPart) map[string]any {
	switch p.Type {
	case "image":
		url := p.Data
		if p.MediaType != "" && !isURL(p.Data) {
			url = "data:" + p.MediaType + ";base64," + p.Data
		}
		return map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": url},
		}
	case "tool_call":
		return map[string]any{"type": "tool_call", "tool_call": p.ToolCall}
	case "tool_result":
		return map[string]any{"type": "tool_result", "tool_result": p.ToolResult}
	default:
		return map[string]any{"type": "text", "text": p.Text}
	}
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}

func floatOption(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func intOption(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
