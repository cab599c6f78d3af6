package plugs

import (
	"github.com/goccy/go-json"

	"github.com/exllm/exllm/pkg/errors"
	"github.com/exllm/exllm/pkg/pipeline"
	"github.com/exllm/exllm/pkg/registry"
	"github.com/exllm/exllm/pkg/types"
)

// ParseResponse is the provider-parse plug: it decodes the raw HTTP
// response through the provider adapter, normalizes it, records token
// usage in metadata, and completes the request.
type ParseResponse struct {
	Registry *registry.Registry
}

func (ParseResponse) Name() string { return "ParseResponse" }

func (ParseResponse) Init(opts map[string]any) (any, error) { return nil, nil }

func (p ParseResponse) Call(req *pipeline.Request, _ any) *pipeline.Request {
	if req.Response == nil {
		return pipeline.HaltWithError(req, p.Name(), errors.KindException,
			"no response to parse", nil)
	}
	entry, ok := p.Registry.Get(req.Provider)
	if !ok {
		return pipeline.HaltWithError(req, p.Name(), errors.KindUnsupportedProvider,
			"provider disappeared from registry", nil)
	}

	defer req.Response.Body.Close()
	wireResp, err := entry.Adapter.ParseResponse(req.Response)
	if err != nil {
		return pipeline.HaltWithError(req, p.Name(), errors.KindServerError,
			"parse provider response: "+err.Error(), nil)
	}

	result := Normalize(wireResp)
	n := pipeline.Complete(req, result)
	n.Metadata["tokens"] = map[string]int{
		"input":  result.Usage.InputTokens,
		"output": result.Usage.OutputTokens,
		"total":  result.Usage.TotalTokens,
	}
	return n
}

// Normalize converts the OpenAI-shaped wire response into the unified
// NormalizedResponse.
func Normalize(resp *types.ChatResponse) *pipeline.NormalizedResponse {
	result := &pipeline.NormalizedResponse{
		Model: resp.Model,
		Raw:   resp,
	}
	if resp.Usage != nil {
		result.Usage = pipeline.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		result.FinishReason = normalizeFinishReason(choice.FinishReason)
		if text, ok := decodeContent(choice.Message.Content); ok {
			result.Content = &text
		}
		for _, tc := range choice.Message.ToolCalls {
			result.ToolCalls = append(result.ToolCalls, tc)
		}
	}
	return result
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop", "length", "tool_calls", "content_filter", "error":
		return reason
	case "function_call":
		return "tool_calls"
	case "":
		return ""
	default:
		return "stop"
	}
}

// decodeContent extracts plain text from a wire content value: either a
// JSON string or a typed-part array whose text parts are concatenated.
func decodeContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err == nil {
		var out string
		for _, p := range parts {
			if t, ok := p["text"].(string); ok {
				out += t
			}
		}
		return out, true
	}
	return "", false
}
