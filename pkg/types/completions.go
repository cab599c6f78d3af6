package types //nolint:revive // package name is intentional

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
)

// CompletionResponse is the legacy text-completion response shape the
// Completion operation folds chat results into.
type CompletionResponse struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	Choices           []CompletionChoice `json:"choices"`
	Usage             *Usage             `json:"usage,omitempty"`
	SystemFingerprint string             `json:"system_fingerprint,omitempty"`
}

// CompletionChoice represents a completion choice.
type CompletionChoice struct {
	Index        int                 `json:"index"`
	Text         string              `json:"text"`
	Logprobs     *CompletionLogprobs `json:"logprobs,omitempty"`
	FinishReason string              `json:"finish_reason,omitempty"`
}

// CompletionLogprobs represents log probability info for completions.
type CompletionLogprobs struct {
	Tokens        []string             `json:"tokens,omitempty"`
	TokenLogprobs []float64            `json:"token_logprobs,omitempty"`
	TopLogprobs   []map[string]float64 `json:"top_logprobs,omitempty"`
	TextOffset    []int                `json:"text_offset,omitempty"`
}

// CompletionResponseFromChat converts a chat completion response to the
// completion response shape.
func CompletionResponseFromChat(resp *ChatResponse) *CompletionResponse {
	if resp == nil {
		return nil
	}

	choices := make([]CompletionChoice, 0, len(resp.Choices))
	for i := range resp.Choices {
		choice := resp.Choices[i]
		choices = append(choices, CompletionChoice{
			Index:        choice.Index,
			Text:         extractMessageText(choice.Message),
			FinishReason: choice.FinishReason,
		})
	}

	return &CompletionResponse{
		ID:                resp.ID,
		Object:            "text_completion",
		Created:           resp.Created,
		Model:             resp.Model,
		Choices:           choices,
		Usage:             resp.Usage,
		SystemFingerprint: resp.SystemFingerprint,
	}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractMessageText flattens a chat message's content to plain text:
// a JSON string passes through, a typed-part array contributes its text
// parts.
func extractMessageText(msg ChatMessage) string {
	if len(msg.Content) == 0 || bytes.Equal(msg.Content, []byte("null")) {
		return ""
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return text
	}

	var parts []contentPart
	if err := json.Unmarshal(msg.Content, &parts); err == nil {
		var b strings.Builder
		for _, part := range parts {
			if part.Type == "" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
		return b.String()
	}

	return string(msg.Content)
}
