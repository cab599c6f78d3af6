// Package tokenizer estimates token counts for context management and
// usage accounting. It uses a per-model tiktoken encoding when one is
// available and a conservative character-count approximation otherwise.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/exllm/exllm/pkg/types"
)

// ImageTokenEstimate is the flat cost assumed for one image part. The
// exact cost depends on resolution and detail level; the flat base keeps
// context trimming conservative without decoding image data.
const ImageTokenEstimate = 85

// perMessageOverhead is the per-message framing cost in OpenAI chat
// accounting.
const perMessageOverhead = 3

// replyPrimerTokens is the assistant-reply primer appended to every
// chat prompt.
const replyPrimerTokens = 3

var (
	encodingCache sync.Map // normalized model -> *tiktoken.Tiktoken
	defaultOnce   sync.Once
	defaultEnc    *tiktoken.Tiktoken
)

// CountTextTokens returns the token count for text under the model's
// encoding, or a len/4 estimate when no encoding can be loaded.
func CountTextTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := encodingFor(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimateMessagesTokens estimates the prompt cost of a message list,
// including per-message framing and the reply primer.
func EstimateMessagesTokens(model string, messages []types.ChatMessage) int {
	total := replyPrimerTokens
	for _, msg := range messages {
		total += perMessageOverhead
		total += CountTextTokens(model, msg.Role)
		total += contentTokens(model, msg.Content)
		for _, call := range msg.ToolCalls {
			total += CountTextTokens(model, call.Function.Name)
			total += CountTextTokens(model, call.Function.Arguments)
		}
	}
	return total
}

// EstimateCompletionTokens estimates the size of generated text.
func EstimateCompletionTokens(model, text string) int {
	return CountTextTokens(model, text)
}

// contentTokens handles both plain-string and typed-part content.
func contentTokens(model string, raw []byte) int {
	if len(raw) == 0 {
		return 0
	}
	s := string(raw)
	// Raw JSON string: strip the quotes and count the payload. Part
	// arrays are counted wholesale; the JSON framing overcounts a
	// little, which errs on the safe side for trimming decisions.
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return CountTextTokens(model, s[1:len(s)-1])
	}
	count := CountTextTokens(model, s)
	if strings.Contains(s, `"image_url"`) {
		count += ImageTokenEstimate
	}
	return count
}

// encodingFor resolves and caches the model's encoding.
func encodingFor(model string) *tiktoken.Tiktoken {
	base := normalizeModelName(model)
	if cached, ok := encodingCache.Load(base); ok {
		enc, _ := cached.(*tiktoken.Tiktoken)
		return enc
	}

	var enc *tiktoken.Tiktoken
	var err error
	if strings.Contains(base, "gpt-4o") {
		enc, err = tiktoken.GetEncoding("o200k_base")
	} else {
		enc, err = tiktoken.EncodingForModel(base)
	}
	if err != nil || enc == nil {
		enc = defaultEncoding()
	}
	if enc != nil {
		encodingCache.Store(base, enc)
	}
	return enc
}

func defaultEncoding() *tiktoken.Tiktoken {
	defaultOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			defaultEnc = enc
		}
	})
	return defaultEnc
}

// normalizeModelName strips provider prefixes ("openai/gpt-4o" ->
// "gpt-4o") before encoding lookup.
func normalizeModelName(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 && idx+1 < len(model) {
		return model[idx+1:]
	}
	return model
}
