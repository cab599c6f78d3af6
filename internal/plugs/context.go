package plugs

import (
	"github.com/exllm/exllm/internal/tokenizer"
	"github.com/exllm/exllm/pkg/pipeline"
)

// Context-management strategies.
const (
	StrategyTruncate      = "truncate"
	StrategySlidingWindow = "sliding_window"
	StrategySmart         = "smart"
)

// smartPreservedTurns is how many trailing turns the smart strategy
// always keeps alongside the system message.
const smartPreservedTurns = 10

// ManageContext keeps the estimated prompt size within the model's
// budget: total tokens <= max_tokens - response_reserve. It is optional;
// pipelines include it only when context management is configured.
type ManageContext struct{}

type contextOpts struct {
	strategy        string
	maxTokens       int
	responseReserve int
}

func (ManageContext) Name() string { return "ManageContext" }

func (ManageContext) Init(opts map[string]any) (any, error) {
	c := contextOpts{strategy: StrategySmart, maxTokens: 8192, responseReserve: 1024}
	if s, ok := opts["strategy"].(string); ok && s != "" {
		c.strategy = s
	}
	if v, ok := intOption(opts["max_tokens"]); ok && v > 0 {
		c.maxTokens = v
	}
	if v, ok := intOption(opts["response_reserve"]); ok && v > 0 {
		c.responseReserve = v
	}
	return c, nil
}

func (m ManageContext) Call(req *pipeline.Request, compiled any) *pipeline.Request {
	c, _ := compiled.(contextOpts)
	// Per-call options override the compiled defaults.
	if cm, ok := req.Config[OptContext].(map[string]any); ok {
		if s, ok := cm["strategy"].(string); ok && s != "" {
			c.strategy = s
		}
		if v, ok := intOption(cm["max_tokens"]); ok && v > 0 {
			c.maxTokens = v
		}
		if v, ok := intOption(cm["response_reserve"]); ok && v > 0 {
			c.responseReserve = v
		}
	}

	budget := c.maxTokens - c.responseReserve
	if budget <= 0 || len(req.Messages) == 0 {
		return req
	}

	model, _ := req.Config[OptModel].(string)
	if totalTokens(model, req.Messages) <= budget {
		return req
	}

	var kept []pipeline.Message
	switch c.strategy {
	case StrategyTruncate:
		kept = truncateOldest(model, req.Messages, budget)
	case StrategySlidingWindow:
		kept = slidingWindow(model, req.Messages, budget)
	default:
		kept = smartTrim(model, req.Messages, budget)
	}

	n := req.Clone()
	n.Messages = kept
	n.Metadata["context_trimmed"] = len(req.Messages) - len(kept)
	return n
}

func totalTokens(model string, msgs []pipeline.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageTokens(model, m)
	}
	return total
}

func messageTokens(model string, m pipeline.Message) int {
	const perMessageOverhead = 4
	switch content := m.Content.(type) {
	case string:
		return tokenizer.CountTextTokens(model, content) + perMessageOverhead
	case []pipeline.ContentPart:
		total := perMessageOverhead
		for _, p := range content {
			if p.Type == "image" {
				total += tokenizer.ImageTokenEstimate
			} else {
				total += tokenizer.CountTextTokens(model, p.Text)
			}
		}
		return total
	default:
		return perMessageOverhead
	}
}

// truncateOldest drops the oldest messages (sparing a leading system
// message) until the remainder fits.
func truncateOldest(model string, msgs []pipeline.Message, budget int) []pipeline.Message {
	var system []pipeline.Message
	rest := msgs
	if msgs[0].Role == "system" {
		system = msgs[:1]
		rest = msgs[1:]
	}
	used := totalTokens(model, system)
	// Walk backward keeping as many recent messages as fit.
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		t := messageTokens(model, rest[i])
		if used+t > budget {
			break
		}
		used += t
		start = i
	}
	return append(append([]pipeline.Message{}, system...), rest[start:]...)
}

// slidingWindow keeps only the most recent messages that fit, with no
// special treatment of the system message.
func slidingWindow(model string, msgs []pipeline.Message, budget int) []pipeline.Message {
	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		t := messageTokens(model, msgs[i])
		if used+t > budget {
			break
		}
		used += t
		start = i
	}
	if start == len(msgs) && len(msgs) > 0 {
		// Even the last message alone exceeds the budget; keep it anyway
		// rather than sending an empty conversation.
		start = len(msgs) - 1
	}
	return append([]pipeline.Message{}, msgs[start:]...)
}

// smartTrim preserves the system message and the last smartPreservedTurns
// turns, dropping middle history first. The last user turn is never
// dropped.
func smartTrim(model string, msgs []pipeline.Message, budget int) []pipeline.Message {
	var system []pipeline.Message
	rest := msgs
	if msgs[0].Role == "system" {
		system = msgs[:1]
		rest = msgs[1:]
	}

	preserved := rest
	if len(rest) > smartPreservedTurns {
		preserved = rest[len(rest)-smartPreservedTurns:]
	}

	used := totalTokens(model, system)
	// Keep the preserved tail, trimming its head if the budget demands,
	// but never past the final message (the last user turn).
	start := 0
	total := used + totalTokens(model, preserved)
	for total > budget && start < len(preserved)-1 {
		total -= messageTokens(model, preserved[start])
		start++
	}
	return append(append([]pipeline.Message{}, system...), preserved[start:]...)
}
