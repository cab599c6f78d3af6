// Package pricing holds the model price tables the cost-tracking plug
// reads. Prices are USD per 1000 tokens; wildcard patterns ("gpt-4*")
// match by longest prefix.
package pricing

import (
	"strings"
	"sync"
)

// ModelPricing defines the per-token prices for one model pattern.
type ModelPricing struct {
	Model           string  // exact name or prefix wildcard, e.g. "gpt-4*"
	InputCostPer1K  float64 // USD per 1000 input tokens
	OutputCostPer1K float64 // USD per 1000 output tokens
}

// DefaultPricing covers the commonly routed models. Callers override or
// extend it via Calculator.AddPricing or config.
var DefaultPricing = []ModelPricing{
	{Model: "gpt-4o", InputCostPer1K: 0.005, OutputCostPer1K: 0.015},
	{Model: "gpt-4o-mini", InputCostPer1K: 0.00015, OutputCostPer1K: 0.0006},
	{Model: "gpt-4-turbo*", InputCostPer1K: 0.01, OutputCostPer1K: 0.03},
	{Model: "gpt-4*", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
	{Model: "gpt-3.5-turbo", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},

	{Model: "claude-3-5-sonnet*", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
	{Model: "claude-3-opus*", InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
	{Model: "claude-3-haiku*", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},

	{Model: "gemini-1.5-pro*", InputCostPer1K: 0.00125, OutputCostPer1K: 0.005},
	{Model: "gemini-1.5-flash*", InputCostPer1K: 0.000075, OutputCostPer1K: 0.0003},

	{Model: "mistral-large*", InputCostPer1K: 0.004, OutputCostPer1K: 0.012},
	{Model: "mistral-small*", InputCostPer1K: 0.001, OutputCostPer1K: 0.003},
	{Model: "mixtral-8x7b*", InputCostPer1K: 0.0007, OutputCostPer1K: 0.0007},

	{Model: "llama-3*", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0002},
	{Model: "deepseek-chat", InputCostPer1K: 0.00014, OutputCostPer1K: 0.00028},
}

// Cost is a per-call cost breakdown in USD.
type Cost struct {
	Input    float64
	Output   float64
	Total    float64
	Currency string
}

// Calculator resolves model names against the price table. It is safe
// for concurrent use.
type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
}

// NewCalculator builds a calculator from the given table, or
// DefaultPricing when nil.
func NewCalculator(pricing []ModelPricing) *Calculator {
	if pricing == nil {
		pricing = DefaultPricing
	}
	c := &Calculator{pricing: make(map[string]ModelPricing, len(pricing))}
	for _, p := range pricing {
		c.pricing[p.Model] = p
	}
	return c
}

// Calculate returns the cost breakdown for the given model and token
// counts, and false when the model has no price entry.
func (c *Calculator) Calculate(model string, inputTokens, outputTokens int) (Cost, bool) {
	p, ok := c.lookup(model)
	if !ok {
		return Cost{Currency: "USD"}, false
	}
	cost := Cost{
		Input:    float64(inputTokens) / 1000.0 * p.InputCostPer1K,
		Output:   float64(outputTokens) / 1000.0 * p.OutputCostPer1K,
		Currency: "USD",
	}
	cost.Total = cost.Input + cost.Output
	return cost, true
}

// lookup tries an exact (case-insensitive) match first, then the
// longest matching wildcard prefix.
func (c *Calculator) lookup(model string) (ModelPricing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for pattern, p := range c.pricing {
		if strings.EqualFold(pattern, model) {
			return p, true
		}
	}

	modelLower := strings.ToLower(model)
	var best ModelPricing
	bestLen := -1
	for pattern, p := range c.pricing {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.ToLower(strings.TrimSuffix(pattern, "*"))
		if strings.HasPrefix(modelLower, prefix) && len(prefix) > bestLen {
			best = p
			bestLen = len(prefix)
		}
	}
	if bestLen >= 0 {
		return best, true
	}
	return ModelPricing{}, false
}

// AddPricing adds or replaces the entry for a model pattern.
func (c *Calculator) AddPricing(p ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[p.Model] = p
}
