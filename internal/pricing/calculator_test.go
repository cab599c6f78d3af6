package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculator_ExactMatch(t *testing.T) {
	c := NewCalculator(nil)

	cost, ok := c.Calculate("gpt-4o", 1000, 2000)
	require.True(t, ok)
	assert.InDelta(t, 0.005, cost.Input, 1e-9)
	assert.InDelta(t, 0.030, cost.Output, 1e-9)
	assert.InDelta(t, 0.035, cost.Total, 1e-9)
	assert.Equal(t, "USD", cost.Currency)
}

func TestCalculator_WildcardLongestPrefixWins(t *testing.T) {
	c := NewCalculator(nil)

	// gpt-4-turbo-2024 must match gpt-4-turbo*, not the shorter gpt-4*.
	cost, ok := c.Calculate("gpt-4-turbo-2024", 1000, 0)
	require.True(t, ok)
	assert.InDelta(t, 0.01, cost.Input, 1e-9)
}

func TestCalculator_UnknownModel(t *testing.T) {
	c := NewCalculator(nil)
	cost, ok := c.Calculate("totally-unknown", 1000, 1000)
	assert.False(t, ok)
	assert.Zero(t, cost.Total)
}

func TestCalculator_CaseInsensitiveAndOverride(t *testing.T) {
	c := NewCalculator(nil)
	_, ok := c.Calculate("GPT-4o", 1, 1)
	assert.True(t, ok)

	c.AddPricing(ModelPricing{Model: "custom-model", InputCostPer1K: 1, OutputCostPer1K: 2})
	cost, ok := c.Calculate("custom-model", 1000, 1000)
	require.True(t, ok)
	assert.InDelta(t, 3.0, cost.Total, 1e-9)
}
