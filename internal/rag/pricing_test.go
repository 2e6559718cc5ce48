package rag

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCost_KnownModelExactValue verifies the arithmetic against a hand
// computed value: 1000 prompt and 1000 completion tokens of gpt-4o cost
// 0.0025 + 0.01 = 0.0125 dollars.
func TestCost_KnownModelExactValue(t *testing.T) {
	a := NewCostAccountant(nil)

	cost := a.Cost("gpt-4o", 1000, 1000)
	assert.True(t, cost.Equal(decimal.RequireFromString("0.0125")), "got %s", cost)
}

// TestCost_ZeroTokensZeroCost verifies zero usage costs nothing.
func TestCost_ZeroTokensZeroCost(t *testing.T) {
	a := NewCostAccountant(nil)
	assert.True(t, a.Cost("gpt-4o", 0, 0).IsZero())
}

// TestCost_UnknownModelIsZero verifies models absent from the table cost
// zero instead of erroring.
func TestCost_UnknownModelIsZero(t *testing.T) {
	a := NewCostAccountant(nil)
	assert.True(t, a.Cost("some-unknown-model", 5000, 5000).IsZero())
	assert.False(t, a.Known("some-unknown-model"))
	assert.True(t, a.Known("gpt-4o"))
}

// TestCost_MonotonicInTokens verifies cost never decreases as usage grows.
func TestCost_MonotonicInTokens(t *testing.T) {
	a := NewCostAccountant(nil)

	prev := decimal.Zero
	for _, tokens := range []int{0, 1, 10, 1000, 100000} {
		cost := a.Cost("gpt-4o", tokens, tokens)
		assert.True(t, cost.GreaterThanOrEqual(prev), "cost %s regressed below %s at %d tokens", cost, prev, tokens)
		prev = cost
	}
}

// TestCost_NegativeTokensClamped verifies a misbehaving provider cannot
// produce a negative charge.
func TestCost_NegativeTokensClamped(t *testing.T) {
	a := NewCostAccountant(nil)

	cost := a.Cost("gpt-4o", -500, 1000)
	assert.True(t, cost.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, cost.Equal(a.Cost("gpt-4o", 0, 1000)))
}

// TestLoadPricingTable parses a YAML table and prices against it.
func TestLoadPricingTable(t *testing.T) {
	const src = `
models:
  gpt-4o:
    prompt: 2.50
    completion: 10.00
  cheap-model:
    prompt: 0.10
    completion: 0.40
`
	table, err := LoadPricingTable(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, table, 2)

	a := NewCostAccountant(table)
	assert.True(t, a.Cost("cheap-model", 1_000_000, 0).Equal(decimal.RequireFromString("0.1")))
}

// TestLoadPricingTable_Invalid rejects empty and negative tables.
func TestLoadPricingTable_Invalid(t *testing.T) {
	_, err := LoadPricingTable(strings.NewReader("models: {}"))
	assert.Error(t, err)

	_, err = LoadPricingTable(strings.NewReader("models:\n  bad:\n    prompt: -1\n    completion: 2\n"))
	assert.Error(t, err)

	_, err = LoadPricingTable(strings.NewReader("not yaml: ["))
	assert.Error(t, err)
}
