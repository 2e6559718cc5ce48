package rag

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// tokensPerMillion is the unit the per-model rates are quoted in.
var tokensPerMillion = decimal.NewFromInt(1_000_000)

// ModelPricing holds the dollar rates for one model, per one million tokens.
// Decimal arithmetic keeps repeated small charges from accumulating float
// error across thousands of queries.
type ModelPricing struct {
	// Prompt is the dollar price of one million input tokens.
	Prompt decimal.Decimal

	// Completion is the dollar price of one million output tokens.
	Completion decimal.Decimal
}

// PricingTable maps model identifiers to their rates.
type PricingTable map[string]ModelPricing

// DefaultPricingTable returns the built-in rates used when no pricing file
// is configured. Rates are per one million tokens.
func DefaultPricingTable() PricingTable {
	return PricingTable{
		"gpt-4o": {
			Prompt:     decimal.NewFromFloat(2.50),
			Completion: decimal.NewFromFloat(10.00),
		},
	}
}

// pricingFile is the YAML shape of an external pricing table:
//
//	models:
//	  gpt-4o:
//	    prompt: 2.50
//	    completion: 10.00
type pricingFile struct {
	Models map[string]struct {
		Prompt     float64 `yaml:"prompt"`
		Completion float64 `yaml:"completion"`
	} `yaml:"models"`
}

// LoadPricingTable parses a YAML pricing table from r. Rates are read as
// floats and converted to decimals once, at load time.
func LoadPricingTable(r io.Reader) (PricingTable, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading pricing table: %w", err)
	}

	var file pricingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing pricing table: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("pricing table defines no models")
	}

	table := make(PricingTable, len(file.Models))
	for model, rates := range file.Models {
		if rates.Prompt < 0 || rates.Completion < 0 {
			return nil, fmt.Errorf("pricing table: model %q has a negative rate", model)
		}
		table[model] = ModelPricing{
			Prompt:     decimal.NewFromFloat(rates.Prompt),
			Completion: decimal.NewFromFloat(rates.Completion),
		}
	}
	return table, nil
}

// CostAccountant prices token usage against a pricing table. Unknown models
// cost zero rather than erroring so that pricing gaps never block a query.
type CostAccountant struct {
	table PricingTable
}

// NewCostAccountant builds an accountant over the given table, falling back
// to the built-in rates when table is nil.
func NewCostAccountant(table PricingTable) *CostAccountant {
	if table == nil {
		table = DefaultPricingTable()
	}
	return &CostAccountant{table: table}
}

// Cost returns the dollar cost of one call:
//
//	promptTokens/1M * rate.Prompt + completionTokens/1M * rate.Completion
//
// Models absent from the table cost zero. Negative token counts are clamped
// to zero so a misbehaving provider can never produce a negative charge.
func (a *CostAccountant) Cost(model string, promptTokens, completionTokens int) decimal.Decimal {
	rates, ok := a.table[model]
	if !ok {
		return decimal.Zero
	}
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}

	promptCost := decimal.NewFromInt(int64(promptTokens)).
		Mul(rates.Prompt).Div(tokensPerMillion)
	completionCost := decimal.NewFromInt(int64(completionTokens)).
		Mul(rates.Completion).Div(tokensPerMillion)
	return promptCost.Add(completionCost)
}

// Known reports whether the table carries rates for model. Callers use this
// to log a warning when a query will be billed at zero.
func (a *CostAccountant) Known(model string) bool {
	_, ok := a.table[model]
	return ok
}
