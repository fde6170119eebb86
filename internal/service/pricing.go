package service

import (
	"github.com/shopspring/decimal"
)

// FallbackModel is the rate used for models missing from the table. It must
// always have an entry.
const FallbackModel = "gpt-3.5-turbo"

// ModelRate holds per-token prices in USD.
type ModelRate struct {
	Prompt     decimal.Decimal
	Completion decimal.Decimal
}

var modelRates = map[string]ModelRate{
	"gpt-4o": {
		Prompt:     decimal.RequireFromString("0.000005"),
		Completion: decimal.RequireFromString("0.000015"),
	},
	"gpt-4o-mini": {
		Prompt:     decimal.RequireFromString("0.00000015"),
		Completion: decimal.RequireFromString("0.0000006"),
	},
	"gpt-4-turbo": {
		Prompt:     decimal.RequireFromString("0.00001"),
		Completion: decimal.RequireFromString("0.00003"),
	},
	"gpt-3.5-turbo": {
		Prompt:     decimal.RequireFromString("0.0000005"),
		Completion: decimal.RequireFromString("0.0000015"),
	},
}

// Cost estimates the USD cost of one call, rounded to 6 decimal places.
// Unknown models degrade to the fallback rate; Cost never fails.
func Cost(model string, promptTokens, completionTokens int64) decimal.Decimal {
	rate, ok := modelRates[model]
	if !ok {
		rate = modelRates[FallbackModel]
	}
	promptCost := decimal.NewFromInt(promptTokens).Mul(rate.Prompt)
	completionCost := decimal.NewFromInt(completionTokens).Mul(rate.Completion)
	return promptCost.Add(completionCost).Round(6)
}
