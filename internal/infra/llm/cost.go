package llm

// Per-million-token prices in micro USD. Unknown models fall back to the
// default row so cost tracking never silently records zero spend.
type modelPrice struct {
	inputPerMTok  int64
	cachedPerMTok int64
	outputPerMTok int64
}

var modelPrices = map[string]modelPrice{
	"claude-sonnet-4-5-20250929": {inputPerMTok: 3_000_000, cachedPerMTok: 300_000, outputPerMTok: 15_000_000},
	"claude-haiku-4-5-20251001":  {inputPerMTok: 1_000_000, cachedPerMTok: 100_000, outputPerMTok: 5_000_000},
	"gpt-4o-mini":                {inputPerMTok: 150_000, cachedPerMTok: 75_000, outputPerMTok: 600_000},
}

var defaultPrice = modelPrice{inputPerMTok: 3_000_000, cachedPerMTok: 300_000, outputPerMTok: 15_000_000}

// CostMicroUSD computes one call's spend. batch halves the total,
// reflecting provider batch-API discounts.
func CostMicroUSD(model string, usage Usage, batch bool) int64 {
	price, ok := modelPrices[model]
	if !ok {
		price = defaultPrice
	}

	cost := int64(usage.InputTokens)*price.inputPerMTok +
		int64(usage.CachedInputTokens)*price.cachedPerMTok +
		int64(usage.OutputTokens)*price.outputPerMTok
	cost /= 1_000_000
	if batch {
		cost /= 2
	}
	return cost
}
