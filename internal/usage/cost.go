package usage

import (
	"math"

	"genrouter/internal/core"
)

// CostPrecision is the number of decimal places costs are rounded to.
const CostPrecision = 6

// Price converts token counts into USD using the price table of the adapter
// that served the call. Negative inputs are treated as zero.
func Price(pricing core.Pricing, tokensInput, tokensOutput int) float64 {
	in := math.Max(float64(tokensInput), 0) * math.Max(pricing.InputPerToken, 0)
	out := math.Max(float64(tokensOutput), 0) * math.Max(pricing.OutputPerToken, 0)
	return RoundUSD(in + out)
}

// RoundUSD rounds v half away from zero to CostPrecision decimal places.
func RoundUSD(v float64) float64 {
	scale := math.Pow10(CostPrecision)
	return math.Round(v*scale) / scale
}

// PerMillion converts a price quoted per 1M tokens into a per-token price.
func PerMillion(usdPer1M float64) float64 {
	return usdPer1M / 1_000_000
}
