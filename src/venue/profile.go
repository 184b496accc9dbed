package venue

import "orderengine/src/model"

// profile describes how a venue prices: a uniform multiplier band around the
// base price, a fixed fee fraction and a liquidity range.
type profile struct {
	minMultiplier float64
	maxMultiplier float64
	fee           float64
	minLiquidity  float64
	liquiditySpan float64
}

var profiles = map[model.Venue]profile{
	model.VenueRaydium: {minMultiplier: 0.98, maxMultiplier: 1.02, fee: 0.003, minLiquidity: 1_000_000, liquiditySpan: 500_000},
	model.VenueMeteora: {minMultiplier: 0.97, maxMultiplier: 1.03, fee: 0.002, minLiquidity: 800_000, liquiditySpan: 600_000},
}

// Venues lists the simulated venues in query order.
func Venues() []model.Venue {
	return []model.Venue{model.VenueRaydium, model.VenueMeteora}
}

// FeeFor returns the fixed fee fraction of v.
func FeeFor(v model.Venue) (float64, bool) {
	p, ok := profiles[v]
	return p.fee, ok
}
