// Package hotradar scores live listings that end within a short horizon.
// The score is an urgency-weighted discount heuristic, independent of the
// ROI pipeline's fee model.
package hotradar

import (
	"github.com/shopspring/decimal"

	"flipwatch/internal/storage"
)

// Score returns a value in [0, 1] where higher means a better deal: 60%
// discount vs. the comp median, 30% urgency, minus a penalty for bid
// activity (contested items are not hidden gems).
func Score(listing storage.Listing, comp storage.Comp) float64 {
	median := comp.MedianFinalPrice.InexactFloat64()
	price := listing.PriceCurrent.InexactFloat64()

	margin := median - price
	if margin <= 0 {
		return 0.0
	}

	denominator := median
	if denominator < 1e-6 {
		denominator = 1e-6
	}
	marginScore := margin / denominator
	if marginScore > 1.0 {
		marginScore = 1.0
	}

	urgency := 0.0
	if listing.TimeLeftS != nil {
		hours := float64(*listing.TimeLeftS) / 3600.0
		switch {
		case hours <= 1:
			urgency = 1.0
		case hours <= 4:
			urgency = 0.6
		case hours <= 24:
			urgency = 0.2
		}
	}

	bidsPenalty := float64(listing.BidsCount) / 20.0
	if bidsPenalty > 1.0 {
		bidsPenalty = 1.0
	}

	score := 0.6*marginScore + 0.3*urgency - 0.5*bidsPenalty
	if score < 0.0 {
		return 0.0
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// SuggestMaxBid is a rough bid ceiling: target a share of the fair price,
// then take off fees, postage, and a safety buffer.
func SuggestMaxBid(fairPrice decimal.Decimal) decimal.Decimal {
	takePct := decimal.NewFromFloat(0.82)
	feeRate := decimal.NewFromFloat(0.13)
	postage := decimal.NewFromInt(8)
	buffer := decimal.NewFromInt(5)

	target := fairPrice.Mul(takePct)
	fees := target.Mul(feeRate)
	bid := target.Sub(fees).Sub(postage).Sub(buffer).Round(2)
	if bid.IsNegative() {
		return decimal.Zero
	}
	return bid
}
