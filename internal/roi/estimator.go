package roi

import (
	"github.com/shopspring/decimal"

	"flipwatch/internal/config"
)

// SourceCosts are the effective thresholds and cost assumptions for one
// listing source after per-source overrides are applied.
type SourceCosts struct {
	MinProfit    decimal.Decimal
	MinROI       decimal.Decimal
	OutboundShip decimal.Decimal
	InboundShip  decimal.Decimal
	FeeRate      decimal.Decimal
}

// FeeModel resolves per-source overrides over the global defaults.
type FeeModel struct {
	defaults  SourceCosts
	perSource map[string]config.SourceOverride
}

// NewFeeModel builds a FeeModel from pricing configuration.
func NewFeeModel(cfg config.PricingConfig) FeeModel {
	return FeeModel{
		defaults: SourceCosts{
			MinProfit:    decimal.NewFromFloat(cfg.MinProfit),
			MinROI:       decimal.NewFromFloat(cfg.MinROI),
			OutboundShip: decimal.NewFromFloat(cfg.OutboundShip),
			InboundShip:  decimal.NewFromFloat(cfg.InboundShip),
			FeeRate:      decimal.NewFromFloat(cfg.FeeRate),
		},
		perSource: cfg.PerSource,
	}
}

// ForSource returns the effective costs for a source. Cost overrides
// (fee rate, shipping) replace the defaults; threshold overrides only
// tighten, the effective minimum is the greater of global and per-source.
func (m FeeModel) ForSource(source string) SourceCosts {
	costs := m.defaults
	if source == "" {
		return costs
	}

	override, ok := m.perSource[source]
	if !ok {
		return costs
	}

	if override.MinProfit != nil {
		if v := decimal.NewFromFloat(*override.MinProfit); v.GreaterThan(costs.MinProfit) {
			costs.MinProfit = v
		}
	}
	if override.MinROI != nil {
		if v := decimal.NewFromFloat(*override.MinROI); v.GreaterThan(costs.MinROI) {
			costs.MinROI = v
		}
	}
	if override.OutboundShip != nil {
		costs.OutboundShip = decimal.NewFromFloat(*override.OutboundShip)
	}
	if override.FeeRate != nil {
		costs.FeeRate = decimal.NewFromFloat(*override.FeeRate)
	}
	return costs
}

// Money rounds to the smallest currency unit, half up.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Estimate converts an ask price and a comps median into fees, purchase
// cost, profit, and ROI. Fees are modelled against expected resale, not
// purchase price. ROI is zero when the purchase cost is not positive; the
// function never fails.
func Estimate(askPrice, compsMedian decimal.Decimal, costs SourceCosts) (fees, purchaseCost, profit, roi decimal.Decimal) {
	fees = Money(compsMedian.Mul(costs.FeeRate))
	purchaseCost = askPrice.Add(costs.InboundShip)
	profit = Money(compsMedian.Sub(fees).Sub(costs.OutboundShip).Sub(purchaseCost))

	if purchaseCost.IsPositive() {
		roi = profit.Div(purchaseCost)
	} else {
		roi = decimal.Zero
	}
	return fees, purchaseCost, profit, roi
}
