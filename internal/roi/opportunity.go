package roi

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"flipwatch/internal/storage"
	"flipwatch/internal/valuation"
)

// Opportunity pairs a listing with a resolved comp and computed economics.
// It is rebuilt fresh every tick and never mutated.
type Opportunity struct {
	Source       string
	ExternalID   string
	Title        string
	URL          string
	ModelKey     string
	CompsSamples int
	CompsMedian  decimal.Decimal
	PurchaseCost decimal.Decimal
	OutboundShip decimal.Decimal
	Fees         decimal.Decimal
	Profit       decimal.Decimal
	Roi          decimal.Decimal
	EndTime      *time.Time
	TimeLeftS    *int
}

// MaxBidCap is the alert-row bid ceiling: resale minus fees and shipping.
func (o Opportunity) MaxBidCap() decimal.Decimal {
	return Money(o.CompsMedian.Sub(o.Fees).Sub(o.OutboundShip))
}

// RoiPct renders ROI as a percentage for logs and emails.
func (o Opportunity) RoiPct() float64 {
	return o.Roi.InexactFloat64() * 100.0
}

// LogLine renders the one-line operator summary.
func (o Opportunity) LogLine() string {
	title := o.Title
	if len(title) > 80 {
		title = title[:80]
	}
	return fmt.Sprintf(
		"[ROI] %s | buy %s -> sell %s | fees %s | ship %s | PROFIT %s (%.1f%% ROI) | comps n=%d | %s",
		title,
		o.PurchaseCost.StringFixed(2),
		o.CompsMedian.StringFixed(2),
		o.Fees.StringFixed(2),
		o.OutboundShip.StringFixed(2),
		o.Profit.StringFixed(2),
		o.RoiPct(),
		o.CompsSamples,
		o.URL,
	)
}

// BuildOpportunities evaluates every listing with an investible model_key
// against the comps snapshot. Listings without a resolvable comp or with
// too few samples are silently excluded; this is the full set that gets
// roi_estimate/max_bid persisted, independent of alert eligibility.
func BuildOpportunities(listings []storage.Listing, resolver *valuation.Resolver, model FeeModel, minSamples int) []Opportunity {
	out := make([]Opportunity, 0, len(listings))

	for _, li := range listings {
		if !valuation.Investible(li.ModelKey) {
			continue
		}

		comp, median, ok := resolver.Resolve(*li.ModelKey)
		if !ok {
			continue
		}
		if comp.Samples < minSamples || !median.IsPositive() {
			continue
		}

		costs := model.ForSource(li.Source)
		fees, purchaseCost, profit, roi := Estimate(li.PriceCurrent, median, costs)

		out = append(out, Opportunity{
			Source:       li.Source,
			ExternalID:   li.ExternalID,
			Title:        li.Title,
			URL:          li.URL,
			ModelKey:     *li.ModelKey,
			CompsSamples: comp.Samples,
			CompsMedian:  Money(median),
			PurchaseCost: Money(purchaseCost),
			OutboundShip: Money(costs.OutboundShip),
			Fees:         fees,
			Profit:       profit,
			Roi:          roi,
			EndTime:      li.EndTime,
			TimeLeftS:    li.TimeLeftS,
		})
	}

	return out
}

// Shortlist filters opportunities to those clearing the per-source profit
// and ROI minimums, sorted descending by (profit, roi). Absolute return
// drives purchase decisions more than relative return at this scale, so
// profit is the primary key.
func Shortlist(opps []Opportunity, model FeeModel) []Opportunity {
	out := make([]Opportunity, 0, len(opps))
	for _, op := range opps {
		costs := model.ForSource(op.Source)
		if op.Profit.GreaterThanOrEqual(costs.MinProfit) && op.Roi.GreaterThanOrEqual(costs.MinROI) {
			out = append(out, op)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Profit.Equal(out[j].Profit) {
			return out[i].Profit.GreaterThan(out[j].Profit)
		}
		return out[i].Roi.GreaterThan(out[j].Roi)
	})

	return out
}

// HumaniseTimeLeft renders the remaining lifetime for emails: "unknown",
// "expired", "42 mins", "3h", or "3h 5m".
func HumaniseTimeLeft(endTime *time.Time, now time.Time) string {
	if endTime == nil {
		return "unknown"
	}

	totalMinutes := int(endTime.Sub(now).Minutes())
	if totalMinutes <= 0 {
		return "expired"
	}
	if totalMinutes < 60 {
		return fmt.Sprintf("%d mins", totalMinutes)
	}

	hours := totalMinutes / 60
	mins := totalMinutes % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
