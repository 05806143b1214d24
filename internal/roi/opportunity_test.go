package roi

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flipwatch/internal/config"
	"flipwatch/internal/storage"
	"flipwatch/internal/valuation"
)

func strPtr(s string) *string { return &s }

func testListing(externalID, modelKey string, price int64) storage.Listing {
	return storage.Listing{
		Source:       "ebay",
		ExternalID:   externalID,
		Title:        "listing " + externalID,
		URL:          "https://example.com/" + externalID,
		ModelKey:     strPtr(modelKey),
		PriceCurrent: decimal.NewFromInt(price),
		Status:       "active",
	}
}

func TestBuildOpportunitiesFilters(t *testing.T) {
	resolver := valuation.NewResolver(map[string]storage.Comp{
		"widget_A": {ModelKey: "widget_A", MedianFinalPrice: decimal.NewFromInt(200), Samples: 5},
		"thin_A":   {ModelKey: "thin_A", MedianFinalPrice: decimal.NewFromInt(200), Samples: 2},
	})
	model := NewFeeModel(defaultPricing())

	listings := []storage.Listing{
		testListing("l1", "widget_A", 100),
		testListing("l2", "thin_A", 100),    // too few samples
		testListing("l3", "missing_A", 100), // no comp
		testListing("l4", "unknown", 100),   // not investible
		{Source: "ebay", ExternalID: "l5", PriceCurrent: decimal.NewFromInt(100), Status: "active"}, // nil model_key
	}

	opps := BuildOpportunities(listings, resolver, model, 3)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}

	op := opps[0]
	if op.ExternalID != "l1" {
		t.Fatalf("unexpected opportunity: %s", op.ExternalID)
	}
	if !op.Profit.Equal(decimal.NewFromInt(67)) {
		t.Fatalf("profit = %s, want 67", op.Profit)
	}
	if !op.Roi.Equal(decimal.NewFromFloat(0.67)) {
		t.Fatalf("roi = %s, want 0.67", op.Roi)
	}
	if !op.MaxBidCap().Equal(decimal.NewFromInt(167)) {
		t.Fatalf("max bid cap = %s, want 167", op.MaxBidCap())
	}
}

func TestShortlistThresholdsAndOrder(t *testing.T) {
	resolver := valuation.NewResolver(map[string]storage.Comp{
		"widget_A": {ModelKey: "widget_A", MedianFinalPrice: decimal.NewFromInt(200), Samples: 5},
		"gadget_A": {ModelKey: "gadget_A", MedianFinalPrice: decimal.NewFromInt(120), Samples: 5},
		"bigger_A": {ModelKey: "bigger_A", MedianFinalPrice: decimal.NewFromInt(400), Samples: 5},
	})
	model := NewFeeModel(defaultPricing())

	listings := []storage.Listing{
		testListing("small", "widget_A", 100),  // profit 67
		testListing("weak", "gadget_A", 100),   // profit below minimum
		testListing("large", "bigger_A", 100),  // profit 241
	}

	opps := BuildOpportunities(listings, resolver, model, 3)
	if len(opps) != 3 {
		t.Fatalf("expected 3 opportunities, got %d", len(opps))
	}

	shortlist := Shortlist(opps, model)
	if len(shortlist) != 2 {
		t.Fatalf("expected 2 shortlisted, got %d", len(shortlist))
	}
	if shortlist[0].ExternalID != "large" || shortlist[1].ExternalID != "small" {
		t.Fatalf("shortlist not ordered by profit: %s, %s", shortlist[0].ExternalID, shortlist[1].ExternalID)
	}
}

func TestShortlistLoosePerSourceOverrideStillExcludes(t *testing.T) {
	minProfit := 10.0
	minROI := 0.05

	cfg := defaultPricing()
	cfg.PerSource = map[string]config.SourceOverride{
		"ebay": {MinProfit: &minProfit, MinROI: &minROI},
	}
	model := NewFeeModel(cfg)

	op := Opportunity{
		Source:       "ebay",
		ExternalID:   "l1",
		CompsSamples: 5,
		Profit:       decimal.NewFromInt(20),
		Roi:          decimal.NewFromFloat(0.10),
	}

	if got := Shortlist([]Opportunity{op}, model); len(got) != 0 {
		t.Fatalf("profit 20 is below the global minimum of 50 and must stay excluded, got %d", len(got))
	}
}

func TestHumaniseTimeLeft(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := HumaniseTimeLeft(nil, now); got != "unknown" {
		t.Fatalf("nil end time = %q, want unknown", got)
	}

	past := now.Add(-time.Minute)
	if got := HumaniseTimeLeft(&past, now); got != "expired" {
		t.Fatalf("past end time = %q, want expired", got)
	}

	in42 := now.Add(42 * time.Minute)
	if got := HumaniseTimeLeft(&in42, now); got != "42 mins" {
		t.Fatalf("42 minutes = %q", got)
	}

	in3h := now.Add(3 * time.Hour)
	if got := HumaniseTimeLeft(&in3h, now); got != "3h" {
		t.Fatalf("3 hours = %q", got)
	}

	in3h5m := now.Add(3*time.Hour + 5*time.Minute)
	if got := HumaniseTimeLeft(&in3h5m, now); got != "3h 5m" {
		t.Fatalf("3h5m = %q", got)
	}
}
