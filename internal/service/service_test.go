package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flipwatch/internal/config"
	"flipwatch/internal/storage"
)

type fakeListings struct {
	active    []storage.Listing
	estimates []storage.ListingEstimate
}

func (f *fakeListings) FetchActiveListings(ctx context.Context) ([]storage.Listing, error) {
	return f.active, nil
}

func (f *fakeListings) FetchEndingSoon(ctx context.Context, window time.Duration) ([]storage.Listing, error) {
	return nil, nil
}

func (f *fakeListings) UpdateEstimates(ctx context.Context, estimates []storage.ListingEstimate) error {
	f.estimates = append(f.estimates, estimates...)
	return nil
}

type fakeComps struct {
	comps map[string]storage.Comp
}

func (f *fakeComps) LatestCompComputedAt(ctx context.Context) (*time.Time, error) {
	return nil, nil
}

func (f *fakeComps) RebuildComps(ctx context.Context, windowDays, keepPerKey int) (int64, error) {
	return 0, nil
}

func (f *fakeComps) LatestComps(ctx context.Context) (map[string]storage.Comp, error) {
	return f.comps, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 5 * time.Minute},
		Pricing: config.PricingConfig{
			FeeRate:        0.13,
			OutboundShip:   7.0,
			MinProfit:      50.0,
			MinROI:         0.25,
			MinCompSamples: 3,
			TopN:           20,
		},
	}
}

func TestProcessTickPersistsEstimates(t *testing.T) {
	modelKey := "widget_A"
	listings := &fakeListings{active: []storage.Listing{{
		Source:       "ebay",
		ExternalID:   "l1",
		Title:        "item",
		URL:          "https://example.com/l1",
		ModelKey:     &modelKey,
		PriceCurrent: decimal.NewFromInt(100),
		Status:       "active",
	}}}
	compStore := &fakeComps{comps: map[string]storage.Comp{
		"widget_A": {ModelKey: "widget_A", MedianFinalPrice: decimal.NewFromInt(200), Samples: 5},
	}}

	svc := New(testConfig(), nil, listings, compStore, nil, nil, nil, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(listings.estimates) != 1 {
		t.Fatalf("expected 1 estimate, got %d", len(listings.estimates))
	}
	est := listings.estimates[0]
	if est.ExternalID != "l1" {
		t.Fatalf("unexpected external id: %s", est.ExternalID)
	}
	if !est.Roi.Equal(decimal.NewFromFloat(0.67)) {
		t.Fatalf("roi = %s, want 0.67", est.Roi)
	}
	if !est.MaxBid.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("max bid = %s, want 160 (0.8 x median)", est.MaxBid)
	}
}

func TestProcessTickNoOpportunities(t *testing.T) {
	listings := &fakeListings{}
	compStore := &fakeComps{comps: map[string]storage.Comp{}}

	svc := New(testConfig(), nil, listings, compStore, nil, nil, nil, nil, zerolog.Nop())

	if err := svc.ProcessTick(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listings.estimates) != 0 {
		t.Fatalf("no estimates expected, got %d", len(listings.estimates))
	}
}

func TestRunWithoutScheduler(t *testing.T) {
	svc := New(testConfig(), nil, &fakeListings{}, &fakeComps{}, nil, nil, nil, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("Run without a scheduler must error")
	}
}
