package hotradar

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"flipwatch/internal/storage"
)

func intPtr(v int) *int { return &v }

func listingWith(price int64, bids int, timeLeftS *int) storage.Listing {
	return storage.Listing{
		ExternalID:   "l1",
		PriceCurrent: decimal.NewFromInt(price),
		BidsCount:    bids,
		TimeLeftS:    timeLeftS,
	}
}

func compWith(median int64) storage.Comp {
	return storage.Comp{ModelKey: "widget_A", MedianFinalPrice: decimal.NewFromInt(median), Samples: 5}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreNoMargin(t *testing.T) {
	if got := Score(listingWith(200, 0, intPtr(1800)), compWith(200)); got != 0 {
		t.Fatalf("zero margin must score 0, got %f", got)
	}
	if got := Score(listingWith(250, 0, intPtr(1800)), compWith(200)); got != 0 {
		t.Fatalf("negative margin must score 0, got %f", got)
	}
}

func TestScoreUrgencyTiers(t *testing.T) {
	// Half-price listing: margin score 0.5.
	cases := []struct {
		timeLeft *int
		want     float64
	}{
		{intPtr(1800), 0.6*0.5 + 0.3*1.0},  // 30 min
		{intPtr(3 * 3600), 0.6*0.5 + 0.3*0.6}, // 3 h
		{intPtr(12 * 3600), 0.6*0.5 + 0.3*0.2}, // 12 h
		{intPtr(48 * 3600), 0.6 * 0.5}, // beyond a day
		{nil, 0.6 * 0.5},
	}
	for _, tc := range cases {
		got := Score(listingWith(100, 0, tc.timeLeft), compWith(200))
		if !almostEqual(got, tc.want) {
			t.Fatalf("score with timeLeft %v = %f, want %f", tc.timeLeft, got, tc.want)
		}
	}
}

func TestScoreBidsPenalty(t *testing.T) {
	base := Score(listingWith(100, 0, intPtr(1800)), compWith(200))
	contested := Score(listingWith(100, 10, intPtr(1800)), compWith(200))
	if !almostEqual(base-contested, 0.5*0.5) {
		t.Fatalf("10 bids should cost 0.25, base %f contested %f", base, contested)
	}

	// Heavy bidding drives the score negative; it must clamp at zero.
	if got := Score(listingWith(190, 40, nil), compWith(200)); got != 0 {
		t.Fatalf("clamped score = %f, want 0", got)
	}
}

func TestSuggestMaxBid(t *testing.T) {
	// 200*0.82 = 164; fees 164*0.13 = 21.32; 164 - 21.32 - 8 - 5 = 129.68
	got := SuggestMaxBid(decimal.NewFromInt(200))
	if !got.Equal(decimal.NewFromFloat(129.68)) {
		t.Fatalf("SuggestMaxBid(200) = %s, want 129.68", got)
	}

	if got := SuggestMaxBid(decimal.NewFromInt(10)); !got.IsZero() {
		t.Fatalf("tiny fair price must floor at zero, got %s", got)
	}
}
