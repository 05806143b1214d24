package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is an upstream-owned marketplace listing row. This core only
// reads it and writes back roi_estimate/max_bid.
type Listing struct {
	Source       string
	ExternalID   string
	Title        string
	URL          string
	ModelKey     *string
	PriceCurrent decimal.Decimal
	BidsCount    int
	EndTime      *time.Time
	TimeLeftS    *int
	Status       string
}

// Comp holds aggregated realized-price statistics for one model_key.
type Comp struct {
	ModelKey         string
	MedianFinalPrice decimal.Decimal
	MeanFinalPrice   decimal.Decimal
	Samples          int
	ComputedAt       time.Time
}

// RoiSnapshot is one append-only per-tick valuation record.
type RoiSnapshot struct {
	ExternalID     string
	Source         string
	ModelKey       *string
	CurrentPrice   decimal.Decimal
	RoiEstimate    decimal.Decimal
	ProfitEstimate decimal.Decimal
	EndsAt         *time.Time
	TimeLeftS      *int
	CreatedAt      time.Time
}

// AlertRow is the shared per-listing alert record used by both the ROI
// shortlist and the hot radar.
type AlertRow struct {
	ID         int64
	ExternalID string
	Score      decimal.Decimal
	MaxBid     decimal.Decimal
	CreatedAt  time.Time
	UpdatedAt  time.Time
	SentAt     *time.Time
}

// AlertUpsert reports the outcome of an alert upsert. CreatedNow is true
// only when the row did not exist before.
type AlertUpsert struct {
	ID         int64
	CreatedNow bool
}

// AlertListingRow joins an alert to its live listing for display.
type AlertListingRow struct {
	ExternalID   string
	Score        decimal.Decimal
	MaxBid       decimal.Decimal
	CreatedAt    time.Time
	Title        string
	URL          string
	PriceCurrent decimal.Decimal
	ModelKey     *string
	EndTime      *time.Time
	TimeLeftS    *int
	Status       string
}

// ListingEstimate carries the per-tick write-back for one listing.
type ListingEstimate struct {
	ExternalID string
	Roi        decimal.Decimal
	MaxBid     decimal.Decimal
}
