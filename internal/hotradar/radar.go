package hotradar

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flipwatch/internal/config"
	"flipwatch/internal/mailer"
	"flipwatch/internal/storage"
	"flipwatch/internal/valuation"
)

// Radar scans listings ending within the configured horizon, scores them
// against comps, records alerts idempotently through the shared alert
// table, and emails first-time creations up to a per-tick cap.
type Radar struct {
	listings storage.ListingStore
	alerts   storage.AlertStore
	mailer   mailer.Mailer
	logger   zerolog.Logger
	cfg      config.HotRadarConfig
	to       string
}

// New constructs a Radar.
func New(listings storage.ListingStore, alerts storage.AlertStore, m mailer.Mailer, cfg config.HotRadarConfig, to string, logger zerolog.Logger) *Radar {
	return &Radar{
		listings: listings,
		alerts:   alerts,
		mailer:   m,
		logger:   logger.With().Str("component", "hot_radar").Logger(),
		cfg:      cfg,
		to:       to,
	}
}

type tickStats struct {
	fetched              int
	scored               int
	alertsCreated        int
	alertsUpdated        int
	emailsSent           int
	skippedNotInvestible int
	skippedNoComp        int
	skippedLowSamples    int
	skippedBelowCutoff   int
	emailFailures        int
}

// Process runs one radar pass over the ending-soon window.
func (r *Radar) Process(ctx context.Context, comps map[string]storage.Comp) error {
	rows, err := r.listings.FetchEndingSoon(ctx, r.cfg.Window)
	if err != nil {
		return fmt.Errorf("fetch ending soon: %w", err)
	}

	stats := tickStats{fetched: len(rows)}
	if len(rows) == 0 {
		r.logger.Info().Dur("window", r.cfg.Window).Msg("no live auctions ending within window")
		return nil
	}

	for _, listing := range rows {
		if !valuation.Investible(listing.ModelKey) {
			stats.skippedNotInvestible++
			continue
		}

		comp, ok := comps[*listing.ModelKey]
		if !ok {
			stats.skippedNoComp++
			continue
		}
		if comp.Samples < r.cfg.MinCompSamples {
			stats.skippedLowSamples++
			continue
		}

		score := Score(listing, comp)
		stats.scored++
		if score < r.cfg.Threshold {
			stats.skippedBelowCutoff++
			continue
		}

		r.handleHit(ctx, listing, comp, score, &stats)
	}

	r.logger.Info().
		Int("fetched", stats.fetched).
		Int("scored", stats.scored).
		Int("alerts_created", stats.alertsCreated).
		Int("alerts_updated", stats.alertsUpdated).
		Int("emails_sent", stats.emailsSent).
		Int("skipped_not_investible", stats.skippedNotInvestible).
		Int("skipped_no_comp", stats.skippedNoComp).
		Int("skipped_low_samples", stats.skippedLowSamples).
		Int("skipped_below_cutoff", stats.skippedBelowCutoff).
		Int("email_failures", stats.emailFailures).
		Msg("hot radar pass complete")
	return nil
}

func (r *Radar) handleHit(ctx context.Context, listing storage.Listing, comp storage.Comp, score float64, stats *tickStats) {
	maxBid := SuggestMaxBid(comp.MedianFinalPrice)

	median := comp.MedianFinalPrice.InexactFloat64()
	price := listing.PriceCurrent.InexactFloat64()
	roiPct := 0.0
	if median > 0 {
		roiPct = (median - price) / median * 100.0
	}

	result, err := r.alerts.UpsertAlert(ctx, listing.ExternalID, decimal.NewFromFloat(score), maxBid)
	if err != nil {
		r.logger.Warn().Err(err).Str("external_id", listing.ExternalID).Msg("alert upsert failed")
		return
	}
	if result.CreatedNow {
		stats.alertsCreated++
	} else {
		stats.alertsUpdated++
	}

	timeLeft := 0
	if listing.TimeLeftS != nil {
		timeLeft = *listing.TimeLeftS
	}
	r.logger.Info().
		Str("model_key", *listing.ModelKey).
		Float64("score", score).
		Float64("roi_pct", roiPct).
		Str("fair", comp.MedianFinalPrice.StringFixed(2)).
		Str("current", listing.PriceCurrent.StringFixed(2)).
		Str("max_bid", maxBid.StringFixed(2)).
		Int("time_left_s", timeLeft).
		Str("url", listing.URL).
		Msg("hot listing scored")

	// Only the first creation of a steal is worth an immediate email.
	if !result.CreatedNow || r.mailer == nil {
		return
	}
	if stats.emailsSent >= r.cfg.MaxEmailsPerTick {
		r.logger.Warn().Int("cap", r.cfg.MaxEmailsPerTick).Msg("email cap reached this tick; skipping further emails")
		return
	}

	subject := fmt.Sprintf("%s %s - score %.2f", r.cfg.SubjectPrefix, *listing.ModelKey, score)
	body := composeBody(listing, comp, maxBid, roiPct)

	if err := r.mailer.Send(ctx, subject, body, r.to, false); err != nil {
		stats.emailFailures++
		r.logger.Warn().Err(err).Str("external_id", listing.ExternalID).Msg("hot radar email failed")
		return
	}
	if err := r.alerts.MarkAlertSent(ctx, result.ID); err != nil {
		r.logger.Warn().Err(err).Int64("alert_id", result.ID).Msg("mark alert sent failed")
	}
	stats.emailsSent++
	r.logger.Info().Str("external_id", listing.ExternalID).Int("sent_this_tick", stats.emailsSent).Msg("hot radar email sent")
}

func composeBody(listing storage.Listing, comp storage.Comp, maxBid decimal.Decimal, roiPct float64) string {
	endsAt := "unknown"
	if listing.EndTime != nil {
		endsAt = listing.EndTime.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf(
		"Model: %s\nTitle: %s\nURL: %s\n\nCurrent: %s\nMedian fair: %s\nROI vs median: %.1f%%\nSuggested max bid: %s\nEnds: %s\nBids: %d\n",
		*listing.ModelKey,
		listing.Title,
		listing.URL,
		listing.PriceCurrent.StringFixed(2),
		comp.MedianFinalPrice.StringFixed(2),
		roiPct,
		maxBid.StringFixed(2),
		endsAt,
		listing.BidsCount,
	)
}
