package roi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flipwatch/internal/config"
	"flipwatch/internal/mailer"
	"flipwatch/internal/storage"
)

const (
	markerNewHigh = "new_high"
	markerSiren   = "siren"
)

func bucketMarker(bucket int64) string {
	return fmt.Sprintf("bucket_%d", bucket)
}

// MarkerEngine is the idempotent multi-tier alert state machine. new_high
// and bucket markers are one-shot per listing; siren repeats once its
// cooldown elapses. Each opportunity's snapshot and fired markers commit
// in one transaction, and email goes out only after that commit.
type MarkerEngine struct {
	store  storage.MarkerStore
	mailer mailer.Mailer
	logger zerolog.Logger
	to     string

	newHighMinProfit decimal.Decimal
	newHighMinROI    decimal.Decimal
	bucketStep       decimal.Decimal
	bucketMinProfit  decimal.Decimal
	bucketMinROI     decimal.Decimal
	sirenWindow      time.Duration
	sirenMinProfit   decimal.Decimal
	sirenMinROI      decimal.Decimal
	sirenCooldown    time.Duration
}

// NewMarkerEngine wires the marker store and mailer with milestone
// thresholds. Bucket milestones gate on the normal shortlist minimums.
func NewMarkerEngine(store storage.MarkerStore, m mailer.Mailer, milestones config.MilestonesConfig, pricing config.PricingConfig, to string, logger zerolog.Logger) *MarkerEngine {
	return &MarkerEngine{
		store:            store,
		mailer:           m,
		logger:           logger.With().Str("component", "roi_markers").Logger(),
		to:               to,
		newHighMinProfit: decimal.NewFromFloat(milestones.NewHighMinProfit),
		newHighMinROI:    decimal.NewFromFloat(milestones.NewHighMinROI),
		bucketStep:       decimal.NewFromFloat(milestones.BucketStep),
		bucketMinProfit:  decimal.NewFromFloat(pricing.MinProfit),
		bucketMinROI:     decimal.NewFromFloat(pricing.MinROI),
		sirenWindow:      milestones.SirenWindow,
		sirenMinProfit:   decimal.NewFromFloat(milestones.SirenMinProfit),
		sirenMinROI:      decimal.NewFromFloat(milestones.SirenMinROI),
		sirenCooldown:    milestones.SirenCooldown,
	}
}

// Process evaluates every opportunity. A failed item is logged and
// skipped; items already committed this tick survive.
func (e *MarkerEngine) Process(ctx context.Context, now time.Time, opps []Opportunity) {
	for _, op := range opps {
		e.processOne(ctx, now, op)
	}
}

func (e *MarkerEngine) processOne(ctx context.Context, now time.Time, op Opportunity) {
	snap := storage.RoiSnapshot{
		ExternalID:     op.ExternalID,
		Source:         op.Source,
		CurrentPrice:   op.PurchaseCost,
		RoiEstimate:    op.Roi,
		ProfitEstimate: op.Profit,
		TimeLeftS:      op.TimeLeftS,
	}
	if op.ModelKey != "" {
		modelKey := op.ModelKey
		snap.ModelKey = &modelKey
	}
	if op.EndTime != nil {
		endsAt := op.EndTime.UTC()
		snap.EndsAt = &endsAt
	}

	timeLeft := HumaniseTimeLeft(op.EndTime, now)
	markers, fired := e.decide(ctx, now, op, timeLeft)

	if err := e.store.CommitOpportunityTick(ctx, snap, markers); err != nil {
		e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Msg("opportunity tick commit failed")
		return
	}

	for _, send := range fired {
		send()
	}
}

// decide returns the markers to durably write plus the notifications to
// dispatch after commit. Ended and expired items get a snapshot only.
func (e *MarkerEngine) decide(ctx context.Context, now time.Time, op Opportunity, timeLeft string) ([]string, []func()) {
	if op.EndTime != nil && !op.EndTime.After(now) {
		return nil, nil
	}
	if timeLeft == "expired" {
		return nil, nil
	}

	markers := make([]string, 0, 3)
	fired := make([]func(), 0, 3)

	if op.Profit.GreaterThanOrEqual(e.newHighMinProfit) && op.Roi.GreaterThanOrEqual(e.newHighMinROI) {
		createdAt, err := e.store.MarkerCreatedAt(ctx, op.ExternalID, markerNewHigh)
		if err != nil {
			e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Msg("new_high marker lookup failed")
		} else if createdAt == nil {
			markers = append(markers, markerNewHigh)
			opCopy := op
			fired = append(fired, func() { e.sendNewHigh(ctx, opCopy, timeLeft) })
		}
	}

	if op.Profit.GreaterThanOrEqual(e.bucketMinProfit) && op.Roi.GreaterThanOrEqual(e.bucketMinROI) {
		bucket := op.Roi.Div(e.bucketStep).IntPart()
		marker := bucketMarker(bucket)
		createdAt, err := e.store.MarkerCreatedAt(ctx, op.ExternalID, marker)
		if err != nil {
			e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Str("marker", marker).Msg("bucket marker lookup failed")
		} else if createdAt == nil {
			markers = append(markers, marker)
			opCopy := op
			fired = append(fired, func() { e.sendBucket(ctx, opCopy, bucket, timeLeft) })
		}
	}

	if op.EndTime != nil && op.EndTime.Sub(now) <= e.sirenWindow &&
		op.Profit.GreaterThanOrEqual(e.sirenMinProfit) && op.Roi.GreaterThanOrEqual(e.sirenMinROI) {
		lastSiren, err := e.store.MarkerCreatedAt(ctx, op.ExternalID, markerSiren)
		if err != nil {
			e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Msg("siren marker lookup failed")
		} else if lastSiren == nil || now.Sub(*lastSiren) >= e.sirenCooldown {
			markers = append(markers, markerSiren)
			opCopy := op
			fired = append(fired, func() { e.sendSiren(ctx, opCopy, timeLeft) })
		}
	}

	return markers, fired
}

func (e *MarkerEngine) sendNewHigh(ctx context.Context, op Opportunity, timeLeft string) {
	if e.mailer == nil {
		return
	}
	subject := fmt.Sprintf("NEW %.0f%% ROI (profit %s) - %s", op.RoiPct(), op.Profit.StringFixed(0), truncateTitle(op.Title))
	if err := e.mailer.Send(ctx, subject, opportunityBody(op, timeLeft), e.to, false); err != nil {
		e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Msg("new_high email failed")
		return
	}
	e.logger.Info().Str("external_id", op.ExternalID).Str("subject", subject).Msg("new_high emailed")
}

func (e *MarkerEngine) sendBucket(ctx context.Context, op Opportunity, bucket int64, timeLeft string) {
	if e.mailer == nil {
		return
	}
	step := e.bucketStep.InexactFloat64() * 100.0
	bucketMin := float64(bucket) * step
	subject := fmt.Sprintf("ROI milestone %.0f%% (profit %s) - %s", op.RoiPct(), op.Profit.StringFixed(0), truncateTitle(op.Title))
	body := fmt.Sprintf(
		"Bucket: %d (covers roughly %.0f%%-%.0f%% in ROI steps of %.0f%%)\n%s",
		bucket, bucketMin, bucketMin+step, step,
		opportunityBody(op, timeLeft),
	)
	if err := e.mailer.Send(ctx, subject, body, e.to, false); err != nil {
		e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Int64("bucket", bucket).Msg("bucket email failed")
		return
	}
	e.logger.Info().Str("external_id", op.ExternalID).Int64("bucket", bucket).Msg("bucket milestone emailed")
}

func (e *MarkerEngine) sendSiren(ctx context.Context, op Opportunity, timeLeft string) {
	if e.mailer == nil {
		return
	}
	subject := fmt.Sprintf("SIREN %.0f%% ROI (profit %s) - %s - ends in %s - BID NOW",
		op.RoiPct(), op.Profit.StringFixed(0), truncateTitle(op.Title), timeLeft)
	if err := e.mailer.Send(ctx, subject, opportunityBody(op, timeLeft), e.to, false); err != nil {
		e.logger.Warn().Err(err).Str("external_id", op.ExternalID).Msg("siren email failed")
		return
	}
	e.logger.Info().Str("external_id", op.ExternalID).Str("subject", subject).Msg("siren emailed")
}

func opportunityBody(op Opportunity, timeLeft string) string {
	modelKey := op.ModelKey
	if modelKey == "" {
		modelKey = "-"
	}

	builder := strings.Builder{}
	builder.WriteString(op.Title + "\n\n")
	builder.WriteString(fmt.Sprintf("Source: %s\n", op.Source))
	builder.WriteString(fmt.Sprintf("URL: %s\n\n", op.URL))
	builder.WriteString(fmt.Sprintf("Current price: %s\n", op.PurchaseCost.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Median comps (resale): %s\n", op.CompsMedian.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Fees: %s | Outbound ship: %s\n", op.Fees.StringFixed(2), op.OutboundShip.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Estimated profit: %s\n", op.Profit.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("ROI: %.1f%%\n", op.RoiPct()))
	builder.WriteString(fmt.Sprintf("Time left: %s\n", timeLeft))
	builder.WriteString(fmt.Sprintf("Model key: %s\n", modelKey))
	builder.WriteString(fmt.Sprintf("Comps samples: %d\n", op.CompsSamples))
	return builder.String()
}

func truncateTitle(title string) string {
	if len(title) > 80 {
		return title[:80]
	}
	return title
}
