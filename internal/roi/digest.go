package roi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flipwatch/internal/config"
	"flipwatch/internal/mailer"
	"flipwatch/internal/storage"
)

// DigestBatcher upserts shortlist survivors into the shared alert table
// and emails a throttled HTML summary of first-time creations. The
// cooldown watermark is a durable alert_state row, so it survives
// restarts and is shared between cooperating workers.
type DigestBatcher struct {
	alerts  storage.AlertStore
	state   storage.AlertStateStore
	mailer  mailer.Mailer
	logger  zerolog.Logger
	cfg     config.DigestConfig
	to      string
	minProf float64
}

// NewDigestBatcher wires the alert stores and mailer.
func NewDigestBatcher(alerts storage.AlertStore, state storage.AlertStateStore, m mailer.Mailer, cfg config.DigestConfig, minProfit float64, to string, logger zerolog.Logger) *DigestBatcher {
	return &DigestBatcher{
		alerts:  alerts,
		state:   state,
		mailer:  m,
		logger:  logger.With().Str("component", "roi_digest").Logger(),
		cfg:     cfg,
		to:      to,
		minProf: minProfit,
	}
}

// Process records an alert row for every shortlist survivor and, cooldown
// permitting, emails the newly created ones that are still live.
func (b *DigestBatcher) Process(ctx context.Context, now time.Time, shortlist []Opportunity) {
	if len(shortlist) == 0 {
		return
	}

	newlyCreated := make([]Opportunity, 0, len(shortlist))
	for _, op := range shortlist {
		result, err := b.alerts.UpsertAlert(ctx, op.ExternalID, op.Profit, op.MaxBidCap())
		if err != nil {
			b.logger.Warn().Err(err).Str("external_id", op.ExternalID).Msg("alert upsert failed")
			continue
		}
		if result.CreatedNow {
			newlyCreated = append(newlyCreated, op)
		}
	}

	if !b.cfg.Enabled || b.mailer == nil {
		return
	}

	// Only listings that can still be bought belong in the digest.
	live := make([]Opportunity, 0, len(newlyCreated))
	for _, op := range newlyCreated {
		if op.EndTime == nil || op.EndTime.After(now) {
			live = append(live, op)
		}
	}
	if len(live) == 0 {
		b.logger.Debug().Msg("no newly created live opportunities to email")
		return
	}

	lastSent, err := b.state.AlertLastSent(ctx, b.cfg.Name)
	if err != nil {
		b.logger.Warn().Err(err).Str("alert", b.cfg.Name).Msg("digest watermark read failed")
		return
	}
	if lastSent != nil && now.Sub(*lastSent) < b.cfg.Cooldown {
		b.logger.Info().
			Dur("cooldown", b.cfg.Cooldown).
			Time("last_sent", *lastSent).
			Msg("skipping digest email (cooldown not reached)")
		return
	}

	subject := fmt.Sprintf("ROI Listings: %d new high-ROI deals (profit >= %.0f)", len(live), b.minProf)
	body := renderDigestHTML(live, b.cfg.MaxItems)

	if err := b.mailer.Send(ctx, subject, body, b.to, true); err != nil {
		b.logger.Error().Err(err).Msg("digest email failed")
		return
	}

	if err := b.state.SetAlertLastSent(ctx, b.cfg.Name, now); err != nil {
		b.logger.Warn().Err(err).Str("alert", b.cfg.Name).Msg("digest watermark update failed")
	}
	b.logger.Info().Int("items", len(live)).Msg("digest email sent")
}

func renderDigestHTML(opps []Opportunity, maxItems int) string {
	rows := make([]string, 0, maxItems+1)

	count := len(opps)
	if count > maxItems {
		count = maxItems
	}

	for _, op := range opps[:count] {
		rows = append(rows, fmt.Sprintf(
			`<p style="margin-bottom:12px;font-family:system-ui,Arial,sans-serif;font-size:14px;line-height:1.4;">`+
				`<a href="%s" style="color:#0b65c2;text-decoration:none;font-weight:600;">%s</a><br>`+
				`Buy %s -&gt; Sell %s | Fees %s | Ship %s | <strong>Profit %s</strong> (%.0f%% ROI) | comps n=%d</p>`,
			op.URL,
			op.Title,
			op.PurchaseCost.StringFixed(2),
			op.CompsMedian.StringFixed(2),
			op.Fees.StringFixed(2),
			op.OutboundShip.StringFixed(2),
			op.Profit.StringFixed(2),
			op.RoiPct(),
			op.CompsSamples,
		))
	}

	if len(opps) > maxItems {
		rows = append(rows, fmt.Sprintf(
			`<p style="font-family:system-ui,Arial,sans-serif;font-size:13px;color:#666;">... and %d more.</p>`,
			len(opps)-maxItems,
		))
	}

	return `<div style="font-family:system-ui,Arial,sans-serif;color:#111;font-size:14px;line-height:1.45;">` +
		`<h2 style="margin:0 0 16px;font-size:16px;line-height:1.3;">High-ROI listings</h2>` +
		strings.Join(rows, "") +
		`</div>`
}
