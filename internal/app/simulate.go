package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"flipwatch/internal/roi"
)

// Simulate feeds a synthetic ask/median pair through the fee model and
// prints the shortlist verdict. With SendMail it also dispatches a test
// email through the configured SMTP transport.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Ask <= 0 || opts.Median <= 0 {
		return errors.New("--ask and --median must be greater than zero")
	}

	ask := decimal.NewFromFloat(opts.Ask)
	median := decimal.NewFromFloat(opts.Median)

	model := roi.NewFeeModel(a.Config.Pricing)
	costs := model.ForSource(opts.Source)
	fees, purchaseCost, profit, roiEstimate := roi.Estimate(ask, median, costs)

	qualifies := profit.GreaterThanOrEqual(costs.MinProfit) && roiEstimate.GreaterThanOrEqual(costs.MinROI)
	verdict := "below shortlist thresholds"
	if qualifies {
		verdict = "qualifies for the shortlist"
	}

	fmt.Fprintf(os.Stdout, "Ask:            %s\n", ask.StringFixed(2))
	fmt.Fprintf(os.Stdout, "Median resale:  %s\n", median.StringFixed(2))
	fmt.Fprintf(os.Stdout, "Fees:           %s\n", fees.StringFixed(2))
	fmt.Fprintf(os.Stdout, "Outbound ship:  %s\n", costs.OutboundShip.StringFixed(2))
	fmt.Fprintf(os.Stdout, "Purchase cost:  %s\n", purchaseCost.StringFixed(2))
	fmt.Fprintf(os.Stdout, "Profit:         %s\n", profit.StringFixed(2))
	fmt.Fprintf(os.Stdout, "ROI:            %.1f%%\n", roiEstimate.InexactFloat64()*100.0)
	fmt.Fprintf(os.Stdout, "Verdict:        %s\n", verdict)

	if !opts.SendMail {
		return nil
	}

	m := a.newMailer()
	if m == nil {
		return errors.New("mail not enabled; cannot send test email")
	}

	subject := fmt.Sprintf("Simulated %.0f%% ROI (profit %s)", roiEstimate.InexactFloat64()*100.0, profit.StringFixed(0))
	body := fmt.Sprintf(
		"Simulated opportunity\n\nAsk: %s\nMedian resale: %s\nFees: %s\nProfit: %s\nROI: %.1f%%\nVerdict: %s\n",
		ask.StringFixed(2),
		median.StringFixed(2),
		fees.StringFixed(2),
		profit.StringFixed(2),
		roiEstimate.InexactFloat64()*100.0,
		verdict,
	)
	return m.Send(ctx, subject, body, a.Config.Mail.To, false)
}
