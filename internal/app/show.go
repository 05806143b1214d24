package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"flipwatch/internal/roi"
)

// Show prints the highest scored alerts still attached to live listings.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.TopLiveAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no live alerts found")
		return nil
	}

	now := time.Now().UTC()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "External ID\tModel\tScore\tMax bid\tPrice\tTime left\tCreated (UTC)\tTitle")

	for _, row := range rows {
		modelKey := "-"
		if row.ModelKey != nil {
			modelKey = *row.ModelKey
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.ExternalID,
			modelKey,
			row.Score.StringFixed(2),
			row.MaxBid.StringFixed(2),
			row.PriceCurrent.StringFixed(2),
			roi.HumaniseTimeLeft(row.EndTime, now),
			row.CreatedAt.UTC().Format(time.RFC3339),
			sanitizeInline(row.Title),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
