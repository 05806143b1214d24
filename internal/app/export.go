package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"flipwatch/internal/storage"
)

// Export renders one listing's valuation history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.ListingID == "" {
		return errors.New("--id must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snaps, err := store.ListSnapshots(ctx, opts.ListingID, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Str("external_id", opts.ListingID).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snaps []storage.RoiSnapshot, max int) []storage.RoiSnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}

	result := make([]storage.RoiSnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []storage.RoiSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "external_id", "source", "model_key", "current_price", "roi_estimate", "profit_estimate", "ends_at", "time_left_s"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		modelKey := ""
		if snap.ModelKey != nil {
			modelKey = *snap.ModelKey
		}
		endsAt := ""
		if snap.EndsAt != nil {
			endsAt = snap.EndsAt.UTC().Format(time.RFC3339)
		}
		timeLeft := ""
		if snap.TimeLeftS != nil {
			timeLeft = strconv.Itoa(*snap.TimeLeftS)
		}
		record := []string{
			snap.CreatedAt.UTC().Format(time.RFC3339),
			snap.ExternalID,
			snap.Source,
			modelKey,
			snap.CurrentPrice.String(),
			snap.RoiEstimate.String(),
			snap.ProfitEstimate.String(),
			endsAt,
			timeLeft,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path string, snaps []storage.RoiSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	price := make([]float64, len(snaps))
	profit := make([]float64, len(snaps))
	roiPct := make([]float64, len(snaps))

	for i, snap := range snaps {
		x[i] = snap.CreatedAt
		price[i] = snap.CurrentPrice.InexactFloat64()
		profit[i] = snap.ProfitEstimate.InexactFloat64()
		roiPct[i] = snap.RoiEstimate.InexactFloat64() * 100.0
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price / Profit",
			ValueFormatter: moneyFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "ROI (%)",
			ValueFormatter: moneyFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Current price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Profit estimate",
				XValues: x,
				YValues: profit,
			},
			chart.TimeSeries{
				Name:    "ROI %",
				XValues: x,
				YValues: roiPct,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
