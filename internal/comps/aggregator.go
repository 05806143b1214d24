// Package comps maintains the comparables snapshot: per-model_key
// median/mean realized prices over a trailing window of sold and ended
// listings. Each rebuild is a full replace, never a patch, so
// reclassified listings cannot leave stale rows behind.
package comps

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"flipwatch/internal/config"
)

// Store is the persistence surface the aggregator needs.
type Store interface {
	LatestCompComputedAt(ctx context.Context) (*time.Time, error)
	RebuildComps(ctx context.Context, windowDays, keepPerKey int) (int64, error)
}

// RunResult reports what a recompute attempt did.
type RunResult struct {
	Ran        bool
	Forced     bool
	WindowDays int
	Rows       int64
	LastRun    *time.Time
	Age        time.Duration
}

// Aggregator rate-limits and executes comps rebuilds.
type Aggregator struct {
	store  Store
	cfg    config.CompsConfig
	logger zerolog.Logger
}

// New constructs an Aggregator.
func New(store Store, cfg config.CompsConfig, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "comps").Logger(),
	}
}

// RecomputeIfDue rebuilds the comps snapshot unless the newest computed_at
// is younger than the minimum interval. force bypasses the rate limit. A
// rebuild failure leaves the previous snapshot authoritative.
func (a *Aggregator) RecomputeIfDue(ctx context.Context, force bool) (RunResult, error) {
	lastRun, err := a.store.LatestCompComputedAt(ctx)
	if err != nil {
		return RunResult{}, err
	}

	now := time.Now().UTC()
	age := time.Duration(1<<63 - 1) // never ran
	if lastRun != nil {
		age = now.Sub(*lastRun)
	}

	result := RunResult{
		Forced:     force,
		WindowDays: a.cfg.WindowDays,
		LastRun:    lastRun,
		Age:        age,
	}

	if !force && age < a.cfg.MinInterval {
		a.logger.Debug().
			Dur("age", age).
			Dur("min_interval", a.cfg.MinInterval).
			Msg("skipping comps recompute (too soon)")
		return result, nil
	}

	return a.recompute(ctx, result)
}

// Recompute always rebuilds, with an optional window override for
// maintenance runs over longer history.
func (a *Aggregator) Recompute(ctx context.Context, windowDays int) (RunResult, error) {
	if windowDays <= 0 {
		windowDays = a.cfg.WindowDays
	}

	lastRun, err := a.store.LatestCompComputedAt(ctx)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{
		Forced:     true,
		WindowDays: windowDays,
		LastRun:    lastRun,
	}
	return a.recompute(ctx, result)
}

func (a *Aggregator) recompute(ctx context.Context, result RunResult) (RunResult, error) {
	a.logger.Info().
		Bool("forced", result.Forced).
		Int("window_days", result.WindowDays).
		Msg("starting comps recompute")

	rows, err := a.store.RebuildComps(ctx, result.WindowDays, a.cfg.KeepPerKey)
	if err != nil {
		return result, err
	}

	result.Ran = true
	result.Rows = rows
	a.logger.Info().Int64("rows", rows).Int("window_days", result.WindowDays).Msg("comps recompute done")
	return result, nil
}
