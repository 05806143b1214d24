package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flipwatch/internal/comps"
	"flipwatch/internal/config"
	"flipwatch/internal/hotradar"
	"flipwatch/internal/mailer"
	"flipwatch/internal/roi"
	"flipwatch/internal/scheduler"
	"flipwatch/internal/service"
	"flipwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newMailer() mailer.Mailer {
	if !a.Config.Mail.Enabled {
		return nil
	}
	return mailer.NewSMTPMailer(a.Config.Mail, a.Logger)
}

func (a *App) buildService(store *storage.Store, sched *scheduler.Scheduler) *service.Service {
	m := a.newMailer()
	if m == nil {
		a.Logger.Warn().Msg("mail disabled; alerts will be recorded but not emailed")
	}
	to := a.Config.Mail.To

	aggregator := comps.New(store, a.Config.Comps, a.Logger)
	markers := roi.NewMarkerEngine(store, m, a.Config.Milestones, a.Config.Pricing, to, a.Logger)
	digest := roi.NewDigestBatcher(store, store, m, a.Config.Digest, a.Config.Pricing.MinProfit, to, a.Logger)
	radar := hotradar.New(store, store, m, a.Config.HotRadar, to, a.Logger)

	return service.New(a.Config, sched, store, store, aggregator, markers, digest, radar, a.Logger)
}

// Run executes the long-running evaluation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.buildService(store, sched)

	a.Logger.Info().Msg("starting evaluation service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation service stopped")
	return nil
}

// Tick runs a single evaluation pass and exits.
func (a *App) Tick(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.buildService(store, nil)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessTick(ctx, bucket)
}

// RecomputeOptions configure the comps rebuild command.
type RecomputeOptions struct {
	Force      bool
	WindowDays int
}

// Recompute rebuilds the comps snapshot from listing history.
func (a *App) Recompute(ctx context.Context, opts RecomputeOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	aggregator := comps.New(store, a.Config.Comps, a.Logger)

	var result comps.RunResult
	if opts.Force || opts.WindowDays > 0 {
		result, err = aggregator.Recompute(ctx, opts.WindowDays)
	} else {
		result, err = aggregator.RecomputeIfDue(ctx, false)
	}
	if err != nil {
		return err
	}

	if !result.Ran {
		a.Logger.Info().
			Dur("age", result.Age).
			Dur("min_interval", a.Config.Comps.MinInterval).
			Msg("comps snapshot still fresh; nothing rebuilt")
		return nil
	}

	a.Logger.Info().
		Int64("rows", result.Rows).
		Int("window_days", result.WindowDays).
		Msg("comps snapshot rebuilt")
	return nil
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	ListingID string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions feed a synthetic listing through the fee model.
type SimulateOptions struct {
	Ask      float64
	Median   float64
	Source   string
	SendMail bool
}
