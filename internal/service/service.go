package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flipwatch/internal/comps"
	"flipwatch/internal/config"
	"flipwatch/internal/hotradar"
	"flipwatch/internal/roi"
	"flipwatch/internal/scheduler"
	"flipwatch/internal/storage"
	"flipwatch/internal/valuation"
)

// maxBidFactor scales the comps median into the max_bid written back onto
// the listing row. The alert-level bid caps are computed separately.
var maxBidFactor = decimal.NewFromFloat(0.8)

// Service orchestrates one evaluation tick: refresh comps, evaluate live
// listings against them, persist estimates, and hand the results to the
// marker engine, the digest batcher, and the hot radar.
type Service struct {
	scheduler  *scheduler.Scheduler
	listings   storage.ListingStore
	compStore  storage.CompStore
	aggregator *comps.Aggregator
	markers    *roi.MarkerEngine
	digest     *roi.DigestBatcher
	radar      *hotradar.Radar
	logger     zerolog.Logger

	feeModel   roi.FeeModel
	minSamples int
	topN       int
	locker     storage.AdvisoryLocker
	lockKey    int64
}

// New constructs the evaluation service.
func New(cfg *config.Config, sched *scheduler.Scheduler, listings storage.ListingStore, compStore storage.CompStore, aggregator *comps.Aggregator, markers *roi.MarkerEngine, digest *roi.DigestBatcher, radar *hotradar.Radar, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := listings.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		listings:   listings,
		compStore:  compStore,
		aggregator: aggregator,
		markers:    markers,
		digest:     digest,
		radar:      radar,
		logger:     logger.With().Str("component", "service").Logger(),
		feeModel:   roi.NewFeeModel(cfg.Pricing),
		minSamples: cfg.Pricing.MinCompSamples,
		topN:       cfg.Pricing.TopN,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick executes a single evaluation pass, guarded by the advisory
// lock so concurrent deployments cannot double-send alerts.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	logger := s.logger.With().Str("run_id", uuid.NewString()).Time("bucket", bucket).Logger()
	return s.executeTick(ctx, logger)
}

func (s *Service) executeTick(ctx context.Context, logger zerolog.Logger) error {
	now := time.Now().UTC()

	// A failed rebuild leaves the previous comps snapshot authoritative,
	// so it does not abort the tick.
	if s.aggregator != nil {
		if _, err := s.aggregator.RecomputeIfDue(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("comps recompute failed; continuing with previous snapshot")
		}
	}

	listings, err := s.listings.FetchActiveListings(ctx)
	if err != nil {
		return fmt.Errorf("fetch active listings: %w", err)
	}

	compsMap, err := s.compStore.LatestComps(ctx)
	if err != nil {
		return fmt.Errorf("load comps: %w", err)
	}

	resolver := valuation.NewResolver(compsMap)
	opps := roi.BuildOpportunities(listings, resolver, s.feeModel, s.minSamples)

	logger.Info().
		Int("listings", len(listings)).
		Int("comps", len(compsMap)).
		Int("opportunities", len(opps)).
		Msg("tick evaluation complete")

	s.persistEstimates(ctx, logger, opps)

	if s.markers != nil {
		s.markers.Process(ctx, now, opps)
	}

	shortlist := roi.Shortlist(opps, s.feeModel)
	for i, op := range shortlist {
		if i >= s.topN {
			logger.Info().Int("remaining", len(shortlist)-s.topN).Msg("shortlist truncated in log output")
			break
		}
		logger.Info().Msg(op.LogLine())
	}

	if s.digest != nil {
		s.digest.Process(ctx, now, shortlist)
	}

	if s.radar != nil {
		if err := s.radar.Process(ctx, compsMap); err != nil {
			return fmt.Errorf("hot radar: %w", err)
		}
	}

	return nil
}

// persistEstimates writes roi_estimate and max_bid back onto listing rows.
// A write failure is not fatal to the tick.
func (s *Service) persistEstimates(ctx context.Context, logger zerolog.Logger, opps []roi.Opportunity) {
	if len(opps) == 0 {
		return
	}

	estimates := make([]storage.ListingEstimate, 0, len(opps))
	for _, op := range opps {
		estimates = append(estimates, storage.ListingEstimate{
			ExternalID: op.ExternalID,
			Roi:        op.Roi,
			MaxBid:     roi.Money(op.CompsMedian.Mul(maxBidFactor)),
		})
	}

	if err := s.listings.UpdateEstimates(ctx, estimates); err != nil {
		logger.Warn().Err(err).Int("estimates", len(estimates)).Msg("failed to persist listing estimates")
		return
	}
	logger.Debug().Int("estimates", len(estimates)).Msg("listing estimates persisted")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
