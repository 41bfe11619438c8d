package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kchartio/kchart/internal/cache"
	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/store"
)

// AggregateService builds the weighted cross-service chart for an hour and
// keeps its cached snapshot current.
type AggregateService struct {
	store  store.Store
	cache  cache.Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregateService creates an aggregate service.
func NewAggregateService(st store.Store, c cache.Cache, log *slog.Logger) *AggregateService {
	return &AggregateService{
		store:  st,
		cache:  c,
		logger: logger.OrDiscard(log),
		now:    time.Now,
	}
}

// Score ranks every song charted at an hour. A song's score is the sum of
// (101 - position) * weight over its entries, divided by 100 times the total
// weight of the charts present. Positions follow score, highest first, with
// ties broken by song ID.
func Score(entries []domain.WeightedEntry, charts []domain.ChartWeight) []*domain.AggregateEntry {
	var total float64
	for _, c := range charts {
		total += c.Weight
	}

	sums := make(map[string]float64)
	for _, e := range entries {
		sums[e.SongID] += float64(domain.ChartCutoff+1-e.Position) * e.Weight
	}

	out := make([]*domain.AggregateEntry, 0, len(sums))
	for songID, sum := range sums {
		score := 0.0
		if total > 0 {
			score = sum / (float64(domain.ChartCutoff) * total)
		}
		out = append(out, &domain.AggregateEntry{SongID: songID, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SongID < out[j].SongID
	})
	for i, e := range out {
		e.Position = i + 1
	}
	return out
}

// Aggregate returns the aggregate chart for hour, computing it when absent
// or when regenerate is set. It returns (nil, nil) when no vendor chart has
// entries for hour.
//
// An existing aggregate is returned as is and its cached snapshot refreshed
// if one exists. A regenerate call always rewrites the cache; other writes
// only touch hours that are already cached.
func (s *AggregateService) Aggregate(ctx context.Context, hour time.Time, regenerate bool) (*domain.AggregateHourlySongChart, error) {
	hour = domain.TruncateHour(hour)
	log := s.logger.With(logger.HourAttr(hour))

	existing, err := s.store.GetAggregate(ctx, hour)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	if existing != nil && !regenerate {
		s.writeCache(ctx, existing, false)
		return existing, nil
	}

	weighted, charts, err := s.store.ListWeightedEntries(ctx, hour)
	if err != nil {
		return nil, fmt.Errorf("list weighted entries: %w", err)
	}
	if len(charts) == 0 {
		log.Info("nothing to aggregate")
		return nil, nil
	}

	entries := Score(weighted, charts)
	constituents := make([]string, len(charts))
	for i, c := range charts {
		constituents[i] = c.HourlyChartID
	}

	agg, err := s.store.ReplaceAggregate(ctx, hour, constituents, entries)
	if err != nil {
		return nil, fmt.Errorf("replace aggregate: %w", err)
	}
	log.Info("aggregated chart",
		"charts", len(charts), "songs", len(entries), "generation", agg.Generation)

	s.writeCache(ctx, agg, regenerate)

	next := domain.NextHour(hour)
	exists, err := s.store.RecomputeAggregatePrevPositions(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("propagate to next hour: %w", err)
	}
	if exists {
		nextAgg, err := s.store.GetAggregate(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("get next aggregate: %w", err)
		}
		s.writeCache(ctx, nextAgg, false)
	}
	return agg, nil
}

// writeCache stores the snapshot of agg. Without force only an existing
// entry is replaced. Cache failures are logged; the database stays the
// source of truth.
func (s *AggregateService) writeCache(ctx context.Context, agg *domain.AggregateHourlySongChart, force bool) {
	if s.cache == nil {
		return
	}
	snap, err := s.buildSnapshot(ctx, agg)
	if err != nil {
		s.logger.Warn("build snapshot failed", logger.HourAttr(agg.Hour), "error", err)
		return
	}
	var written bool
	if force {
		written, err = s.cache.Put(ctx, snap)
	} else {
		written, err = s.cache.PutIfPresent(ctx, snap)
	}
	if err != nil {
		s.logger.Warn("cache write failed", logger.HourAttr(agg.Hour), "error", err)
		return
	}
	s.logger.Debug("cache write",
		logger.HourAttr(agg.Hour), "generation", agg.Generation, "forced", force, "written", written)
}

// MakeDurable writes the snapshot of an existing aggregate to the cache
// whether or not the hour was cached before.
func (s *AggregateService) MakeDurable(ctx context.Context, hour time.Time) error {
	agg, err := s.store.GetAggregate(ctx, domain.TruncateHour(hour))
	if errors.Is(err, store.ErrNotFound) {
		return domainerrors.NotFoundf("no aggregate chart for %s", domain.HourKey(hour))
	}
	if err != nil {
		return err
	}
	snap, err := s.buildSnapshot(ctx, agg)
	if err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	_, err = s.cache.Put(ctx, snap)
	return err
}

// Snapshot returns the cached aggregate for hour. On a miss it loads or
// computes the aggregate, caches it and returns it; concurrent misses for
// the same hour share one computation.
func (s *AggregateService) Snapshot(ctx context.Context, hour time.Time) (*cache.Snapshot, error) {
	hour = domain.TruncateHour(hour)
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, hour)
		if err == nil {
			return snap, nil
		}
		if !cache.ErrMiss.Has(err) {
			s.logger.Warn("cache read failed", logger.HourAttr(hour), "error", err)
		}
	}

	v, err, _ := s.group.Do(cache.Key(hour), func() (any, error) {
		agg, err := s.Aggregate(ctx, hour, false)
		if err != nil {
			return nil, err
		}
		if agg == nil {
			return nil, domainerrors.NotFoundf("no charts for %s", domain.HourKey(hour))
		}
		snap, err := s.buildSnapshot(ctx, agg)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if _, err := s.cache.Put(ctx, snap); err != nil {
				s.logger.Warn("cache write failed", logger.HourAttr(hour), "error", err)
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cache.Snapshot), nil
}

// Latest returns the snapshot of the newest aggregate hour.
func (s *AggregateService) Latest(ctx context.Context) (*cache.Snapshot, error) {
	hour, err := s.store.LatestAggregateHour(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFoundf("no aggregate charts yet")
	}
	if err != nil {
		return nil, err
	}
	return s.Snapshot(ctx, hour)
}

// buildSnapshot loads everything a cached snapshot embeds.
func (s *AggregateService) buildSnapshot(ctx context.Context, agg *domain.AggregateHourlySongChart) (*cache.Snapshot, error) {
	entries, err := s.store.ListAggregateEntries(ctx, agg.ID)
	if err != nil {
		return nil, fmt.Errorf("list aggregate entries: %w", err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.SongID
	}
	details, err := s.store.GetSongDetails(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load songs: %w", err)
	}
	charts, err := s.constituentCharts(ctx, agg)
	if err != nil {
		return nil, err
	}
	return cache.NewSnapshot(agg, charts, entries, details, s.now()), nil
}

// constituentCharts returns the vendor charts behind an aggregate.
func (s *AggregateService) constituentCharts(ctx context.Context, agg *domain.AggregateHourlySongChart) ([]*domain.Chart, error) {
	_, present, err := s.store.ListWeightedEntries(ctx, agg.Hour)
	if err != nil {
		return nil, fmt.Errorf("list charts at hour: %w", err)
	}
	constituent := make(map[string]struct{}, len(agg.ConstituentIDs))
	for _, id := range agg.ConstituentIDs {
		constituent[id] = struct{}{}
	}
	chartIDs := make(map[string]struct{})
	for _, c := range present {
		if _, ok := constituent[c.HourlyChartID]; ok {
			chartIDs[c.ChartID] = struct{}{}
		}
	}

	all, err := s.store.ListCharts(ctx)
	if err != nil {
		return nil, err
	}
	charts := make([]*domain.Chart, 0, len(chartIDs))
	for _, c := range all {
		if _, ok := chartIDs[c.ID]; ok {
			charts = append(charts, c)
		}
	}
	return charts, nil
}
