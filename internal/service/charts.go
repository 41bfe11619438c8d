package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/resolver"
	"github.com/kchartio/kchart/internal/store"
	"github.com/kchartio/kchart/internal/validation"
	"github.com/kchartio/kchart/internal/vendors"
)

// ChartService fetches vendor charts, resolves their rows to canonical
// songs and ingests them as hourly snapshots.
type ChartService struct {
	store      store.Store
	vendors    *vendor.Registry
	resolver   *resolver.Resolver
	aggregates *AggregateService
	validator  *validation.Validator
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	bindings map[string]*binding
}

// binding ties a vendor adapter to its persisted service and chart rows.
type binding struct {
	vendor  vendor.ChartService
	service *domain.Service
	chart   *domain.Chart
}

// NewChartService creates a chart service. aggregates is used by Refresh.
func NewChartService(
	st store.Store,
	vendors *vendor.Registry,
	res *resolver.Resolver,
	aggregates *AggregateService,
	log *slog.Logger,
) *ChartService {
	return &ChartService{
		store:      st,
		vendors:    vendors,
		resolver:   res,
		aggregates: aggregates,
		validator:  validation.New(),
		logger:     logger.OrDiscard(log),
		now:        time.Now,
		bindings:   make(map[string]*binding),
	}
}

// Sync get-or-creates the Service and Chart rows of every registered vendor.
func (s *ChartService) Sync(ctx context.Context) error {
	for _, v := range s.vendors.All() {
		if _, err := s.sync(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChartService) sync(ctx context.Context, v vendor.ChartService) (*binding, error) {
	def := v.Definition()
	svc, err := s.store.GetOrCreateService(ctx, &domain.Service{
		Name:        def.ServiceName,
		Slug:        v.Slug(),
		URL:         def.ServiceURL,
		ArtistURL:   def.ArtistURL,
		AlbumURL:    def.AlbumURL,
		SongURL:     def.SongURL,
		IsReference: v.IsReference(),
	})
	if err != nil {
		return nil, fmt.Errorf("sync service %s: %w", v.Slug(), err)
	}
	chart, err := s.store.GetOrCreateChart(ctx, &domain.Chart{
		ServiceID: svc.ID,
		Name:      def.ChartName,
		URL:       def.ChartURL,
		Weight:    def.Weight,
	})
	if err != nil {
		return nil, fmt.Errorf("sync chart %s: %w", v.Slug(), err)
	}

	b := &binding{vendor: v, service: svc, chart: chart}
	s.mu.Lock()
	s.bindings[v.Slug()] = b
	s.mu.Unlock()
	return b, nil
}

func (s *ChartService) binding(ctx context.Context, slug string) (*binding, error) {
	s.mu.RLock()
	b, ok := s.bindings[slug]
	s.mu.RUnlock()
	if ok {
		return b, nil
	}
	v, err := s.vendors.Get(slug)
	if err != nil {
		return nil, err
	}
	return s.sync(ctx, v)
}

// Chart returns the persisted chart row of a vendor.
func (s *ChartService) Chart(ctx context.Context, slug string) (*domain.Chart, error) {
	b, err := s.binding(ctx, slug)
	if err != nil {
		return nil, err
	}
	return b.chart, nil
}

// UpdateOptions controls one chart update.
type UpdateOptions struct {
	// Hour is the hour to fetch; nil means the live chart.
	Hour *time.Time
	// Force re-ingests even when the stored chart is complete.
	Force bool
	// DryRun fetches and logs without resolving or writing.
	DryRun bool
}

// UpdateResult summarizes a chart update.
type UpdateResult struct {
	Slug     string                  `json:"slug"`
	Hour     time.Time               `json:"hour"`
	Chart    *domain.HourlySongChart `json:"chart,omitempty"`
	Skipped  bool                    `json:"skipped"`
	Fetched  int                     `json:"fetched"`
	Rejected int                     `json:"rejected"`
	Dropped  int                     `json:"dropped"`
	Ingested int                     `json:"ingested"`
	Raw      []vendor.RawRow         `json:"raw,omitempty"`
}

// Update fetches one vendor chart and ingests it. Rows that fail
// validation or cannot be matched are dropped and counted; fetch errors
// are returned unchanged so callers can classify them.
func (s *ChartService) Update(ctx context.Context, slug string, opts UpdateOptions) (*UpdateResult, error) {
	b, err := s.binding(ctx, slug)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("chart", slug)

	hour := domain.TruncateHour(s.now())
	if opts.Hour != nil {
		hour = domain.TruncateHour(*opts.Hour)
	}
	result := &UpdateResult{Slug: slug, Hour: hour}

	if !opts.Force && !opts.DryRun {
		existing, err := s.store.GetHourlyChart(ctx, b.chart.ID, hour)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if existing != nil && isComplete(existing, b.vendor.IsReference()) {
			log.Info("skipping fetch for complete chart", logger.HourAttr(hour), "entries", existing.EntryCount)
			result.Chart = existing
			result.Skipped = true
			return result, nil
		}
	}

	raw, err := b.vendor.FetchHourly(ctx, opts.Hour)
	if err != nil {
		return nil, err
	}
	result.Hour = raw.Hour
	result.Fetched = len(raw.Rows)
	log = log.With(logger.HourAttr(raw.Hour))
	if len(raw.Rows) != vendor.ExpectedRows {
		log.Warn("unexpected number of chart entries", "got", len(raw.Rows), "expected", vendor.ExpectedRows)
	}
	log.Info("fetched chart", "rows", len(raw.Rows))

	if opts.DryRun {
		for _, row := range raw.Rows {
			log.Info("chart row", "rank", row.Rank, "song", row.SongName, "song_id", row.SongID,
				"album", row.AlbumName, "artists", len(row.Artists))
		}
		result.Raw = raw.Rows
		return result, nil
	}

	rows, rejected := raw.ValidRows(s.validator)
	result.Rejected = len(rejected)
	for _, err := range rejected {
		log.Warn("rejected chart row", "error", err)
	}

	ranked, dropped, err := s.resolveRows(ctx, b, rows, log)
	if err != nil {
		return nil, err
	}
	result.Dropped = dropped

	hc, skipped, err := s.ingest(ctx, b, raw.Hour, ranked, opts.Force)
	if err != nil {
		return nil, err
	}
	result.Chart = hc
	result.Skipped = skipped
	if !skipped {
		result.Ingested = len(ranked)
	}
	return result, nil
}

// resolveRows maps raw rows to canonical songs. A song listed twice keeps
// its best rank.
func (s *ChartService) resolveRows(ctx context.Context, b *binding, rows []vendor.RawRow, log *slog.Logger) ([]domain.RankedSong, int, error) {
	best := make(map[string]int, len(rows))
	var order []string
	dropped := 0

	for _, row := range rows {
		song, err := s.resolveRow(ctx, b, row)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve %s rank %d: %w", b.vendor.Slug(), row.Rank, err)
		}
		if song == nil {
			dropped++
			continue
		}
		pos, seen := best[song.ID]
		if !seen {
			order = append(order, song.ID)
		}
		if !seen || row.Rank < pos {
			best[song.ID] = row.Rank
		}
		if seen {
			log.Warn("song charted twice", "song_id", song.ID, "ranks", []int{pos, row.Rank})
		}
	}

	ranked := make([]domain.RankedSong, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, domain.RankedSong{SongID: id, Position: best[id]})
	}
	if dropped > 0 {
		log.Warn("dropped unmatched chart rows", "dropped", dropped, "kept", len(ranked))
	}
	return ranked, dropped, nil
}

func (s *ChartService) resolveRow(ctx context.Context, b *binding, row vendor.RawRow) (*domain.Song, error) {
	if b.vendor.IsReference() {
		return s.resolver.EnsureReferenceSong(ctx, b.service, hitFromRow(row))
	}

	ref, err := s.binding(ctx, s.vendors.Reference().Slug())
	if err != nil {
		return nil, err
	}
	if row.Collab {
		if row, err = s.expandCollab(ctx, b, row); err != nil {
			return nil, err
		}
	}
	return s.resolver.Resolve(ctx, ref.service, b.service, row)
}

// expandCollab replaces a collaboration credit with its members when the
// vendor can list them. Rows already mapped skip the extra page fetch.
func (s *ChartService) expandCollab(ctx context.Context, b *binding, row vendor.RawRow) (vendor.RawRow, error) {
	expander, ok := b.vendor.(vendor.ArtistExpander)
	if !ok || len(row.Artists) != 1 {
		return row, nil
	}
	_, err := s.store.GetServiceMapping(ctx, domain.EntitySong, b.service.ID, row.SongID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return row, err
	}

	members, err := expander.ExpandArtists(ctx, row.Artists[0])
	if err != nil {
		if fetch.IsTransient(err) || ctx.Err() != nil {
			return row, err
		}
		s.logger.Warn("could not expand collaboration artist",
			"service", b.vendor.Slug(), "artist", row.Artists[0].Name, "error", err)
		return row, nil
	}
	row.Artists = members
	return row, nil
}

func hitFromRow(row vendor.RawRow) resolver.SongHit {
	hit := resolver.SongHit{
		ID:          row.SongID,
		Name:        row.SongName,
		AlbumID:     row.AlbumID,
		AlbumName:   row.AlbumName,
		ReleaseDate: row.ReleaseDate,
	}
	for _, a := range row.Artists {
		hit.Artists = append(hit.Artists, resolver.ArtistHit{ID: a.LocalID, Name: a.Name})
	}
	return hit
}

// isComplete reports whether a stored chart can be left alone. The
// reference chart cannot be re-fetched, so any entries at all count.
func isComplete(hc *domain.HourlySongChart, reference bool) bool {
	if reference {
		return hc.EntryCount > 0
	}
	return hc.EntryCount >= domain.ExpectedEntries
}

// Ingest writes resolved rows as the chart's snapshot for hour. Unless
// force is set, a complete snapshot is returned untouched and skipped is
// true. Entries are upserted, prev_position is derived from the previous
// hour and the next hour's snapshot, if any, is updated to point back at
// this one.
func (s *ChartService) Ingest(ctx context.Context, slug string, hour time.Time, rows []domain.RankedSong, force bool) (hc *domain.HourlySongChart, skipped bool, err error) {
	b, err := s.binding(ctx, slug)
	if err != nil {
		return nil, false, err
	}
	return s.ingest(ctx, b, domain.TruncateHour(hour), rows, force)
}

func (s *ChartService) ingest(ctx context.Context, b *binding, hour time.Time, rows []domain.RankedSong, force bool) (*domain.HourlySongChart, bool, error) {
	log := s.logger.With("chart", b.vendor.Slug(), logger.HourAttr(hour))

	hc, created, err := s.store.GetOrCreateHourlyChart(ctx, b.chart.ID, hour)
	if err != nil {
		return nil, false, fmt.Errorf("get hourly chart: %w", err)
	}
	if !created && !force && isComplete(hc, b.vendor.IsReference()) {
		log.Info("skipping update for complete chart", "entries", hc.EntryCount)
		return hc, true, nil
	}

	if err := s.store.UpsertHourlyEntries(ctx, hc.ID, rows); err != nil {
		return nil, false, fmt.Errorf("upsert entries: %w", err)
	}
	if _, err := s.store.RecomputeHourlyPrevPositions(ctx, b.chart.ID, hour); err != nil {
		return nil, false, err
	}
	next, err := s.store.RecomputeHourlyPrevPositions(ctx, b.chart.ID, domain.NextHour(hour))
	if err != nil {
		return nil, false, err
	}
	if next {
		log.Debug("updated prev positions of following hour")
	}

	hc, err = s.store.GetHourlyChart(ctx, b.chart.ID, hour)
	if err != nil {
		return nil, false, err
	}
	log.Info("wrote chart", "entries", hc.EntryCount)
	return hc, false, nil
}

// Incomplete lists the stored snapshots of an alternate chart that hold
// fewer than a full chart of entries.
func (s *ChartService) Incomplete(ctx context.Context, slug string) ([]*domain.HourlySongChart, error) {
	b, err := s.binding(ctx, slug)
	if err != nil {
		return nil, err
	}
	if b.vendor.IsReference() {
		return nil, domainerrors.Validationf("%s cannot refetch past hours", slug)
	}
	return s.store.ListIncompleteHourlyCharts(ctx, b.chart.ID, domain.ExpectedEntries)
}

// RefreshOptions controls a Refresh run.
type RefreshOptions struct {
	// DryRun fetches each incomplete hour and reports what a refresh would
	// complete, without writing or regenerating aggregates.
	DryRun bool
}

// RefreshResult summarizes a Refresh run. In a dry run Completed counts
// hours whose fetch returned a full chart.
type RefreshResult struct {
	Slug      string      `json:"slug"`
	DryRun    bool        `json:"dry_run,omitempty"`
	Attempted int         `json:"attempted"`
	Completed int         `json:"completed"`
	Failed    []time.Time `json:"failed,omitempty"`
}

// Refresh refetches every incomplete snapshot of a chart and regenerates
// the aggregate of each hour that was refetched. A failed hour is logged
// and skipped; only a context error stops the run.
func (s *ChartService) Refresh(ctx context.Context, slug string, opts RefreshOptions) (*RefreshResult, error) {
	incomplete, err := s.Incomplete(ctx, slug)
	if err != nil {
		return nil, err
	}
	log := s.logger.With("chart", slug, "dry_run", opts.DryRun)
	result := &RefreshResult{Slug: slug, DryRun: opts.DryRun}

	for _, hc := range incomplete {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		hour := hc.Hour
		res, err := s.Update(ctx, slug, UpdateOptions{Hour: &hour, Force: true, DryRun: opts.DryRun})
		if err != nil {
			log.Warn("refetch failed", logger.HourAttr(hour), "error", err)
			result.Failed = append(result.Failed, hour)
			continue
		}
		if opts.DryRun {
			if res.Fetched >= domain.ExpectedEntries {
				result.Completed++
			}
			continue
		}
		if res.Chart != nil && res.Chart.EntryCount >= domain.ExpectedEntries {
			result.Completed++
		}
		if s.aggregates != nil {
			if _, err := s.aggregates.Aggregate(ctx, hour, true); err != nil {
				log.Warn("regenerate aggregate failed", logger.HourAttr(hour), "error", err)
			}
		}
	}
	log.Info("refreshed incomplete charts",
		"attempted", result.Attempted, "completed", result.Completed, "failed", len(result.Failed))
	return result, nil
}

// ServiceChartEntry is one row of a service chart view.
type ServiceChartEntry struct {
	Position     int                `json:"position"`
	PrevPosition *int               `json:"prev_position,omitempty"`
	Song         *domain.SongDetail `json:"song"`
	URL          string             `json:"url,omitempty"`
}

// ServiceChartView is a vendor's chart for one hour.
type ServiceChartView struct {
	Chart   *domain.Chart       `json:"chart"`
	Service *domain.Service     `json:"service"`
	Hour    time.Time           `json:"hour"`
	Entries []ServiceChartEntry `json:"entries"`
}

// ServiceChart returns a vendor's chart at hour, or its latest chart when
// hour is nil.
func (s *ChartService) ServiceChart(ctx context.Context, slug string, hour *time.Time) (*ServiceChartView, error) {
	b, err := s.binding(ctx, slug)
	if err != nil {
		return nil, err
	}

	var h time.Time
	if hour != nil {
		h = domain.TruncateHour(*hour)
	} else {
		h, err = s.store.LatestHourlyChartHour(ctx, b.chart.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.NotFoundf("no %s chart yet", slug)
		}
		if err != nil {
			return nil, err
		}
	}

	hc, err := s.store.GetHourlyChart(ctx, b.chart.ID, h)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domainerrors.NotFoundf("no %s chart for %s", slug, domain.HourKey(h))
	}
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListHourlyEntries(ctx, hc.ID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.SongID
	}
	details, err := s.store.GetSongDetails(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &ServiceChartView{
		Chart:   b.chart,
		Service: b.service,
		Hour:    h,
		Entries: make([]ServiceChartEntry, 0, len(entries)),
	}
	for _, e := range entries {
		entry := ServiceChartEntry{Position: e.Position, PrevPosition: e.PrevPosition, Song: details[e.SongID]}
		m, err := s.store.GetServiceMappingByEntity(ctx, domain.EntitySong, b.service.ID, e.SongID)
		if err == nil {
			entry.URL = b.service.SongLink(m.LocalID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		view.Entries = append(view.Entries, entry)
	}
	return view, nil
}
