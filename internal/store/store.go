// Package store defines kchart's persistence interface. The sqlite
// subpackage implements it.
package store

import (
	"context"
	"time"

	"github.com/kchartio/kchart/internal/domain"
)

// SearchIndexer receives catalog entities as they are created.
type SearchIndexer interface {
	IndexArtist(ctx context.Context, a *domain.Artist) error
	IndexAlbum(ctx context.Context, a *domain.Album) error
	IndexSong(ctx context.Context, s *domain.Song) error
}

// NoopSearchIndexer discards everything.
type NoopSearchIndexer struct{}

// IndexArtist is a no-op.
func (NoopSearchIndexer) IndexArtist(context.Context, *domain.Artist) error { return nil }

// IndexAlbum is a no-op.
func (NoopSearchIndexer) IndexAlbum(context.Context, *domain.Album) error { return nil }

// IndexSong is a no-op.
func (NoopSearchIndexer) IndexSong(context.Context, *domain.Song) error { return nil }

// NewNoopSearchIndexer returns an indexer that drops every call.
func NewNoopSearchIndexer() SearchIndexer {
	return NoopSearchIndexer{}
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Statuses  []domain.TaskStatus
	ChartSlug string
	Limit     int
}

// Catalog is the canonical artist/album/song store plus service mappings.
type Catalog interface {
	CreateArtist(ctx context.Context, a *domain.Artist) error
	GetArtist(ctx context.Context, id string) (*domain.Artist, error)
	GetArtistsByIDs(ctx context.Context, ids []string) ([]*domain.Artist, error)

	CreateAlbum(ctx context.Context, a *domain.Album) error
	GetAlbum(ctx context.Context, id string) (*domain.Album, error)

	CreateSong(ctx context.Context, s *domain.Song) error
	GetSong(ctx context.Context, id string) (*domain.Song, error)
	GetSongDetails(ctx context.Context, ids []string) (map[string]*domain.SongDetail, error)
	ListSongs(ctx context.Context, offset, limit int) ([]*domain.Song, error)

	GetServiceMapping(ctx context.Context, kind domain.EntityKind, serviceID, localID string) (*domain.ServiceMapping, error)
	GetServiceMappingByEntity(ctx context.Context, kind domain.EntityKind, serviceID, entityID string) (*domain.ServiceMapping, error)
	CreateServiceMapping(ctx context.Context, m *domain.ServiceMapping) error
	ListServiceMappingsForEntity(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.ServiceMapping, error)
}

// Registry holds services and their charts.
type Registry interface {
	GetOrCreateService(ctx context.Context, svc *domain.Service) (*domain.Service, error)
	GetServiceBySlug(ctx context.Context, slug string) (*domain.Service, error)
	GetService(ctx context.Context, id string) (*domain.Service, error)
	ListServices(ctx context.Context) ([]*domain.Service, error)

	GetOrCreateChart(ctx context.Context, c *domain.Chart) (*domain.Chart, error)
	GetChartBySlug(ctx context.Context, slug string) (*domain.Chart, error)
	ListCharts(ctx context.Context) ([]*domain.Chart, error)
}

// Charts holds hourly per-service charts and aggregates.
type Charts interface {
	GetOrCreateHourlyChart(ctx context.Context, chartID string, hour time.Time) (*domain.HourlySongChart, bool, error)
	GetHourlyChart(ctx context.Context, chartID string, hour time.Time) (*domain.HourlySongChart, error)
	UpsertHourlyEntries(ctx context.Context, hourlyChartID string, rows []domain.RankedSong) error
	RecomputeHourlyPrevPositions(ctx context.Context, chartID string, hour time.Time) (bool, error)
	ListHourlyEntries(ctx context.Context, hourlyChartID string) ([]*domain.HourlySongChartEntry, error)
	ListIncompleteHourlyCharts(ctx context.Context, chartID string, expected int) ([]*domain.HourlySongChart, error)
	ListWeightedEntries(ctx context.Context, hour time.Time) ([]domain.WeightedEntry, []domain.ChartWeight, error)
	LatestHourlyChartHour(ctx context.Context, chartID string) (time.Time, error)

	GetAggregate(ctx context.Context, hour time.Time) (*domain.AggregateHourlySongChart, error)
	ReplaceAggregate(ctx context.Context, hour time.Time, constituentIDs []string, entries []*domain.AggregateEntry) (*domain.AggregateHourlySongChart, error)
	RecomputeAggregatePrevPositions(ctx context.Context, hour time.Time) (bool, error)
	ListAggregateEntries(ctx context.Context, aggregateID string) ([]*domain.AggregateEntry, error)
	LatestAggregateHour(ctx context.Context) (time.Time, error)

	ListSongChartHistory(ctx context.Context, songID string) (map[string][]domain.ChartPosition, error)
	ListSongAggregateHistory(ctx context.Context, songID string) ([]domain.ChartPosition, error)
}

// Tasks persists the scheduler's task graph.
type Tasks interface {
	CreateTask(ctx context.Context, t *domain.FetchTask) error
	GetTask(ctx context.Context, id string) (*domain.FetchTask, error)
	UpdateTask(ctx context.Context, t *domain.FetchTask) error
	ClaimNextTask(ctx context.Context, now time.Time) (*domain.FetchTask, error)
	GetBatchState(ctx context.Context, batchID string) (domain.BatchState, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.FetchTask, error)
	HasOpenFetchTask(ctx context.Context, chartSlug string, hour time.Time) (bool, error)
	ResetStalledTasks(ctx context.Context, now time.Time) (int, error)

	GetBacklogWatermark(ctx context.Context, chartID string) (*domain.BacklogWatermark, error)
	SetBacklogWatermark(ctx context.Context, chartID string, hour time.Time) error
}

// Store is everything kchart persists.
type Store interface {
	Catalog
	Registry
	Charts
	Tasks

	SetSearchIndexer(indexer SearchIndexer)
	Close() error
}
