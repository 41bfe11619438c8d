package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/store"
)

// AggregateHistoryKey is the history key used for the aggregate chart.
const AggregateHistoryKey = "kchart"

// SongService answers song detail and chart history queries.
type SongService struct {
	store  store.Store
	logger *slog.Logger
}

// NewSongService creates a song service.
func NewSongService(st store.Store, log *slog.Logger) *SongService {
	return &SongService{store: st, logger: logger.OrDiscard(log)}
}

// ServiceLink holds a vendor's pages for one song.
type ServiceLink struct {
	Service    string            `json:"service"`
	Name       string            `json:"name"`
	SongURL    string            `json:"song_url,omitempty"`
	AlbumURL   string            `json:"album_url,omitempty"`
	ArtistURLs map[string]string `json:"artist_urls,omitempty"`
}

// SongView is a song with its album, artists and vendor links.
type SongView struct {
	Song  *domain.SongDetail `json:"song"`
	Links []ServiceLink      `json:"links"`
}

// Song returns the song with links for every service that knows it.
func (s *SongService) Song(ctx context.Context, songID string) (*SongView, error) {
	detail, err := s.detail(ctx, songID)
	if err != nil {
		return nil, err
	}

	services, err := s.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}

	songIDs, err := s.localIDs(ctx, domain.EntitySong, detail.ID)
	if err != nil {
		return nil, err
	}
	albumIDs, err := s.localIDs(ctx, domain.EntityAlbum, detail.AlbumID)
	if err != nil {
		return nil, err
	}
	artistIDs := make(map[string]map[string]string, len(detail.ArtistIDs))
	for _, id := range detail.ArtistIDs {
		if artistIDs[id], err = s.localIDs(ctx, domain.EntityArtist, id); err != nil {
			return nil, err
		}
	}

	view := &SongView{Song: detail, Links: []ServiceLink{}}
	for _, svc := range services {
		link := ServiceLink{Service: svc.Slug, Name: svc.Name}
		if local, ok := songIDs[svc.ID]; ok {
			link.SongURL = svc.SongLink(local)
		}
		if local, ok := albumIDs[svc.ID]; ok {
			link.AlbumURL = svc.AlbumLink(local)
		}
		for artistID, locals := range artistIDs {
			if local, ok := locals[svc.ID]; ok {
				if link.ArtistURLs == nil {
					link.ArtistURLs = make(map[string]string)
				}
				link.ArtistURLs[artistID] = svc.ArtistLink(local)
			}
		}
		if link.SongURL == "" && link.AlbumURL == "" && link.ArtistURLs == nil {
			continue
		}
		view.Links = append(view.Links, link)
	}
	return view, nil
}

// localIDs maps service ID to the service-local ID of an entity.
func (s *SongService) localIDs(ctx context.Context, kind domain.EntityKind, entityID string) (map[string]string, error) {
	out := make(map[string]string)
	if entityID == "" {
		return out, nil
	}
	mappings, err := s.store.ListServiceMappingsForEntity(ctx, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("list %s mappings: %w", kind, err)
	}
	for _, m := range mappings {
		out[m.ServiceID] = m.LocalID
	}
	return out, nil
}

func (s *SongService) detail(ctx context.Context, songID string) (*domain.SongDetail, error) {
	details, err := s.store.GetSongDetails(ctx, []string{songID})
	if err != nil {
		return nil, fmt.Errorf("load song: %w", err)
	}
	d, ok := details[songID]
	if !ok {
		return nil, domainerrors.NotFoundf("song %s not found", songID)
	}
	return d, nil
}

// ChartPoint is a position at an hour.
type ChartPoint struct {
	Position int       `json:"position"`
	Hour     time.Time `json:"hour"`
}

// HistorySummary condenses a song's run on one chart. Current is nil when
// the song is absent from the chart's latest hour.
type HistorySummary struct {
	Initial *ChartPoint `json:"initial"`
	Peak    *ChartPoint `json:"peak"`
	Current *ChartPoint `json:"current"`
	Final   *ChartPoint `json:"final"`
	Hours   int         `json:"hours"`
}

// SongHistory is a song's history summary per service slug, with the
// aggregate chart under AggregateHistoryKey.
type SongHistory struct {
	Song   *domain.SongDetail         `json:"song"`
	Charts map[string]*HistorySummary `json:"charts"`
}

// History summarises every chart a song has appeared on.
func (s *SongService) History(ctx context.Context, songID string) (*SongHistory, error) {
	detail, err := s.detail(ctx, songID)
	if err != nil {
		return nil, err
	}

	perSlug, err := s.store.ListSongChartHistory(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("chart history: %w", err)
	}
	charts, err := s.store.ListCharts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list charts: %w", err)
	}

	out := &SongHistory{Song: detail, Charts: make(map[string]*HistorySummary)}
	for _, c := range charts {
		positions, ok := perSlug[c.Slug]
		if !ok {
			continue
		}
		latest, err := s.store.LatestHourlyChartHour(ctx, c.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("latest hour of %s: %w", c.Slug, err)
		}
		out.Charts[c.Slug] = Summarize(positions, latest)
	}

	aggregate, err := s.store.ListSongAggregateHistory(ctx, songID)
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}
	if len(aggregate) > 0 {
		latest, err := s.store.LatestAggregateHour(ctx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("latest aggregate hour: %w", err)
		}
		out.Charts[AggregateHistoryKey] = Summarize(aggregate, latest)
	}
	return out, nil
}

// Summarize condenses positions ordered oldest first. Peak is the best
// position, the earliest on ties. latest is the newest hour of the chart.
func Summarize(positions []domain.ChartPosition, latest time.Time) *HistorySummary {
	if len(positions) == 0 {
		return &HistorySummary{}
	}
	point := func(p domain.ChartPosition) *ChartPoint {
		return &ChartPoint{Position: p.Position, Hour: p.Hour.UTC()}
	}

	sum := &HistorySummary{
		Initial: point(positions[0]),
		Final:   point(positions[len(positions)-1]),
		Hours:   len(positions),
	}
	peak := positions[0]
	for _, p := range positions[1:] {
		if p.Position < peak.Position {
			peak = p
		}
	}
	sum.Peak = point(peak)

	last := positions[len(positions)-1]
	if !latest.IsZero() && last.Hour.Equal(latest) {
		sum.Current = point(last)
	}
	return sum
}
