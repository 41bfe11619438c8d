// Package melon is the reference service adapter. It reads the live
// realtime chart and searches the catalog through the Melon open API.
package melon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/vendors"
)

// Slug identifies the service.
const Slug = "melon"

// DefaultAPIURL is the Melon open API root.
const DefaultAPIURL = "http://apis.skplanetx.com/melon"

// Options configures the adapter.
type Options struct {
	APIURL string
	AppKey string
	Logger *slog.Logger
}

// Service fetches the Melon realtime chart.
type Service struct {
	fetcher fetch.Fetcher
	apiURL  string
	appKey  string
	logger  *slog.Logger
}

var _ vendor.ChartService = (*Service)(nil)

// New creates the adapter.
func New(f fetch.Fetcher, opts Options) *Service {
	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Service{
		fetcher: f,
		apiURL:  apiURL,
		appKey:  opts.AppKey,
		logger:  logger.OrDiscard(opts.Logger),
	}
}

// Slug returns "melon".
func (s *Service) Slug() string { return Slug }

// IsReference is true: Melon IDs anchor the catalog.
func (s *Service) IsReference() bool { return true }

// Definition describes the Melon service and chart rows.
func (s *Service) Definition() vendor.Definition {
	return vendor.Definition{
		ServiceName: "Melon",
		ServiceURL:  "http://www.melon.com",
		ArtistURL:   "http://www.melon.com/artist/detail.htm?artistId={artist_id}",
		AlbumURL:    "http://www.melon.com/album/detail.htm?albumId={album_id}",
		SongURL:     "http://www.melon.com/song/detail.htm?songId={song_id}",
		ChartName:   "Melon realtime top 100",
		ChartURL:    "http://www.melon.com/chart/index.htm",
		Weight:      0.5,
	}
}

// FetchHourly returns the live chart. Melon does not serve past hours, so
// a non-nil hour fails with vendor.ErrHistoricalUnavailable.
func (s *Service) FetchHourly(ctx context.Context, hour *time.Time) (*vendor.RawChart, error) {
	if hour != nil {
		return nil, vendor.ErrHistoricalUnavailable
	}

	q := url.Values{
		"version": {"1"},
		"page":    {"1"},
		"count":   {strconv.Itoa(vendor.ExpectedRows)},
	}
	data, err := s.get(ctx, "/charts/realtime", q)
	if err != nil {
		return nil, err
	}
	if data.Count != vendor.ExpectedRows {
		s.logger.Warn("unexpected chart entry count",
			"service", Slug, "got", data.Count, "expected", vendor.ExpectedRows)
	}

	rankHour, err := parseRankHour(data.RankDay, data.RankHour)
	if err != nil {
		return nil, fetch.FormatError.Wrap(err)
	}

	chart := &vendor.RawChart{Slug: Slug, Hour: rankHour}
	if data.Songs == nil {
		return chart, nil
	}
	for _, song := range data.Songs.Song {
		row, err := rowFromSong(song)
		if err != nil {
			s.logger.Warn("skipping malformed chart row", "service", Slug, "song_id", song.SongID, "error", err)
			continue
		}
		chart.Rows = append(chart.Rows, row)
	}
	return chart, nil
}

func rowFromSong(song apiSong) (vendor.RawRow, error) {
	rank, err := strconv.Atoi(string(song.CurrentRank))
	if err != nil {
		return vendor.RawRow{}, fmt.Errorf("current rank: %w", err)
	}
	released, err := parseIssueDate(song.IssueDate)
	if err != nil {
		return vendor.RawRow{}, err
	}
	row := vendor.RawRow{
		Rank:        rank,
		SongName:    song.SongName,
		SongID:      string(song.SongID),
		AlbumName:   song.AlbumName,
		AlbumID:     string(song.AlbumID),
		ReleaseDate: released,
	}
	for _, a := range song.Artists.Artist {
		row.Artists = append(row.Artists, vendor.RawArtist{Name: a.ArtistName, LocalID: string(a.ArtistID)})
	}
	return row, nil
}

// get calls an API endpoint and unwraps the "melon" envelope.
func (s *Service) get(ctx context.Context, path string, q url.Values) (*payload, error) {
	header := http.Header{
		"Accept": {"application/json"},
		"appKey": {s.appKey},
	}
	var env envelope
	if err := s.fetcher.GetJSON(ctx, s.apiURL+path, q, header, &env); err != nil {
		return nil, err
	}
	if env.Melon == nil {
		return nil, fetch.FormatError.New("%s: response has no melon object", path)
	}
	return env.Melon, nil
}
