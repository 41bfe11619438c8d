package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/cache"
	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/resolver"
	"github.com/kchartio/kchart/internal/store/sqlite"
	"github.com/kchartio/kchart/internal/vendors"
)

// fakeVendor serves fixed charts. The reference vendor only serves live.
type fakeVendor struct {
	slug      string
	reference bool
	weight    float64
	live      *vendor.RawChart
	hours     map[time.Time]*vendor.RawChart
	err       error
	fetches   int
}

func (f *fakeVendor) Slug() string      { return f.slug }
func (f *fakeVendor) IsReference() bool { return f.reference }

func (f *fakeVendor) Definition() vendor.Definition {
	return vendor.Definition{
		ServiceName: f.slug,
		ServiceURL:  "https://" + f.slug + ".example",
		ArtistURL:   "https://" + f.slug + ".example/artist/{artist_id}",
		AlbumURL:    "https://" + f.slug + ".example/album/{album_id}",
		SongURL:     "https://" + f.slug + ".example/song/{song_id}",
		ChartName:   f.slug + " top 100",
		ChartURL:    "https://" + f.slug + ".example/chart",
		Weight:      f.weight,
	}
}

func (f *fakeVendor) FetchHourly(_ context.Context, hour *time.Time) (*vendor.RawChart, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	if hour == nil {
		if f.live == nil {
			return nil, fetch.FormatError.New("no live chart")
		}
		return f.live, nil
	}
	if f.reference {
		return nil, vendor.ErrHistoricalUnavailable
	}
	c, ok := f.hours[domain.TruncateHour(*hour)]
	if !ok {
		return nil, fetch.FormatError.New("no chart for %s", domain.HourKey(*hour))
	}
	return c, nil
}

// fakeReference answers reference searches from fixed tables.
type fakeReference struct {
	artists map[string][]resolver.ArtistHit
	albums  map[string][]resolver.AlbumHit
	songs   map[string][]resolver.SongHit
}

func (f *fakeReference) SearchArtists(_ context.Context, name string) ([]resolver.ArtistHit, error) {
	return f.artists[name], nil
}

func (f *fakeReference) SearchAlbums(_ context.Context, name string, _ []string) ([]resolver.AlbumHit, error) {
	return f.albums[name], nil
}

func (f *fakeReference) SearchSongs(_ context.Context, q resolver.SongQuery) ([]resolver.SongHit, error) {
	return f.songs[q.Name], nil
}

// add makes hit findable by its own names.
func (f *fakeReference) add(hit resolver.SongHit) {
	for _, a := range hit.Artists {
		f.artists[a.Name] = append(f.artists[a.Name], a)
	}
	f.albums[hit.AlbumName] = append(f.albums[hit.AlbumName], resolver.AlbumHit{ID: hit.AlbumID, Name: hit.AlbumName})
	f.songs[hit.Name] = append(f.songs[hit.Name], hit)
}

type fixture struct {
	store      *sqlite.Store
	cache      *cache.Badger
	reference  *fakeReference
	resolver   *resolver.Resolver
	melon      *fakeVendor
	genie      *fakeVendor
	bugs       *fakeVendor
	charts     *ChartService
	aggregates *AggregateService
	songs      *SongService
}

// testHour is 2024-03-02 09:00 KST.
var testHour = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

func setupServiceTest(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c, err := cache.OpenBadger("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	f := &fixture{
		store: st,
		cache: c,
		reference: &fakeReference{
			artists: make(map[string][]resolver.ArtistHit),
			albums:  make(map[string][]resolver.AlbumHit),
			songs:   make(map[string][]resolver.SongHit),
		},
		melon: &fakeVendor{slug: "melon", reference: true, weight: 1.0},
		genie: &fakeVendor{slug: "genie", weight: 0.5, hours: make(map[time.Time]*vendor.RawChart)},
		bugs:  &fakeVendor{slug: "bugs", weight: 0.25, hours: make(map[time.Time]*vendor.RawChart)},
	}

	vendors, err := vendor.NewRegistry(f.melon, f.genie, f.bugs)
	require.NoError(t, err)

	f.resolver = resolver.New(st, f.reference, nil)
	f.aggregates = NewAggregateService(st, c, nil)
	f.charts = NewChartService(st, vendors, f.resolver, f.aggregates, nil)
	f.charts.now = func() time.Time { return testHour.Add(17 * time.Minute) }
	f.songs = NewSongService(st, nil)
	require.NoError(t, f.charts.Sync(context.Background()))
	return f
}

// song creates a canonical song anchored on reference ID refID.
func (f *fixture) song(t *testing.T, refID, name string) *domain.Song {
	t.Helper()
	svc, err := f.store.GetServiceBySlug(context.Background(), "melon")
	require.NoError(t, err)
	s, err := f.resolver.EnsureReferenceSong(context.Background(), svc, resolver.SongHit{
		ID:        refID,
		Name:      name,
		AlbumID:   "album-" + refID,
		AlbumName: name,
		Artists:   []resolver.ArtistHit{{ID: "artist-" + refID, Name: "artist " + name}},
	})
	require.NoError(t, err)
	return s
}

// ingest writes ranked songs for a chart at hour with force.
func (f *fixture) ingest(t *testing.T, slug string, hour time.Time, songs ...*domain.Song) *domain.HourlySongChart {
	t.Helper()
	rows := make([]domain.RankedSong, len(songs))
	for i, s := range songs {
		rows[i] = domain.RankedSong{SongID: s.ID, Position: i + 1}
	}
	hc, _, err := f.charts.Ingest(context.Background(), slug, hour, rows, true)
	require.NoError(t, err)
	return hc
}

func rawRow(rank int, songID, name, albumID, album, artistID, artist string) vendor.RawRow {
	return vendor.RawRow{
		Rank:      rank,
		SongName:  name,
		SongID:    songID,
		AlbumName: album,
		AlbumID:   albumID,
		Artists:   []vendor.RawArtist{{Name: artist, LocalID: artistID}},
	}
}

func intPtr(v int) *int { return &v }
