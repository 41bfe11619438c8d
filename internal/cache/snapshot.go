package cache

import (
	"time"

	"github.com/kchartio/kchart/internal/domain"
)

// Snapshot is the cached form of an aggregate chart with its song, album
// and artist data flattened in. It does not mirror the storage schema.
type Snapshot struct {
	Hour       time.Time `json:"hour"`
	HourKey    string    `json:"hour_key"`
	Generation int64     `json:"generation"`
	Charts     []Chart   `json:"charts"`
	Entries    []Entry   `json:"entries"`
	CachedAt   time.Time `json:"cached_at"`
}

// Chart is a constituent vendor chart.
type Chart struct {
	Slug   string  `json:"slug"`
	Name   string  `json:"name"`
	URL    string  `json:"url"`
	Weight float64 `json:"weight"`
}

// Entry is one ranked song.
type Entry struct {
	Position     int     `json:"position"`
	PrevPosition *int    `json:"prev_position,omitempty"`
	Score        float64 `json:"score"`
	Song         Song    `json:"song"`
}

// Song is a song with its album and artists.
type Song struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	Album       Album      `json:"album"`
	Artists     []Artist   `json:"artists"`
}

// Album is the album of a cached song.
type Album struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
}

// Artist is a credited artist of a cached song.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewSnapshot flattens an aggregate and its entries. Songs missing from
// details are kept with only their ID.
func NewSnapshot(
	agg *domain.AggregateHourlySongChart,
	charts []*domain.Chart,
	entries []*domain.AggregateEntry,
	details map[string]*domain.SongDetail,
	now time.Time,
) *Snapshot {
	snap := &Snapshot{
		Hour:       agg.Hour.UTC(),
		HourKey:    domain.HourKey(agg.Hour),
		Generation: agg.Generation,
		Charts:     make([]Chart, 0, len(charts)),
		Entries:    make([]Entry, 0, len(entries)),
		CachedAt:   now.UTC(),
	}
	for _, c := range charts {
		snap.Charts = append(snap.Charts, Chart{Slug: c.Slug, Name: c.Name, URL: c.URL, Weight: c.Weight})
	}
	for _, e := range entries {
		snap.Entries = append(snap.Entries, Entry{
			Position:     e.Position,
			PrevPosition: e.PrevPosition,
			Score:        e.Score,
			Song:         songFromDetail(e.SongID, details[e.SongID]),
		})
	}
	return snap
}

func songFromDetail(id string, d *domain.SongDetail) Song {
	s := Song{ID: id, Artists: []Artist{}}
	if d == nil {
		return s
	}
	s.Name = d.Name
	s.ReleaseDate = d.ReleaseDate
	if d.Album != nil {
		s.Album = Album{ID: d.Album.ID, Name: d.Album.Name, ReleaseDate: d.Album.ReleaseDate}
	}
	for _, a := range d.Artists {
		s.Artists = append(s.Artists, Artist{ID: a.ID, Name: a.Name})
	}
	return s
}
