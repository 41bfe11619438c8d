package domain

import "time"

const (
	// ChartCutoff is the lowest position that still counts as charted when
	// deriving prev_position.
	ChartCutoff = 100

	// ExpectedEntries is the size of a complete vendor hourly chart.
	ExpectedEntries = 100
)

// Chart is a vendor's hourly top-100 feed. Weight is its share of the
// aggregate score.
type Chart struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// HourlySongChart is one chart's snapshot for one UTC hour.
type HourlySongChart struct {
	ID         string    `json:"id"`
	ChartID    string    `json:"chart_id"`
	Hour       time.Time `json:"hour"`
	EntryCount int       `json:"entry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HourlySongChartEntry is a song's position in one hourly chart.
type HourlySongChartEntry struct {
	HourlyChartID string `json:"hourly_chart_id"`
	SongID        string `json:"song_id"`
	Position      int    `json:"position"`
	PrevPosition  *int   `json:"prev_position,omitempty"`
}

// RankedSong is a resolved (song, position) pair ready for ingestion.
type RankedSong struct {
	SongID   string
	Position int
}

// WeightedEntry is an hourly entry joined with the weight of its chart. It is
// the aggregator's only input.
type WeightedEntry struct {
	HourlyChartID string
	SongID        string
	Position      int
	Weight        float64
}

// AggregateHourlySongChart is the combined ranking for one hour. Generation
// increases every time its entries are rebuilt.
type AggregateHourlySongChart struct {
	ID             string    `json:"id"`
	Hour           time.Time `json:"hour"`
	Generation     int64     `json:"generation"`
	ConstituentIDs []string  `json:"constituent_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AggregateEntry is a song's row in an aggregate chart.
type AggregateEntry struct {
	AggregateID  string  `json:"aggregate_id"`
	SongID       string  `json:"song_id"`
	Position     int     `json:"position"`
	Score        float64 `json:"score"`
	PrevPosition *int    `json:"prev_position,omitempty"`
}

// ChartPosition is one charted hour of a song, used for history summaries.
type ChartPosition struct {
	Hour     time.Time `json:"hour"`
	Position int       `json:"position"`
}

// ChartWeight is a chart present at an hour together with its weight.
type ChartWeight struct {
	HourlyChartID string
	ChartID       string
	Weight        float64
}
