// Package vendor defines the per-service chart adapters and the registry
// that selects them by slug. Each subpackage implements ChartService for
// one music service.
package vendor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kchartio/kchart/internal/validation"
)

// ErrHistoricalUnavailable is returned by the reference service when asked
// for any hour other than the live one. It is permanent.
var ErrHistoricalUnavailable = errors.New("reference service only serves the live hourly chart")

// ExpectedRows is the size of a complete vendor chart.
const ExpectedRows = 100

// Definition describes the Service and Chart rows a vendor owns. URL
// templates use {artist_id}, {album_id} and {song_id} placeholders.
type Definition struct {
	ServiceName string
	ServiceURL  string
	ArtistURL   string
	AlbumURL    string
	SongURL     string

	ChartName string
	ChartURL  string
	Weight    float64
}

// RawArtist is an artist as a vendor lists it.
type RawArtist struct {
	Name    string `json:"name" validate:"nonblank"`
	LocalID string `json:"local_id" validate:"localid"`
}

// RawRow is one scraped chart row. Names are already normalized for
// reference search.
type RawRow struct {
	Rank      int         `json:"rank" validate:"gte=1"`
	SongName  string      `json:"song_name" validate:"nonblank"`
	SongID    string      `json:"song_id" validate:"localid"`
	AlbumName string      `json:"album_name" validate:"nonblank"`
	AlbumID   string      `json:"album_id" validate:"localid"`
	Artists   []RawArtist `json:"artists" validate:"min=1,dive"`

	// ReleaseDate is only known for reference rows.
	ReleaseDate *time.Time `json:"release_date,omitempty"`

	// Collab marks a single listed artist that may stand for several
	// (see ArtistExpander).
	Collab bool `json:"collab,omitempty"`
}

// RawChart is a fetched hourly chart before resolution.
type RawChart struct {
	Slug string
	Hour time.Time
	Rows []RawRow
}

// ValidRows returns the rows that pass validation and one error per
// rejected row.
func (c *RawChart) ValidRows(v *validation.Validator) ([]RawRow, []error) {
	valid := make([]RawRow, 0, len(c.Rows))
	var rejected []error
	for _, row := range c.Rows {
		if err := v.Validate(row); err != nil {
			rejected = append(rejected, fmt.Errorf("%s rank %d: %w", c.Slug, row.Rank, err))
			continue
		}
		valid = append(valid, row)
	}
	return valid, rejected
}

// ChartService is one vendor's hourly chart feed.
type ChartService interface {
	Slug() string
	Definition() Definition
	IsReference() bool
	// FetchHourly returns the chart for hour, or the live chart when hour
	// is nil. Failures are fetch.TransientError, fetch.FormatError or
	// ErrHistoricalUnavailable.
	FetchHourly(ctx context.Context, hour *time.Time) (*RawChart, error)
}

// ArtistExpander is implemented by vendors that list collaborations as one
// artist. It is only consulted for rows that need resolving, since
// expanding costs an extra request.
type ArtistExpander interface {
	ExpandArtists(ctx context.Context, artist RawArtist) ([]RawArtist, error)
}
