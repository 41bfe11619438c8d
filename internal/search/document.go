// Package search provides full-text search over the canonical catalog using
// Bleve. Songs, albums and artists share one index and are told apart by
// document type.
package search

import (
	"strings"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/normalize"
)

// DocType represents the type of document in the unified index.
type DocType string

// Document types for the search index.
const (
	DocTypeSong   DocType = "song"
	DocTypeAlbum  DocType = "album"
	DocTypeArtist DocType = "artist"
)

// SearchDocument is the unified document structure for the Bleve index.
//
// Artist and album names are denormalized into song documents so one query
// matches "title by artist" style searches.
type SearchDocument struct {
	ID   string  `json:"id"`
	Type DocType `json:"type"`

	// Song: title, Album: album name, Artist: artist name.
	Name string `json:"name"`

	// Key is Name folded by NameKey, matched whole for exact-title hits.
	Key string `json:"key"`

	Artist string `json:"artist,omitempty"` // songs and albums, comma separated
	Album  string `json:"album,omitempty"`  // songs only

	ReleaseYear int `json:"release_year,omitempty"`

	CreatedAt int64 `json:"created_at"` // Unix millis
}

// ToMap converts the document to a map with lowercase field names matching
// the index mapping.
func (d *SearchDocument) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":         d.ID,
		"type":       string(d.Type),
		"name":       d.Name,
		"key":        d.Key,
		"created_at": d.CreatedAt,
	}
	if d.Artist != "" {
		m["artist"] = d.Artist
	}
	if d.Album != "" {
		m["album"] = d.Album
	}
	if d.ReleaseYear > 0 {
		m["release_year"] = d.ReleaseYear
	}
	return m
}

// SongToSearchDocument converts a song. Artist and album names are supplied
// by the caller since this package does not read the store.
func SongToSearchDocument(s *domain.Song, artistNames []string, albumName string) *SearchDocument {
	return &SearchDocument{
		ID:          s.ID,
		Type:        DocTypeSong,
		Name:        s.Name,
		Key:         NameKey(s.Name),
		Artist:      strings.Join(artistNames, ", "),
		Album:       albumName,
		ReleaseYear: year(s.ReleaseDate),
		CreatedAt:   s.CreatedAt.UnixMilli(),
	}
}

// AlbumToSearchDocument converts an album.
func AlbumToSearchDocument(a *domain.Album, artistNames []string) *SearchDocument {
	return &SearchDocument{
		ID:          a.ID,
		Type:        DocTypeAlbum,
		Name:        a.Name,
		Key:         NameKey(a.Name),
		Artist:      strings.Join(artistNames, ", "),
		ReleaseYear: year(a.ReleaseDate),
		CreatedAt:   a.CreatedAt.UnixMilli(),
	}
}

// ArtistToSearchDocument converts an artist.
func ArtistToSearchDocument(a *domain.Artist) *SearchDocument {
	return &SearchDocument{
		ID:          a.ID,
		Type:        DocTypeArtist,
		Name:        a.Name,
		Key:         NameKey(a.Name),
		ReleaseYear: year(a.DebutDate),
		CreatedAt:   a.CreatedAt.UnixMilli(),
	}
}

// NameKey folds a name the way vendors disagree on it: fullwidth Latin
// becomes narrow, quotes are dropped, spacing collapses and case is lowered.
// "ＬＯＶＥ  DIVE" and "love dive" share a key.
func NameKey(name string) string {
	return normalize.Keyword(normalize.FoldWidth(normalize.Melonify(name)))
}

func year(t *time.Time) int {
	if t == nil {
		return 0
	}
	return t.Year()
}
