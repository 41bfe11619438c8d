// Package domain holds the catalog, chart and task entities shared by every layer.
package domain

import (
	"strings"
	"time"
)

// Artist is a canonical artist. Identity never changes once created; the name
// may be corrected by an operator.
type Artist struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	DebutDate *time.Time `json:"debut_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Album is a canonical album. Albums own their songs.
type Album struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	ArtistIDs   []string   `json:"artist_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Song is the single row representing "the same song" across every service.
type Song struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReleaseDate *time.Time `json:"release_date,omitempty"`
	AlbumID     string     `json:"album_id"`
	ArtistIDs   []string   `json:"artist_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SongDetail is a song with its album and artists loaded.
type SongDetail struct {
	Song
	Album   *Album    `json:"album"`
	Artists []*Artist `json:"artists"`
}

// ArtistNames returns the artist names in credit order.
func (d *SongDetail) ArtistNames() []string {
	names := make([]string, 0, len(d.Artists))
	for _, a := range d.Artists {
		names = append(names, a.Name)
	}
	return names
}

// Service is one music vendor. Exactly one service is the reference service
// whose catalog IDs anchor cross-service matching.
type Service struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	URL         string    `json:"url"`
	ArtistURL   string    `json:"artist_url"`
	AlbumURL    string    `json:"album_url"`
	SongURL     string    `json:"song_url"`
	IsReference bool      `json:"is_reference"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArtistLink returns the vendor page for a service-local artist ID.
func (s *Service) ArtistLink(localID string) string {
	return strings.ReplaceAll(s.ArtistURL, "{artist_id}", localID)
}

// AlbumLink returns the vendor page for a service-local album ID.
func (s *Service) AlbumLink(localID string) string {
	return strings.ReplaceAll(s.AlbumURL, "{album_id}", localID)
}

// SongLink returns the vendor page for a service-local song ID.
func (s *Service) SongLink(localID string) string {
	return strings.ReplaceAll(s.SongURL, "{song_id}", localID)
}

// EntityKind names the canonical entity a service mapping points at.
type EntityKind string

const (
	EntityArtist EntityKind = "artist"
	EntityAlbum  EntityKind = "album"
	EntitySong   EntityKind = "song"
)

// ServiceMapping ties a canonical entity to a service-local ID. Both
// (service, entity) and (service, local ID) are unique.
type ServiceMapping struct {
	Kind      EntityKind `json:"kind"`
	ServiceID string     `json:"service_id"`
	EntityID  string     `json:"entity_id"`
	LocalID   string     `json:"local_id"`
}
