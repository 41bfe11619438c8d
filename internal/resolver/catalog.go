package resolver

import (
	"context"
	"time"
)

// ArtistHit is an artist returned by a reference search.
type ArtistHit struct {
	ID   string
	Name string
}

// AlbumHit is an album returned by a reference search.
type AlbumHit struct {
	ID   string
	Name string
}

// SongHit is a song returned by a reference search or chart. It carries
// enough to create the canonical song, album and artists.
type SongHit struct {
	ID          string
	Name        string
	AlbumID     string
	AlbumName   string
	Artists     []ArtistHit
	ReleaseDate *time.Time
}

// ArtistIDs returns the reference IDs of the credited artists.
func (h SongHit) ArtistIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(h.Artists))
	for _, a := range h.Artists {
		ids[a.ID] = struct{}{}
	}
	return ids
}

// SongQuery is a reference song search. Artist names and album name are
// optional context.
type SongQuery struct {
	Name        string
	ArtistNames []string
	AlbumName   string
}

// ReferenceCatalog searches the reference service. An empty result is
// (nil, nil); errors are network or format failures.
type ReferenceCatalog interface {
	SearchArtists(ctx context.Context, name string) ([]ArtistHit, error)
	SearchAlbums(ctx context.Context, name string, artistNames []string) ([]AlbumHit, error)
	SearchSongs(ctx context.Context, q SongQuery) ([]SongHit, error)
}
