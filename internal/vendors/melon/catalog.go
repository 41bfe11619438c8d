package melon

import (
	"context"
	"net/url"
	"strconv"

	"github.com/kchartio/kchart/internal/normalize"
	"github.com/kchartio/kchart/internal/resolver"
)

// searchPageSize is how many results each search asks for. Only the first
// page is ever read.
const searchPageSize = 10

// Catalog searches the Melon catalog for the resolver.
type Catalog struct {
	svc *Service
}

var _ resolver.ReferenceCatalog = (*Catalog)(nil)

// Catalog returns a search client sharing the service's API settings.
func (s *Service) Catalog() *Catalog {
	return &Catalog{svc: s}
}

func (c *Catalog) search(ctx context.Context, path, keyword string) (*payload, error) {
	q := url.Values{
		"version":       {"1"},
		"page":          {"1"},
		"count":         {strconv.Itoa(searchPageSize)},
		"searchKeyword": {keyword},
	}
	return c.svc.get(ctx, path, q)
}

// SearchArtists searches by name, retrying once without a trailing
// parenthetical when nothing matches.
func (c *Catalog) SearchArtists(ctx context.Context, name string) ([]resolver.ArtistHit, error) {
	data, err := c.search(ctx, "/artists", normalize.Keyword(name))
	if err != nil {
		return nil, err
	}
	if data.Count == 0 || data.Artists == nil {
		if stripped, ok := normalize.StripTrailingParen(name); ok {
			return c.SearchArtists(ctx, stripped)
		}
		c.svc.logger.Info("no artist search results", "keyword", normalize.Keyword(name))
		return nil, nil
	}
	hits := make([]resolver.ArtistHit, 0, len(data.Artists.Artist))
	for _, a := range data.Artists.Artist {
		hits = append(hits, resolver.ArtistHit{ID: string(a.ArtistID), Name: a.ArtistName})
	}
	return hits, nil
}

// SearchAlbums searches by album name plus optional artist names. Melon
// spells " & " as " and " in titles, so that form is tried first and the
// original second. Further retries drop a standalone word "album" and then
// artist parentheticals.
func (c *Catalog) SearchAlbums(ctx context.Context, name string, artistNames []string) ([]resolver.AlbumHit, error) {
	return c.searchAlbums(ctx, name, artistNames, true)
}

func (c *Catalog) searchAlbums(ctx context.Context, name string, artistNames []string, replaceAmp bool) ([]resolver.AlbumHit, error) {
	original := name
	if replaceAmp {
		name = normalize.AmpToAnd(name)
	}
	name = normalize.StripOSTParen(name)

	keyword := normalize.Keyword(append([]string{name}, artistNames...)...)
	data, err := c.search(ctx, "/albums", keyword)
	if err != nil {
		return nil, err
	}
	if data.Count > 0 && data.Albums != nil {
		hits := make([]resolver.AlbumHit, 0, len(data.Albums.Album))
		for _, a := range data.Albums.Album {
			hits = append(hits, resolver.AlbumHit{ID: string(a.AlbumID), Name: a.AlbumName})
		}
		return hits, nil
	}

	if replaceAmp && normalize.AmpToAnd(original) != original {
		return c.searchAlbums(ctx, original, artistNames, false)
	}
	if dropped, ok := normalize.DropAlbumWord(name); ok {
		return c.searchAlbums(ctx, dropped, artistNames, true)
	}
	if stripped, ok := normalize.StripParenNames(artistNames); ok {
		return c.searchAlbums(ctx, name, stripped, true)
	}
	c.svc.logger.Info("no album search results", "keyword", keyword)
	return nil, nil
}

// SearchSongs searches by title with optional artist and album context.
func (c *Catalog) SearchSongs(ctx context.Context, q resolver.SongQuery) ([]resolver.SongHit, error) {
	name := q.Name
	// Melon keeps "&" in featured artist lists.
	if !normalize.HasFeat(name) {
		name = normalize.AmpToAnd(name)
	}
	album := normalize.StripOSTParen(q.AlbumName)

	parts := append([]string{name}, q.ArtistNames...)
	keyword := normalize.Keyword(append(parts, album)...)
	data, err := c.search(ctx, "/songs", keyword)
	if err != nil {
		return nil, err
	}
	if data.Count == 0 || data.Songs == nil {
		if stripped, ok := normalize.StripParenNames(q.ArtistNames); ok {
			return c.SearchSongs(ctx, resolver.SongQuery{Name: q.Name, ArtistNames: stripped, AlbumName: q.AlbumName})
		}
		c.svc.logger.Info("no song search results", "keyword", keyword)
		return nil, nil
	}

	hits := make([]resolver.SongHit, 0, len(data.Songs.Song))
	for _, song := range data.Songs.Song {
		hit := resolver.SongHit{
			ID:        string(song.SongID),
			Name:      song.SongName,
			AlbumID:   string(song.AlbumID),
			AlbumName: song.AlbumName,
		}
		if song.IssueDate != "" {
			if released, err := parseIssueDate(song.IssueDate); err == nil {
				hit.ReleaseDate = released
			}
		}
		for _, a := range song.Artists.Artist {
			hit.Artists = append(hit.Artists, resolver.ArtistHit{ID: string(a.ArtistID), Name: a.ArtistName})
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
