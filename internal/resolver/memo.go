package resolver

import (
	"context"
	"strings"
)

// searchMemo caches reference searches for one Resolve call. Escalation
// steps repeat the same artist and album searches.
type searchMemo struct {
	catalog     ReferenceCatalog
	artistCache map[string][]ArtistHit
	albumCache  map[string][]AlbumHit
	songCache   map[string][]SongHit
}

func newSearchMemo(c ReferenceCatalog) *searchMemo {
	return &searchMemo{
		catalog:     c,
		artistCache: make(map[string][]ArtistHit),
		albumCache:  make(map[string][]AlbumHit),
		songCache:   make(map[string][]SongHit),
	}
}

func (m *searchMemo) artists(ctx context.Context, name string) ([]ArtistHit, error) {
	if hits, ok := m.artistCache[name]; ok {
		return hits, nil
	}
	hits, err := m.catalog.SearchArtists(ctx, name)
	if err != nil {
		return nil, err
	}
	m.artistCache[name] = hits
	return hits, nil
}

func (m *searchMemo) albums(ctx context.Context, name string, artistNames []string) ([]AlbumHit, error) {
	key := name + "\x00" + strings.Join(artistNames, "\x00")
	if hits, ok := m.albumCache[key]; ok {
		return hits, nil
	}
	hits, err := m.catalog.SearchAlbums(ctx, name, artistNames)
	if err != nil {
		return nil, err
	}
	m.albumCache[key] = hits
	return hits, nil
}

func (m *searchMemo) songs(ctx context.Context, q SongQuery) ([]SongHit, error) {
	key := q.Name + "\x00" + q.AlbumName + "\x00" + strings.Join(q.ArtistNames, "\x00")
	if hits, ok := m.songCache[key]; ok {
		return hits, nil
	}
	hits, err := m.catalog.SearchSongs(ctx, q)
	if err != nil {
		return nil, err
	}
	m.songCache[key] = hits
	return hits, nil
}
