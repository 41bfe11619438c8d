package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/search"
	"github.com/kchartio/kchart/internal/store"
)

// reindexPageSize is the number of songs loaded per page by ReindexAll.
const reindexPageSize = 500

// SearchService keeps the catalog search index in step with the store and
// answers catalog queries. It is installed as the store's SearchIndexer.
type SearchService struct {
	index  *search.SearchIndex
	store  store.Catalog
	logger *slog.Logger
}

var _ store.SearchIndexer = (*SearchService)(nil)

// NewSearchService creates a new search service.
func NewSearchService(index *search.SearchIndex, catalog store.Catalog, log *slog.Logger) *SearchService {
	return &SearchService{
		index:  index,
		store:  catalog,
		logger: logger.OrDiscard(log),
	}
}

// Search runs a catalog query.
func (s *SearchService) Search(ctx context.Context, params search.SearchParams) (*search.SearchResult, error) {
	return s.index.Search(ctx, params)
}

// IndexArtist indexes a single artist.
func (s *SearchService) IndexArtist(_ context.Context, a *domain.Artist) error {
	if err := s.index.IndexDocument(search.ArtistToSearchDocument(a)); err != nil {
		return fmt.Errorf("index artist: %w", err)
	}
	s.logger.Debug("indexed artist", "id", a.ID, "name", a.Name)
	return nil
}

// IndexAlbum indexes a single album with its artist names.
func (s *SearchService) IndexAlbum(ctx context.Context, a *domain.Album) error {
	names, err := s.artistNames(ctx, a.ArtistIDs)
	if err != nil {
		return err
	}
	if err := s.index.IndexDocument(search.AlbumToSearchDocument(a, names)); err != nil {
		return fmt.Errorf("index album: %w", err)
	}
	s.logger.Debug("indexed album", "id", a.ID, "name", a.Name)
	return nil
}

// IndexSong indexes a single song with its artist and album names.
func (s *SearchService) IndexSong(ctx context.Context, song *domain.Song) error {
	doc, err := s.buildSongDocument(ctx, song)
	if err != nil {
		return err
	}
	if err := s.index.IndexDocument(doc); err != nil {
		return fmt.Errorf("index song: %w", err)
	}
	s.logger.Debug("indexed song", "id", song.ID, "name", song.Name)
	return nil
}

// DocumentCount returns the number of indexed documents.
func (s *SearchService) DocumentCount() (uint64, error) {
	return s.index.DocumentCount()
}

// ReindexAll rebuilds the index from every song in the catalog together
// with its album and artists.
func (s *SearchService) ReindexAll(ctx context.Context) error {
	s.logger.Info("starting full reindex")

	if err := s.index.Rebuild(); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}

	albums := make(map[string]bool)
	artists := make(map[string]bool)
	var songs int
	for offset := 0; ; offset += reindexPageSize {
		page, err := s.store.ListSongs(ctx, offset, reindexPageSize)
		if err != nil {
			return fmt.Errorf("list songs: %w", err)
		}

		docs := make([]*search.SearchDocument, 0, len(page))
		for _, song := range page {
			doc, err := s.buildSongDocument(ctx, song)
			if err != nil {
				s.logger.Warn("failed to build song document", "id", song.ID, "error", err)
				continue
			}
			docs = append(docs, doc)

			if !albums[song.AlbumID] {
				albums[song.AlbumID] = true
				if a, err := s.store.GetAlbum(ctx, song.AlbumID); err == nil {
					names, _ := s.artistNames(ctx, a.ArtistIDs)
					docs = append(docs, search.AlbumToSearchDocument(a, names))
				}
			}
			var fresh []string
			for _, id := range song.ArtistIDs {
				if !artists[id] {
					artists[id] = true
					fresh = append(fresh, id)
				}
			}
			if len(fresh) > 0 {
				list, err := s.store.GetArtistsByIDs(ctx, fresh)
				if err == nil {
					for _, a := range list {
						docs = append(docs, search.ArtistToSearchDocument(a))
					}
				}
			}
		}
		if len(docs) > 0 {
			if err := s.index.IndexDocuments(docs); err != nil {
				return fmt.Errorf("index documents: %w", err)
			}
		}
		songs += len(page)
		if len(page) < reindexPageSize {
			break
		}
	}

	s.logger.Info("reindex complete", "songs", songs, "albums", len(albums), "artists", len(artists))
	return nil
}

func (s *SearchService) buildSongDocument(ctx context.Context, song *domain.Song) (*search.SearchDocument, error) {
	names, err := s.artistNames(ctx, song.ArtistIDs)
	if err != nil {
		return nil, err
	}
	var albumName string
	if song.AlbumID != "" {
		album, err := s.store.GetAlbum(ctx, song.AlbumID)
		if err != nil {
			return nil, fmt.Errorf("get album: %w", err)
		}
		albumName = album.Name
	}
	return search.SongToSearchDocument(song, names, albumName), nil
}

func (s *SearchService) artistNames(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	list, err := s.store.GetArtistsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get artists: %w", err)
	}
	byID := make(map[string]string, len(list))
	for _, a := range list {
		byID[a.ID] = a.Name
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			names = append(names, n)
		}
	}
	return names, nil
}
