package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/domain"
)

func setupTestIndex(t *testing.T) *SearchIndex {
	t.Helper()

	index, err := NewSearchIndex(Options{DataPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func seed(t *testing.T, index *SearchIndex) {
	t.Helper()

	release := time.Date(2022, 4, 5, 0, 0, 0, 0, time.UTC)
	song := &domain.Song{ID: "song-1", Name: "LOVE DIVE", ReleaseDate: &release, CreatedAt: release}
	album := &domain.Album{ID: "album-1", Name: "LOVE DIVE", ReleaseDate: &release}
	ive := &domain.Artist{ID: "artist-1", Name: "IVE (아이브)"}
	other := &domain.Song{ID: "song-2", Name: "사건의 지평선", CreatedAt: release.Add(time.Hour)}

	require.NoError(t, index.IndexDocuments([]*SearchDocument{
		SongToSearchDocument(song, []string{ive.Name}, album.Name),
		AlbumToSearchDocument(album, []string{ive.Name}),
		ArtistToSearchDocument(ive),
		SongToSearchDocument(other, []string{"윤하"}, "END THEORY : Final Edition"),
	}))
}

func TestNewSearchIndex(t *testing.T) {
	index := setupTestIndex(t)

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestNewSearchIndex_ReopensExisting(t *testing.T) {
	dir := t.TempDir()
	index, err := NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	require.NoError(t, index.IndexDocument(&SearchDocument{ID: "artist-1", Type: DocTypeArtist, Name: "IVE"}))
	require.NoError(t, index.Close())

	index, err = NewSearchIndex(Options{DataPath: dir})
	require.NoError(t, err)
	defer index.Close()

	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestSearch_ByName(t *testing.T) {
	index := setupTestIndex(t)
	seed(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "love dive", Types: []DocType{DocTypeSong}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "song-1", res.Hits[0].ID)
	assert.Equal(t, DocTypeSong, res.Hits[0].Type)
	assert.Equal(t, "IVE (아이브)", res.Hits[0].Artist)
	assert.Equal(t, 2022, res.Hits[0].ReleaseYear)
}

func TestSearch_Hangul(t *testing.T) {
	index := setupTestIndex(t)
	seed(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "지평선"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "song-2", res.Hits[0].ID)
}

func TestSearch_ByArtistContext(t *testing.T) {
	index := setupTestIndex(t)
	seed(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "아이브", IncludeFacets: true})
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	assert.Contains(t, ids, "artist-1")
	assert.Contains(t, ids, "song-1")
	assert.NotContains(t, ids, "song-2")
	assert.NotEmpty(t, res.Facets)
}

func TestSearch_EmptyQueryMatchesAll(t *testing.T) {
	index := setupTestIndex(t)
	seed(t, index)

	res, err := index.Search(context.Background(), SearchParams{Types: []DocType{DocTypeSong}, SortBy: "recent"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Total)
	assert.Equal(t, "song-2", res.Hits[0].ID)
}

func TestRebuild(t *testing.T) {
	index := setupTestIndex(t)
	seed(t, index)

	require.NoError(t, index.Rebuild())
	count, err := index.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestSongToSearchDocument_OmitsEmptyFields(t *testing.T) {
	doc := SongToSearchDocument(&domain.Song{ID: "song-9", Name: "x"}, nil, "")
	m := doc.ToMap()
	assert.NotContains(t, m, "artist")
	assert.NotContains(t, m, "album")
	assert.NotContains(t, m, "release_year")
	assert.Equal(t, "song", m["type"])
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "love dive", NameKey("ＬＯＶＥ  DIVE"))
	assert.Equal(t, "dont", NameKey("Don't"))
	assert.Equal(t, "사건의 지평선", NameKey(" 사건의 지평선 "))
}

func TestSearch_ExactTitleRanksFirst(t *testing.T) {
	index := setupTestIndex(t)
	created := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	remix := &domain.Song{ID: "song-remix", Name: "OMG OMG (Remix)", CreatedAt: created}
	exact := &domain.Song{ID: "song-omg", Name: "OMG", CreatedAt: created.Add(time.Hour)}
	require.NoError(t, index.IndexDocuments([]*SearchDocument{
		SongToSearchDocument(remix, []string{"NewJeans"}, "OMG"),
		SongToSearchDocument(exact, []string{"NewJeans"}, "OMG"),
	}))

	res, err := index.Search(context.Background(), SearchParams{Query: "ｏｍｇ", Types: []DocType{DocTypeSong}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "song-omg", res.Hits[0].ID)
}
