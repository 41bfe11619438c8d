package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/search"
)

func TestSearch(t *testing.T) {
	ts := setupTestServer(t)
	s := ts.song(t, "1", "Hype Boy")
	ts.song(t, "2", "Ditto")

	resp := ts.api.Get("/api/v1/search?q=hype&types=song")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	env := decode[search.SearchResult](t, resp.Body.Bytes())
	require.NotEmpty(t, env.Data.Hits)
	assert.Equal(t, s.ID, env.Data.Hits[0].ID)
	for _, hit := range env.Data.Hits {
		assert.Equal(t, search.DocTypeSong, hit.Type)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.api.Get("/api/v1/search")

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}
