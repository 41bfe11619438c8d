package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kchartio/kchart/internal/search"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search catalog",
		Description: "Federated search across canonical songs, albums and artists",
		Tags:        []string{"Search"},
	}, s.handleSearch)
}

// === DTOs ===

// SearchInput contains parameters for searching the catalog.
type SearchInput struct {
	Query  string `query:"q" required:"true" minLength:"1" maxLength:"200" doc:"Search query"`
	Types  string `query:"types" maxLength:"100" doc:"Comma-separated types to search (song,album,artist). Omit for all."`
	Limit  int    `query:"limit" minimum:"0" maximum:"100" doc:"Max results (default 20)"`
	Offset int    `query:"offset" minimum:"0" doc:"Pagination offset (default 0)"`
	Facets bool   `query:"facets" doc:"Include type facets in response"`
}

// SearchOutput wraps the search response for Huma.
type SearchOutput struct {
	Body *search.SearchResult
}

// === Handlers ===

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	params := search.DefaultSearchParams()
	params.Query = input.Query
	params.Offset = input.Offset
	params.IncludeFacets = input.Facets
	params.Highlight = true
	if input.Limit > 0 {
		params.Limit = input.Limit
	}

	if input.Types != "" {
		for t := range strings.SplitSeq(input.Types, ",") {
			switch dt := search.DocType(strings.TrimSpace(t)); dt {
			case search.DocTypeSong, search.DocTypeAlbum, search.DocTypeArtist:
				params.Types = append(params.Types, dt)
			}
		}
	}

	s.logger.Debug("search request received",
		"query", params.Query,
		"types", input.Types,
		"limit", params.Limit,
	)

	result, err := s.services.Search.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	if result.Hits == nil {
		result.Hits = []search.SearchHit{}
	}
	return &SearchOutput{Body: result}, nil
}
