package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kchartio/kchart/internal/service"
)

func (s *Server) registerSongRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getSong",
		Method:      http.MethodGet,
		Path:        "/api/v1/songs/{id}",
		Summary:     "Get song",
		Description: "Returns a song with its album, artists and links to every service that lists it",
		Tags:        []string{"Songs"},
	}, s.handleGetSong)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSongHistory",
		Method:      http.MethodGet,
		Path:        "/api/v1/songs/{id}/history",
		Summary:     "Get song chart history",
		Description: "Returns initial, peak, current and final positions per chart and for the aggregate",
		Tags:        []string{"Songs"},
	}, s.handleGetSongHistory)
}

// === DTOs ===

// SongInput identifies a canonical song.
type SongInput struct {
	ID string `path:"id" maxLength:"64" doc:"Song ID"`
}

// SongOutput wraps a song view for Huma.
type SongOutput struct {
	Body *service.SongView
}

// SongHistoryOutput wraps a song's chart history for Huma.
type SongHistoryOutput struct {
	Body *service.SongHistory
}

// === Handlers ===

func (s *Server) handleGetSong(ctx context.Context, input *SongInput) (*SongOutput, error) {
	view, err := s.services.Songs.Song(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &SongOutput{Body: view}, nil
}

func (s *Server) handleGetSongHistory(ctx context.Context, input *SongInput) (*SongHistoryOutput, error) {
	history, err := s.services.Songs.History(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &SongHistoryOutput{Body: history}, nil
}
