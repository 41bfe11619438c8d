package sqlite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kchartio/kchart/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected wal, got %s", journalMode)
	}

	var fk int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=1, got %d", fk)
	}

	tables := []string{
		"artists", "albums", "album_artists", "songs", "song_artists",
		"services", "service_artists", "service_albums", "service_songs",
		"charts", "hourly_song_charts", "hourly_song_chart_entries",
		"aggregate_hourly_song_charts", "aggregate_constituents", "aggregate_hourly_song_chart_entries",
		"fetch_tasks", "backlog_watermarks",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kchart.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen applies schema idempotently: %v", err)
	}
	s.Close()
}

func TestFormatHour(t *testing.T) {
	h := time.Date(2024, 3, 1, 16, 42, 7, 5, time.FixedZone("KST", 9*3600))
	if got := formatHour(h); got != "2024-03-01T07:00:00Z" {
		t.Errorf("formatHour = %q", got)
	}
	if formatHour(h) != formatHour(domain.TruncateHour(h)) {
		t.Error("formatHour must be stable under truncation")
	}
}

// fixture helpers shared by the package tests

func mustCreateService(t *testing.T, s *Store, slug string, reference bool) *domain.Service {
	t.Helper()
	svc, err := s.GetOrCreateService(context.Background(), &domain.Service{
		Name:        slug,
		Slug:        slug,
		URL:         "http://" + slug + ".example",
		SongURL:     "http://" + slug + ".example/song/{song_id}",
		IsReference: reference,
	})
	if err != nil {
		t.Fatalf("create service %s: %v", slug, err)
	}
	return svc
}

func mustCreateChart(t *testing.T, s *Store, slug string, weight float64, reference bool) *domain.Chart {
	t.Helper()
	svc := mustCreateService(t, s, slug, reference)
	c, err := s.GetOrCreateChart(context.Background(), &domain.Chart{
		ServiceID: svc.ID,
		Name:      slug + " hourly",
		Weight:    weight,
	})
	if err != nil {
		t.Fatalf("create chart %s: %v", slug, err)
	}
	return c
}

func mustCreateSong(t *testing.T, s *Store, name string) *domain.Song {
	t.Helper()
	ctx := context.Background()
	artist := &domain.Artist{Name: name + " artist"}
	if err := s.CreateArtist(ctx, artist); err != nil {
		t.Fatalf("create artist: %v", err)
	}
	album := &domain.Album{Name: name + " album", ArtistIDs: []string{artist.ID}}
	if err := s.CreateAlbum(ctx, album); err != nil {
		t.Fatalf("create album: %v", err)
	}
	song := &domain.Song{Name: name, AlbumID: album.ID, ArtistIDs: []string{artist.ID}}
	if err := s.CreateSong(ctx, song); err != nil {
		t.Fatalf("create song: %v", err)
	}
	return song
}

func testHour(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}
