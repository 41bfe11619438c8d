package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/id"
	"github.com/kchartio/kchart/internal/store"
)

const serviceColumns = `id, name, slug, url, artist_url, album_url, song_url, is_reference, created_at`

func scanService(scanner interface{ Scan(dest ...any) error }) (*domain.Service, error) {
	var (
		svc       domain.Service
		isRef     int
		createdAt string
	)
	err := scanner.Scan(&svc.ID, &svc.Name, &svc.Slug, &svc.URL,
		&svc.ArtistURL, &svc.AlbumURL, &svc.SongURL, &isRef, &createdAt)
	if err != nil {
		return nil, err
	}
	svc.IsReference = isRef != 0
	if svc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &svc, nil
}

// GetOrCreateService returns the service with svc.Slug, inserting svc when
// absent. URL templates of an existing row are refreshed from svc so
// definition changes take effect on restart.
func (s *Store) GetOrCreateService(ctx context.Context, svc *domain.Service) (*domain.Service, error) {
	if svc.ID == "" {
		svc.ID = id.MustGenerate(id.PrefixService)
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			artist_url = excluded.artist_url,
			album_url = excluded.album_url,
			song_url = excluded.song_url`,
		svc.ID, svc.Name, svc.Slug, svc.URL, svc.ArtistURL, svc.AlbumURL, svc.SongURL,
		boolToInt(svc.IsReference), formatTime(svc.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			// a second reference service
			return nil, store.ErrAlreadyExists
		}
		return nil, fmt.Errorf("upsert service: %w", err)
	}
	return s.GetServiceBySlug(ctx, svc.Slug)
}

// GetServiceBySlug returns store.ErrNotFound for unknown slugs.
func (s *Store) GetServiceBySlug(ctx context.Context, slug string) (*domain.Service, error) {
	svc, err := scanService(s.db.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return svc, err
}

// GetService returns a service by ID.
func (s *Store) GetService(ctx context.Context, serviceID string) (*domain.Service, error) {
	svc, err := scanService(s.db.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = ?`, serviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return svc, err
}

// ListServices returns the reference service first, then the rest by slug.
func (s *Store) ListServices(ctx context.Context) ([]*domain.Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY is_reference DESC, slug`)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	var out []*domain.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

const chartSelect = `SELECT c.id, c.service_id, sv.slug, c.name, c.url, c.weight, c.created_at
	FROM charts c JOIN services sv ON sv.id = c.service_id`

func scanChart(scanner interface{ Scan(dest ...any) error }) (*domain.Chart, error) {
	var (
		c         domain.Chart
		createdAt string
	)
	if err := scanner.Scan(&c.ID, &c.ServiceID, &c.Slug, &c.Name, &c.URL, &c.Weight, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreateChart returns the chart of c.ServiceID, inserting c when
// absent. Name, URL and weight are refreshed on conflict.
func (s *Store) GetOrCreateChart(ctx context.Context, c *domain.Chart) (*domain.Chart, error) {
	if c.ID == "" {
		c.ID = id.MustGenerate(id.PrefixChart)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO charts (id, service_id, name, url, weight, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(service_id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			weight = excluded.weight`,
		c.ID, c.ServiceID, c.Name, c.URL, c.Weight, formatTime(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert chart: %w", err)
	}
	got, err := scanChart(s.db.QueryRowContext(ctx, chartSelect+` WHERE c.service_id = ?`, c.ServiceID))
	if err != nil {
		return nil, fmt.Errorf("load chart: %w", err)
	}
	return got, nil
}

// GetChartBySlug returns the chart of the service with slug.
func (s *Store) GetChartBySlug(ctx context.Context, slug string) (*domain.Chart, error) {
	c, err := scanChart(s.db.QueryRowContext(ctx, chartSelect+` WHERE sv.slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return c, err
}

// ListCharts returns the reference chart first.
func (s *Store) ListCharts(ctx context.Context) ([]*domain.Chart, error) {
	rows, err := s.db.QueryContext(ctx, chartSelect+` ORDER BY sv.is_reference DESC, sv.slug`)
	if err != nil {
		return nil, fmt.Errorf("query charts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Chart
	for rows.Next() {
		c, err := scanChart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
