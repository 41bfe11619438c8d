package sqlite

import (
	"context"
	"fmt"

	"github.com/kchartio/kchart/internal/domain"
)

// ListSongChartHistory returns every hour a song charted, per service slug,
// oldest first.
func (s *Store) ListSongChartHistory(ctx context.Context, songID string) (map[string][]domain.ChartPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sv.slug, h.hour, e.position
		FROM hourly_song_chart_entries e
		JOIN hourly_song_charts h ON h.id = e.hourly_chart_id
		JOIN charts c ON c.id = h.chart_id
		JOIN services sv ON sv.id = c.service_id
		WHERE e.song_id = ?
		ORDER BY sv.slug, h.hour`, songID)
	if err != nil {
		return nil, fmt.Errorf("query song history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.ChartPosition)
	for rows.Next() {
		var (
			slug string
			hour string
			p    domain.ChartPosition
		)
		if err := rows.Scan(&slug, &hour, &p.Position); err != nil {
			return nil, err
		}
		if p.Hour, err = parseTime(hour); err != nil {
			return nil, err
		}
		out[slug] = append(out[slug], p)
	}
	return out, rows.Err()
}

// ListSongAggregateHistory returns every aggregate hour a song appeared in,
// oldest first.
func (s *Store) ListSongAggregateHistory(ctx context.Context, songID string) ([]domain.ChartPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.hour, e.position
		FROM aggregate_hourly_song_chart_entries e
		JOIN aggregate_hourly_song_charts a ON a.id = e.aggregate_id
		WHERE e.song_id = ?
		ORDER BY a.hour`, songID)
	if err != nil {
		return nil, fmt.Errorf("query aggregate history: %w", err)
	}
	defer rows.Close()

	var out []domain.ChartPosition
	for rows.Next() {
		var (
			hour string
			p    domain.ChartPosition
		)
		if err := rows.Scan(&hour, &p.Position); err != nil {
			return nil, err
		}
		if p.Hour, err = parseTime(hour); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
