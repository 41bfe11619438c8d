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

const hourlyChartSelect = `SELECT h.id, h.chart_id, h.hour, h.created_at, h.updated_at,
	(SELECT COUNT(*) FROM hourly_song_chart_entries e WHERE e.hourly_chart_id = h.id) AS entry_count
	FROM hourly_song_charts h`

func scanHourlyChart(scanner interface{ Scan(dest ...any) error }) (*domain.HourlySongChart, error) {
	var (
		h         domain.HourlySongChart
		hour      string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&h.ID, &h.ChartID, &hour, &createdAt, &updatedAt, &h.EntryCount); err != nil {
		return nil, err
	}
	var err error
	if h.Hour, err = parseTime(hour); err != nil {
		return nil, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetOrCreateHourlyChart returns the (chart, hour) snapshot row, creating an
// empty one when absent. created reports whether this call inserted it;
// concurrent callers converge on the same row through UNIQUE(chart_id, hour).
func (s *Store) GetOrCreateHourlyChart(ctx context.Context, chartID string, hour time.Time) (*domain.HourlySongChart, bool, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hourly_song_charts (id, chart_id, hour, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chart_id, hour) DO NOTHING`,
		id.MustGenerate(id.PrefixHourly), chartID, formatHour(hour), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert hourly chart: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	h, err := s.GetHourlyChart(ctx, chartID, hour)
	if err != nil {
		return nil, false, err
	}
	return h, n > 0, nil
}

// GetHourlyChart returns store.ErrNotFound when no snapshot exists.
func (s *Store) GetHourlyChart(ctx context.Context, chartID string, hour time.Time) (*domain.HourlySongChart, error) {
	h, err := scanHourlyChart(s.db.QueryRowContext(ctx,
		hourlyChartSelect+` WHERE h.chart_id = ? AND h.hour = ?`, chartID, formatHour(hour)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return h, err
}

// UpsertHourlyEntries writes positions for one snapshot in a single
// transaction. An entry holding a target position for a different song is
// displaced first so UNIQUE(hourly_chart_id, position) holds throughout.
// Rows must not repeat a song.
func (s *Store) UpsertHourlyEntries(ctx context.Context, hourlyChartID string, rows []domain.RankedSong) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM hourly_song_chart_entries WHERE hourly_chart_id = ? AND position = ? AND song_id <> ?`,
			hourlyChartID, r.Position, r.SongID); err != nil {
			return fmt.Errorf("displace position %d: %w", r.Position, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO hourly_song_chart_entries (hourly_chart_id, song_id, position)
			VALUES (?, ?, ?)
			ON CONFLICT(hourly_chart_id, song_id) DO UPDATE SET position = excluded.position
			WHERE position <> excluded.position`,
			hourlyChartID, r.SongID, r.Position); err != nil {
			return fmt.Errorf("upsert entry %s: %w", r.SongID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE hourly_song_charts SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), hourlyChartID); err != nil {
		return fmt.Errorf("touch hourly chart: %w", err)
	}
	return tx.Commit()
}

// RecomputeHourlyPrevPositions derives prev_position for every entry of the
// (chart, hour) snapshot from the same chart's previous hour. A previous
// position beyond domain.ChartCutoff counts as not charted. exists is false
// when there is no snapshot at hour.
func (s *Store) RecomputeHourlyPrevPositions(ctx context.Context, chartID string, hour time.Time) (bool, error) {
	h, err := s.GetHourlyChart(ctx, chartID, hour)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE hourly_song_chart_entries SET prev_position = (
			SELECT p.position FROM hourly_song_chart_entries p
			JOIN hourly_song_charts ph ON ph.id = p.hourly_chart_id
			WHERE ph.chart_id = ? AND ph.hour = ?
			  AND p.song_id = hourly_song_chart_entries.song_id
			  AND p.position <= ?
		)
		WHERE hourly_chart_id = ?`,
		chartID, formatHour(domain.PrevHour(hour)), domain.ChartCutoff, h.ID)
	if err != nil {
		return true, fmt.Errorf("recompute prev positions: %w", err)
	}
	return true, nil
}

// ListHourlyEntries returns a snapshot's entries by position.
func (s *Store) ListHourlyEntries(ctx context.Context, hourlyChartID string) ([]*domain.HourlySongChartEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hourly_chart_id, song_id, position, prev_position
		FROM hourly_song_chart_entries WHERE hourly_chart_id = ? ORDER BY position`, hourlyChartID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.HourlySongChartEntry
	for rows.Next() {
		var (
			e    domain.HourlySongChartEntry
			prev sql.NullInt64
		)
		if err := rows.Scan(&e.HourlyChartID, &e.SongID, &e.Position, &prev); err != nil {
			return nil, err
		}
		e.PrevPosition = nullableInt(prev)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListIncompleteHourlyCharts returns the chart's snapshots holding fewer
// than expected entries, oldest first.
func (s *Store) ListIncompleteHourlyCharts(ctx context.Context, chartID string, expected int) ([]*domain.HourlySongChart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (`+hourlyChartSelect+` WHERE h.chart_id = ?)
		WHERE entry_count < ? ORDER BY hour`, chartID, expected)
	if err != nil {
		return nil, fmt.Errorf("query hourly charts: %w", err)
	}
	defer rows.Close()

	var out []*domain.HourlySongChart
	for rows.Next() {
		h, err := scanHourlyChart(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListWeightedEntries returns every entry charted at hour with its chart's
// weight, plus the charts that contributed. A snapshot without entries does
// not count as present. Both come from one statement so they describe the
// same point in time.
func (s *Store) ListWeightedEntries(ctx context.Context, hour time.Time) ([]domain.WeightedEntry, []domain.ChartWeight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.hourly_chart_id, h.chart_id, e.song_id, e.position, c.weight
		FROM hourly_song_chart_entries e
		JOIN hourly_song_charts h ON h.id = e.hourly_chart_id
		JOIN charts c ON c.id = h.chart_id
		WHERE h.hour = ?
		ORDER BY h.chart_id, e.position`, formatHour(hour))
	if err != nil {
		return nil, nil, fmt.Errorf("query weighted entries: %w", err)
	}
	defer rows.Close()

	var (
		entries []domain.WeightedEntry
		charts  []domain.ChartWeight
		seen    = make(map[string]bool)
	)
	for rows.Next() {
		var (
			e       domain.WeightedEntry
			chartID string
		)
		if err := rows.Scan(&e.HourlyChartID, &chartID, &e.SongID, &e.Position, &e.Weight); err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
		if !seen[e.HourlyChartID] {
			seen[e.HourlyChartID] = true
			charts = append(charts, domain.ChartWeight{HourlyChartID: e.HourlyChartID, ChartID: chartID, Weight: e.Weight})
		}
	}
	return entries, charts, rows.Err()
}

// LatestHourlyChartHour returns the newest snapshot hour of a chart.
func (s *Store) LatestHourlyChartHour(ctx context.Context, chartID string) (time.Time, error) {
	var hour sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(hour) FROM hourly_song_charts WHERE chart_id = ?`, chartID).Scan(&hour)
	if err != nil {
		return time.Time{}, fmt.Errorf("query latest hour: %w", err)
	}
	if !hour.Valid {
		return time.Time{}, store.ErrNotFound
	}
	return parseTime(hour.String)
}
