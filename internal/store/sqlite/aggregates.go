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

const aggregateColumns = `id, hour, generation, created_at, updated_at`

func scanAggregate(scanner interface{ Scan(dest ...any) error }) (*domain.AggregateHourlySongChart, error) {
	var (
		a         domain.AggregateHourlySongChart
		hour      string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&a.ID, &hour, &a.Generation, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Hour, err = parseTime(hour); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAggregate returns the aggregate for hour with its constituent hourly
// chart IDs, or store.ErrNotFound.
func (s *Store) GetAggregate(ctx context.Context, hour time.Time) (*domain.AggregateHourlySongChart, error) {
	a, err := scanAggregate(s.db.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM aggregate_hourly_song_charts WHERE hour = ?`, formatHour(hour)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT hourly_chart_id FROM aggregate_constituents WHERE aggregate_id = ? ORDER BY hourly_chart_id`, a.ID)
	if err != nil {
		return nil, fmt.Errorf("query constituents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hid string
		if err := rows.Scan(&hid); err != nil {
			return nil, err
		}
		a.ConstituentIDs = append(a.ConstituentIDs, hid)
	}
	return a, rows.Err()
}

// ReplaceAggregate rebuilds the aggregate for hour in one transaction: the
// row is created or has its generation bumped, previous entries and
// constituent links are deleted, the new ones inserted, and prev_position is
// derived from the previous hour's aggregate. Readers never observe a
// partially written chart.
func (s *Store) ReplaceAggregate(ctx context.Context, hour time.Time, constituentIDs []string, entries []*domain.AggregateEntry) (*domain.AggregateHourlySongChart, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	agg, err := scanAggregate(tx.QueryRowContext(ctx, `
		INSERT INTO aggregate_hourly_song_charts (id, hour, generation, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(hour) DO UPDATE SET
			generation = aggregate_hourly_song_charts.generation + 1,
			updated_at = excluded.updated_at
		RETURNING `+aggregateColumns,
		id.MustGenerate(id.PrefixAggregate), formatHour(hour), now, now))
	if err != nil {
		return nil, fmt.Errorf("upsert aggregate: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM aggregate_hourly_song_chart_entries WHERE aggregate_id = ?`, agg.ID); err != nil {
		return nil, fmt.Errorf("clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM aggregate_constituents WHERE aggregate_id = ?`, agg.ID); err != nil {
		return nil, fmt.Errorf("clear constituents: %w", err)
	}

	for _, hid := range constituentIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aggregate_constituents (aggregate_id, hourly_chart_id) VALUES (?, ?)`,
			agg.ID, hid); err != nil {
			return nil, fmt.Errorf("insert constituent: %w", err)
		}
	}
	agg.ConstituentIDs = append([]string(nil), constituentIDs...)

	for _, e := range entries {
		e.AggregateID = agg.ID
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO aggregate_hourly_song_chart_entries (aggregate_id, song_id, position, score)
			VALUES (?, ?, ?, ?)`,
			agg.ID, e.SongID, e.Position, e.Score); err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrAlreadyExists.WithCause(err)
			}
			return nil, fmt.Errorf("insert aggregate entry: %w", err)
		}
	}

	if err := recomputeAggregatePrev(ctx, tx, agg.ID, hour); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// Reflect derived prev positions back onto the caller's entries.
	stored, err := s.ListAggregateEntries(ctx, agg.ID)
	if err != nil {
		return nil, err
	}
	prev := make(map[string]*int, len(stored))
	for _, e := range stored {
		prev[e.SongID] = e.PrevPosition
	}
	for _, e := range entries {
		e.PrevPosition = prev[e.SongID]
	}
	return agg, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func recomputeAggregatePrev(ctx context.Context, db execer, aggregateID string, hour time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE aggregate_hourly_song_chart_entries SET prev_position = (
			SELECT p.position FROM aggregate_hourly_song_chart_entries p
			JOIN aggregate_hourly_song_charts pa ON pa.id = p.aggregate_id
			WHERE pa.hour = ?
			  AND p.song_id = aggregate_hourly_song_chart_entries.song_id
			  AND p.position <= ?
		)
		WHERE aggregate_id = ?`,
		formatHour(domain.PrevHour(hour)), domain.ChartCutoff, aggregateID)
	if err != nil {
		return fmt.Errorf("recompute aggregate prev positions: %w", err)
	}
	return nil
}

// RecomputeAggregatePrevPositions refreshes prev_position of the aggregate at
// hour and bumps its generation, so a snapshot taken before the refresh
// cannot replace one taken after it. exists is false when there is no
// aggregate at hour.
func (s *Store) RecomputeAggregatePrevPositions(ctx context.Context, hour time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var aggID string
	err = tx.QueryRowContext(ctx, `
		UPDATE aggregate_hourly_song_charts
		SET generation = generation + 1, updated_at = ?
		WHERE hour = ?
		RETURNING id`,
		formatTime(time.Now()), formatHour(hour)).Scan(&aggID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bump aggregate generation: %w", err)
	}
	if err := recomputeAggregatePrev(ctx, tx, aggID, hour); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ListAggregateEntries returns an aggregate's entries by position.
func (s *Store) ListAggregateEntries(ctx context.Context, aggregateID string) ([]*domain.AggregateEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aggregate_id, song_id, position, score, prev_position
		FROM aggregate_hourly_song_chart_entries WHERE aggregate_id = ? ORDER BY position`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query aggregate entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.AggregateEntry
	for rows.Next() {
		var (
			e    domain.AggregateEntry
			prev sql.NullInt64
		)
		if err := rows.Scan(&e.AggregateID, &e.SongID, &e.Position, &e.Score, &prev); err != nil {
			return nil, err
		}
		e.PrevPosition = nullableInt(prev)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LatestAggregateHour returns the newest aggregate hour or store.ErrNotFound.
func (s *Store) LatestAggregateHour(ctx context.Context) (time.Time, error) {
	var hour sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(hour) FROM aggregate_hourly_song_charts`).Scan(&hour); err != nil {
		return time.Time{}, fmt.Errorf("query latest aggregate: %w", err)
	}
	if !hour.Valid {
		return time.Time{}, store.ErrNotFound
	}
	return parseTime(hour.String)
}
