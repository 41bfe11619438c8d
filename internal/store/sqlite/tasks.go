package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/id"
	"github.com/kchartio/kchart/internal/store"
)

// taskColumns must match the scan order in scanTask.
const taskColumns = `id, batch_id, kind, family, chart_slug, hour, force,
	status, priority, attempts, max_retries, last_error, next_attempt_at,
	created_at, updated_at, started_at, completed_at`

func scanTask(scanner interface{ Scan(dest ...any) error }) (*domain.FetchTask, error) {
	var (
		t           domain.FetchTask
		hour        string
		force       int
		nextAttempt sql.NullString
		createdAt   string
		updatedAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	err := scanner.Scan(
		&t.ID, &t.BatchID, &t.Kind, &t.Family, &t.ChartSlug, &hour, &force,
		&t.Status, &t.Priority, &t.Attempts, &t.MaxRetries, &t.LastError, &nextAttempt,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Force = force != 0
	if t.Hour, err = parseTime(hour); err != nil {
		return nil, err
	}
	if t.NextAttemptAt, err = parseNullableTime(nextAttempt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask inserts a task. A second aggregate task for the same batch is
// rejected with store.ErrAlreadyExists.
func (s *Store) CreateTask(ctx context.Context, t *domain.FetchTask) error {
	if t.ID == "" {
		t.ID = id.MustGenerate(id.PrefixTask)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = domain.TaskStatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.BatchID, t.Kind, t.Family, t.ChartSlug, formatHour(t.Hour), boolToInt(t.Force),
		t.Status, t.Priority, t.Attempts, t.MaxRetries, t.LastError, nullTimeString(t.NextAttemptAt),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), nullTimeString(t.StartedAt), nullTimeString(t.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask returns store.ErrNotFound for unknown IDs.
func (s *Store) GetTask(ctx context.Context, taskID string) (*domain.FetchTask, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM fetch_tasks WHERE id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return t, err
}

// UpdateTask persists the mutable fields of a task.
func (s *Store) UpdateTask(ctx context.Context, t *domain.FetchTask) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fetch_tasks SET
			status = ?, attempts = ?, last_error = ?, next_attempt_at = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		t.Status, t.Attempts, t.LastError, nullTimeString(t.NextAttemptAt),
		formatTime(t.UpdatedAt), nullTimeString(t.StartedAt), nullTimeString(t.CompletedAt),
		t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClaimNextTask atomically moves the most urgent runnable task to fetching
// and returns it. Runnable means pending, or retry_scheduled with its
// backoff elapsed. Returns store.ErrNotFound when nothing is runnable.
func (s *Store) ClaimNextTask(ctx context.Context, now time.Time) (*domain.FetchTask, error) {
	ts := formatTime(now)
	t, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE fetch_tasks SET
			status = ?, attempts = attempts + 1, next_attempt_at = NULL,
			started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM fetch_tasks
			WHERE status = ?
			   OR (status = ? AND next_attempt_at <= ?)
			ORDER BY priority DESC, created_at, id
			LIMIT 1
		)
		RETURNING `+taskColumns,
		domain.TaskStatusFetching, ts, ts,
		domain.TaskStatusPending, domain.TaskStatusRetryScheduled, ts))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return t, nil
}

// GetBatchState counts the fetch tasks of a batch by outcome.
func (s *Store) GetBatchState(ctx context.Context, batchID string) (domain.BatchState, error) {
	var b domain.BatchState
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM fetch_tasks WHERE batch_id = ? AND kind = ?`,
		domain.TaskStatusSucceeded, domain.TaskStatusPermanentSkip,
		domain.TaskStatusSucceeded,
		batchID, domain.TaskKindFetch,
	).Scan(&b.Total, &b.Terminal, &b.Succeeded)
	if err != nil {
		return b, fmt.Errorf("query batch state: %w", err)
	}
	return b, nil
}

// ListTasks returns tasks newest first.
func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*domain.FetchTask, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, `status IN (`+placeholders(len(filter.Statuses))+`)`)
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.ChartSlug != "" {
		where = append(where, `chart_slug = ?`)
		args = append(args, filter.ChartSlug)
	}

	query := `SELECT ` + taskColumns + ` FROM fetch_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.FetchTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasOpenFetchTask reports whether a non-terminal fetch for (chart, hour) is queued.
func (s *Store) HasOpenFetchTask(ctx context.Context, chartSlug string, hour time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fetch_tasks
		WHERE kind = ? AND chart_slug = ? AND hour = ? AND status NOT IN (?, ?)`,
		domain.TaskKindFetch, chartSlug, formatHour(hour),
		domain.TaskStatusSucceeded, domain.TaskStatusPermanentSkip,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query open tasks: %w", err)
	}
	return n > 0, nil
}

// ResetStalledTasks returns tasks left in fetching or transient_failure by a
// dead process to pending. The interrupted attempt is not refunded.
func (s *Store) ResetStalledTasks(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fetch_tasks SET status = ?, updated_at = ?
		WHERE status IN (?, ?)`,
		domain.TaskStatusPending, formatTime(now),
		domain.TaskStatusFetching, domain.TaskStatusTransientFailure)
	if err != nil {
		return 0, fmt.Errorf("reset stalled tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// GetBacklogWatermark returns store.ErrNotFound before the first backlog step.
func (s *Store) GetBacklogWatermark(ctx context.Context, chartID string) (*domain.BacklogWatermark, error) {
	var (
		w         = domain.BacklogWatermark{ChartID: chartID}
		hour      string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT hour, updated_at FROM backlog_watermarks WHERE chart_id = ?`, chartID,
	).Scan(&hour, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if w.Hour, err = parseTime(hour); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// SetBacklogWatermark records hour as the chart's backlog position.
func (s *Store) SetBacklogWatermark(ctx context.Context, chartID string, hour time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backlog_watermarks (chart_id, hour, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chart_id) DO UPDATE SET hour = excluded.hour, updated_at = excluded.updated_at`,
		chartID, formatHour(hour), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set watermark: %w", err)
	}
	return nil
}
