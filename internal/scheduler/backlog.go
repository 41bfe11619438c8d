package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/store"
)

// BackfillStep queues a fetch for the next unfilled hour before the chart's
// backlog watermark and moves the watermark there. Hours that already hold
// a snapshot or an open fetch are passed over without moving the
// watermark. It returns the queued hour, or nil when the walk reached
// BacklogFloor.
func (s *Scheduler) BackfillStep(ctx context.Context, slug string) (*time.Time, error) {
	v, err := s.vendors.Get(slug)
	if err != nil {
		return nil, err
	}
	if v.IsReference() {
		return nil, domainerrors.Validationf("%s cannot fetch past hours", slug)
	}
	chart, err := s.charts.Chart(ctx, slug)
	if err != nil {
		return nil, err
	}

	from := domain.TruncateHour(s.now())
	wm, err := s.store.GetBacklogWatermark(ctx, chart.ID)
	switch {
	case err == nil:
		from = wm.Hour
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	for hour := domain.PrevHour(from); ; hour = domain.PrevHour(hour) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.config.BacklogFloor.IsZero() && hour.Before(s.config.BacklogFloor) {
			return nil, nil
		}

		_, err := s.store.GetHourlyChart(ctx, chart.ID, hour)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		open, err := s.store.HasOpenFetchTask(ctx, slug, hour)
		if err != nil {
			return nil, err
		}
		if open {
			continue
		}

		if _, err := s.EnqueueChart(ctx, slug, hour, domain.TaskFamilyBacklog, false); err != nil {
			return nil, err
		}
		if err := s.store.SetBacklogWatermark(ctx, chart.ID, hour); err != nil {
			return nil, err
		}
		s.logger.Info("backlog step queued", "chart", slug, logger.HourAttr(hour))
		return &hour, nil
	}
}

// Backfill runs up to steps backlog steps for a chart in the foreground,
// waiting BacklogSpacing between fetches. It returns the hours fetched.
func (s *Scheduler) Backfill(ctx context.Context, slug string, steps int) ([]time.Time, error) {
	var done []time.Time
	for i := 0; i < steps; i++ {
		if i > 0 && s.config.BacklogSpacing > 0 {
			select {
			case <-ctx.Done():
				return done, ctx.Err()
			case <-s.after(s.config.BacklogSpacing):
			}
		}
		hour, err := s.BackfillStep(ctx, slug)
		if err != nil {
			return done, err
		}
		if hour == nil {
			break
		}
		if _, err := s.RunPending(ctx); err != nil {
			return done, err
		}
		done = append(done, *hour)
	}
	return done, nil
}

// backlogLoop takes one backlog step per alternate chart every
// BacklogSpacing while that chart has no backlog fetch outstanding.
func (s *Scheduler) backlogLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.after(s.config.BacklogSpacing):
		}

		for _, v := range s.vendors.All() {
			if v.IsReference() {
				continue
			}
			busy, err := s.backlogBusy(s.ctx, v.Slug())
			if err != nil || busy {
				if err != nil && s.ctx.Err() == nil {
					s.logger.Error("failed to check backlog tasks", "chart", v.Slug(), slog.Any("error", err))
				}
				continue
			}
			if _, err := s.BackfillStep(s.ctx, v.Slug()); err != nil && s.ctx.Err() == nil {
				s.logger.Error("backlog step failed", "chart", v.Slug(), slog.Any("error", err))
			}
		}
	}
}

// backlogBusy reports whether a backlog fetch for slug is still open.
func (s *Scheduler) backlogBusy(ctx context.Context, slug string) (bool, error) {
	open, err := s.store.ListTasks(ctx, store.TaskFilter{
		Statuses: []domain.TaskStatus{
			domain.TaskStatusPending,
			domain.TaskStatusFetching,
			domain.TaskStatusTransientFailure,
			domain.TaskStatusRetryScheduled,
		},
		ChartSlug: slug,
	})
	if err != nil {
		return false, err
	}
	for _, t := range open {
		if t.Family == domain.TaskFamilyBacklog {
			return true, nil
		}
	}
	return false, nil
}
