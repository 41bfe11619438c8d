package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/id"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/store"
)

// Batch is a set of fetch tasks for one hour.
type Batch struct {
	ID    string              `json:"id"`
	Hour  time.Time           `json:"hour"`
	Tasks []*domain.FetchTask `json:"tasks"`
}

// EnqueueHour queues one fetch per registered chart for hour, reference
// first. The reference chart is only queued for the live hour. Charts that
// already have an open fetch for the hour are left out; an empty batch is
// returned when every chart is covered.
func (s *Scheduler) EnqueueHour(ctx context.Context, hour time.Time, family domain.TaskFamily, force bool) (*Batch, error) {
	hour = domain.TruncateHour(hour)
	batch := &Batch{ID: id.MustGenerate(id.PrefixBatch), Hour: hour}

	live := hour.Equal(domain.TruncateHour(s.now()))
	for _, v := range s.vendors.All() {
		if v.IsReference() && !live {
			// The reference feed only serves the live hour.
			continue
		}
		task, err := s.enqueueFetch(ctx, batch.ID, v.Slug(), v.IsReference(), hour, family, force)
		if err != nil {
			return nil, err
		}
		if task != nil {
			batch.Tasks = append(batch.Tasks, task)
		}
	}

	if len(batch.Tasks) > 0 {
		s.logger.Info("batch queued",
			"batch_id", batch.ID, logger.HourAttr(hour), "family", family, "fetches", len(batch.Tasks))
		s.Notify()
	}
	return batch, nil
}

// EnqueueChart queues a single-chart batch for hour.
func (s *Scheduler) EnqueueChart(ctx context.Context, slug string, hour time.Time, family domain.TaskFamily, force bool) (*Batch, error) {
	v, err := s.vendors.Get(slug)
	if err != nil {
		return nil, err
	}
	hour = domain.TruncateHour(hour)
	batch := &Batch{ID: id.MustGenerate(id.PrefixBatch), Hour: hour}
	task, err := s.enqueueFetch(ctx, batch.ID, slug, v.IsReference(), hour, family, force)
	if err != nil {
		return nil, err
	}
	if task != nil {
		batch.Tasks = append(batch.Tasks, task)
		s.Notify()
	}
	return batch, nil
}

// EnqueueRefetch queues a forced refetch of every incomplete snapshot of an
// alternate chart. Each hour gets its own batch so its aggregate is
// regenerated.
func (s *Scheduler) EnqueueRefetch(ctx context.Context, slug string) (int, error) {
	incomplete, err := s.charts.Incomplete(ctx, slug)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, hc := range incomplete {
		batch, err := s.EnqueueChart(ctx, slug, hc.Hour, domain.TaskFamilyRefetch, true)
		if err != nil {
			return queued, err
		}
		queued += len(batch.Tasks)
	}
	if queued > 0 {
		s.logger.Info("refetch queued", "chart", slug, "hours", queued)
	}
	return queued, nil
}

func (s *Scheduler) enqueueFetch(
	ctx context.Context,
	batchID, slug string,
	reference bool,
	hour time.Time,
	family domain.TaskFamily,
	force bool,
) (*domain.FetchTask, error) {
	open, err := s.store.HasOpenFetchTask(ctx, slug, hour)
	if err != nil {
		return nil, err
	}
	if open {
		s.logger.Debug("fetch already queued", "chart", slug, logger.HourAttr(hour))
		return nil, nil
	}

	priority := domain.PriorityNormal
	switch {
	case family == domain.TaskFamilyBacklog:
		priority = domain.PriorityBackground
	case reference:
		priority = domain.PriorityReference
	}

	task := &domain.FetchTask{
		BatchID:    batchID,
		Kind:       domain.TaskKindFetch,
		Family:     family,
		ChartSlug:  slug,
		Hour:       hour,
		Force:      force,
		Priority:   priority,
		MaxRetries: s.fetchRetries(family),
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("queue %s fetch: %w", slug, err)
	}
	return task, nil
}

// fetchRetries is the retry budget of a fetch. Backlog fetches never retry
// inline; the next backlog pass covers them.
func (s *Scheduler) fetchRetries(family domain.TaskFamily) int {
	if family == domain.TaskFamilyBacklog {
		return 0
	}
	return s.config.HourlyMaxRetries
}

func (s *Scheduler) aggregateRetries(family domain.TaskFamily) int {
	if family == domain.TaskFamilyBacklog {
		return 0
	}
	return s.config.AggregateMaxRetries
}

// Tasks lists tasks, newest first, optionally filtered by status.
func (s *Scheduler) Tasks(ctx context.Context, statuses []domain.TaskStatus, slug string, limit int) ([]*domain.FetchTask, error) {
	if limit < 0 {
		return nil, domainerrors.Validationf("limit must not be negative")
	}
	return s.store.ListTasks(ctx, store.TaskFilter{Statuses: statuses, ChartSlug: slug, Limit: limit})
}

// StatusFailed selects every task that has failed at least once and not
// yet succeeded.
const StatusFailed = "failed"

// ParseStatuses parses status filters. "failed" expands to the transient,
// retry and permanent failure states.
func ParseStatuses(values []string) ([]domain.TaskStatus, error) {
	var out []domain.TaskStatus
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			part = strings.TrimSpace(part)
			switch part {
			case "":
				continue
			case StatusFailed:
				out = append(out,
					domain.TaskStatusTransientFailure,
					domain.TaskStatusRetryScheduled,
					domain.TaskStatusPermanentSkip)
				continue
			}
			st, err := domain.ParseTaskStatus(part)
			if err != nil {
				return nil, domainerrors.Validationf("%v", err)
			}
			out = append(out, st)
		}
	}
	return out, nil
}
