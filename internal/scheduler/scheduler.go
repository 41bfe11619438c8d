// Package scheduler runs chart fetches and aggregate rebuilds as persisted
// tasks. Fetch tasks for one hour share a batch; once every fetch of a
// batch is terminal and one succeeded, a single aggregate task is queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/id"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/service"
	"github.com/kchartio/kchart/internal/store"
	"github.com/kchartio/kchart/internal/vendors"
)

// Updater fetches and ingests one vendor chart.
type Updater interface {
	Update(ctx context.Context, slug string, opts service.UpdateOptions) (*service.UpdateResult, error)
	Chart(ctx context.Context, slug string) (*domain.Chart, error)
	Incomplete(ctx context.Context, slug string) ([]*domain.HourlySongChart, error)
}

// Aggregator rebuilds the aggregate chart of an hour.
type Aggregator interface {
	Aggregate(ctx context.Context, hour time.Time, regenerate bool) (*domain.AggregateHourlySongChart, error)
}

// Scheduler owns the worker pool and the periodic loops.
type Scheduler struct {
	store      store.Store
	charts     Updater
	aggregates Aggregator
	vendors    *vendor.Registry
	config     config.SchedulerConfig
	logger     *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	// Worker management
	ctx        context.Context //nolint:containedctx // worker lifecycle
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	taskNotify chan struct{}
}

// New creates a scheduler. Nothing runs until Start.
func New(
	st store.Store,
	charts Updater,
	aggregates Aggregator,
	vendors *vendor.Registry,
	cfg config.SchedulerConfig,
	log *slog.Logger,
) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      st,
		charts:     charts,
		aggregates: aggregates,
		vendors:    vendors,
		config:     cfg,
		logger:     logger.OrDiscard(log),
		now:        time.Now,
		after:      time.After,
		ctx:        ctx,
		cancel:     cancel,
		taskNotify: make(chan struct{}, 1),
	}
}

// Start recovers tasks interrupted by a previous process, then starts the
// workers, the hourly loop and, when spacing is configured, the backlog
// loop.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler",
		slog.Int("workers", s.config.Workers),
		slog.Duration("retry_backoff", s.config.RetryBackoff),
	)

	s.recoverStalledTasks()

	for i := range s.config.Workers {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.hourlyLoop()

	if s.config.BacklogSpacing > 0 {
		s.wg.Add(1)
		go s.backlogLoop()
	}
}

// Stop cancels running work and waits for every goroutine. Tasks caught
// mid-fetch stay in fetching and are recovered on the next Start.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Notify wakes an idle worker.
func (s *Scheduler) Notify() {
	select {
	case s.taskNotify <- struct{}{}:
	default:
		// Already notified
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("scheduler worker started", slog.Int("worker_id", id))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("scheduler worker stopping", slog.Int("worker_id", id))
			return
		case <-s.taskNotify:
		case <-s.after(s.config.PollInterval):
			// Periodic check for retries whose backoff elapsed
		}
		if _, err := s.RunPending(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Error("task processing failed", slog.Int("worker_id", id), slog.Any("error", err))
		}
	}
}

// RunPending claims and runs runnable tasks until none is left. It
// returns the number of tasks run.
func (s *Scheduler) RunPending(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		task, err := s.store.ClaimNextTask(ctx, s.now())
		if errors.Is(err, store.ErrNotFound) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		s.run(ctx, task)
	}
}

// run executes a claimed task and records its outcome.
func (s *Scheduler) run(ctx context.Context, task *domain.FetchTask) {
	log := s.logger.With("task_id", task.ID, "kind", task.Kind, "chart", task.ChartSlug,
		logger.HourAttr(task.Hour), "attempt", task.Attempts)
	log.Debug("running task")

	var err error
	switch task.Kind {
	case domain.TaskKindFetch:
		err = s.runFetch(ctx, task)
	case domain.TaskKindAggregate:
		err = s.runAggregate(ctx, task)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}

	if err != nil && ctx.Err() != nil {
		// Shutdown. The task stays in fetching until recovered.
		return
	}

	now := s.now()
	switch {
	case err == nil:
		task.MarkSucceeded(now)
		log.Info("task succeeded")
	case s.retryable(task, err):
		task.MarkTransientFailure(err, now)
		if task.CanRetry() {
			at := now.Add(s.config.RetryBackoff)
			task.ScheduleRetry(at, now)
			log.Info("task retry scheduled", "retry_at", at, "error", err)
		} else {
			task.MarkPermanentSkip(err, now)
			log.Error("task failed after retries", "attempts", task.Attempts, "error", err)
		}
	default:
		task.MarkPermanentSkip(err, now)
		log.Error("task failed", "error", err)
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		log.Error("failed to update task", "error", err)
		return
	}

	if task.Kind == domain.TaskKindFetch && task.Status.Terminal() {
		if err := s.joinBatch(ctx, task); err != nil {
			log.Error("failed to schedule aggregate", "error", err)
		}
	}
}

// retryable reports whether err earns another attempt. Fetch tasks only
// retry network failures; aggregate failures are store errors and always
// retry within budget.
func (s *Scheduler) retryable(task *domain.FetchTask, err error) bool {
	if task.Kind == domain.TaskKindAggregate {
		return true
	}
	return fetch.IsTransient(err)
}

func (s *Scheduler) runFetch(ctx context.Context, task *domain.FetchTask) error {
	opts := service.UpdateOptions{Force: task.Force}
	ref := s.vendors.Reference()
	if ref == nil || task.ChartSlug != ref.Slug() || !task.Hour.Equal(domain.TruncateHour(s.now())) {
		hour := task.Hour
		opts.Hour = &hour
	}
	res, err := s.charts.Update(ctx, task.ChartSlug, opts)
	if err != nil {
		return err
	}
	if res.Skipped || res.Hour.Equal(task.Hour) {
		return nil
	}

	// The rows landed on another hour, whose aggregate now lacks them. The
	// batch join only covers task.Hour, so that hour gets its own rebuild.
	s.logger.Warn("vendor served a different hour",
		"chart", task.ChartSlug, "task_hour", domain.HourKey(task.Hour), "chart_hour", domain.HourKey(res.Hour))
	if _, err := s.queueAggregate(ctx, id.MustGenerate(id.PrefixBatch), task.Family, res.Hour); err != nil {
		// The rows are stored; a later batch or refresh rebuilds the hour.
		s.logger.Error("failed to queue aggregate", logger.HourAttr(res.Hour), "error", err)
	}
	return nil
}

func (s *Scheduler) runAggregate(ctx context.Context, task *domain.FetchTask) error {
	agg, err := s.aggregates.Aggregate(ctx, task.Hour, true)
	if err != nil {
		return err
	}
	if agg == nil {
		s.logger.Info("no charts to aggregate", logger.HourAttr(task.Hour))
	}
	return nil
}

// joinBatch queues the batch's aggregate task once every fetch is
// terminal and at least one succeeded. Only the first caller creates it.
func (s *Scheduler) joinBatch(ctx context.Context, task *domain.FetchTask) error {
	state, err := s.store.GetBatchState(ctx, task.BatchID)
	if err != nil {
		return err
	}
	if !state.Ready() {
		return nil
	}

	queued, err := s.queueAggregate(ctx, task.BatchID, task.Family, task.Hour)
	if err != nil || !queued {
		return err
	}
	s.logger.Info("aggregate queued",
		"batch_id", task.BatchID, logger.HourAttr(task.Hour),
		"fetched", state.Succeeded, "fetches", state.Total)
	return nil
}

// queueAggregate creates the aggregate task of a batch. It reports false
// when the batch already has one.
func (s *Scheduler) queueAggregate(ctx context.Context, batchID string, family domain.TaskFamily, hour time.Time) (bool, error) {
	agg := &domain.FetchTask{
		BatchID:    batchID,
		Kind:       domain.TaskKindAggregate,
		Family:     family,
		Hour:       domain.TruncateHour(hour),
		Priority:   domain.PriorityNormal,
		MaxRetries: s.aggregateRetries(family),
		CreatedAt:  s.now(),
	}
	err := s.store.CreateTask(ctx, agg)
	if errors.Is(err, store.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.Notify()
	return true, nil
}

// recoverStalledTasks resets tasks left running by a dead process.
func (s *Scheduler) recoverStalledTasks() {
	n, err := s.store.ResetStalledTasks(s.ctx, s.now())
	if err != nil {
		s.logger.Error("failed to recover stalled tasks", slog.Any("error", err))
		return
	}
	if n > 0 {
		s.logger.Info("recovered stalled tasks", slog.Int("count", n))
		s.Notify()
	}
}

// hourlyLoop queues a batch for the current hour HourlyOffset after every
// top of the hour.
func (s *Scheduler) hourlyLoop() {
	defer s.wg.Done()

	for {
		now := s.now()
		next := domain.TruncateHour(now).Add(s.config.HourlyOffset)
		if !next.After(now) {
			next = next.Add(time.Hour)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		hour := domain.TruncateHour(s.now())
		if _, err := s.EnqueueHour(s.ctx, hour, domain.TaskFamilyHourly, false); err != nil && s.ctx.Err() == nil {
			s.logger.Error("failed to queue hourly batch", logger.HourAttr(hour), slog.Any("error", err))
		}
	}
}
