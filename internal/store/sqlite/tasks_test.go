package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/store"
)

func newTask(batch, slug string, kind domain.TaskKind, priority int) *domain.FetchTask {
	return &domain.FetchTask{
		BatchID:    batch,
		Kind:       kind,
		Family:     domain.TaskFamilyHourly,
		ChartSlug:  slug,
		Hour:       testHour(4),
		Priority:   priority,
		MaxRetries: 2,
	}
}

func TestClaimNextTask_PriorityOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	genie := newTask("batch-1", "genie", domain.TaskKindFetch, domain.PriorityNormal)
	melon := newTask("batch-1", "melon", domain.TaskKindFetch, domain.PriorityReference)
	for _, task := range []*domain.FetchTask{genie, melon} {
		if err := s.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	now := time.Now()
	first, err := s.ClaimNextTask(ctx, now)
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if first.ID != melon.ID {
		t.Errorf("reference fetch must be claimed first, got %s", first.ChartSlug)
	}
	if first.Status != domain.TaskStatusFetching || first.Attempts != 1 || first.StartedAt == nil {
		t.Errorf("claimed task: %+v", first)
	}

	second, err := s.ClaimNextTask(ctx, now)
	if err != nil || second.ID != genie.ID {
		t.Fatalf("second claim: %v %v", second, err)
	}

	if _, err := s.ClaimNextTask(ctx, now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound when queue is empty, got %v", err)
	}
}

func TestClaimNextTask_RespectsBackoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := newTask("batch-1", "genie", domain.TaskKindFetch, domain.PriorityNormal)
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	claimed, _ := s.ClaimNextTask(ctx, now)
	claimed.MarkTransientFailure(errors.New("timeout"), now)
	claimed.ScheduleRetry(now.Add(5*time.Minute), now)
	if err := s.UpdateTask(ctx, claimed); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	if _, err := s.ClaimNextTask(ctx, now.Add(time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("task claimed before backoff elapsed: %v", err)
	}
	again, err := s.ClaimNextTask(ctx, now.Add(5*time.Minute+time.Millisecond))
	if err != nil {
		t.Fatalf("claim after backoff: %v", err)
	}
	if again.Attempts != 2 || again.LastError != "timeout" {
		t.Errorf("retried task: %+v", again)
	}
}

func TestBatchBarrier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := newTask("batch-9", "genie", domain.TaskKindFetch, domain.PriorityNormal)
	b := newTask("batch-9", "bugs", domain.TaskKindFetch, domain.PriorityNormal)
	s.CreateTask(ctx, a)
	s.CreateTask(ctx, b)

	state, err := s.GetBatchState(ctx, "batch-9")
	if err != nil {
		t.Fatalf("GetBatchState: %v", err)
	}
	if state.Total != 2 || state.Ready() {
		t.Errorf("fresh batch: %+v", state)
	}

	a.MarkSucceeded(now)
	s.UpdateTask(ctx, a)
	b.MarkPermanentSkip(errors.New("format"), now)
	s.UpdateTask(ctx, b)

	state, _ = s.GetBatchState(ctx, "batch-9")
	if !state.Ready() || state.Succeeded != 1 {
		t.Errorf("terminal batch: %+v", state)
	}

	agg := newTask("batch-9", "", domain.TaskKindAggregate, domain.PriorityNormal)
	if err := s.CreateTask(ctx, agg); err != nil {
		t.Fatalf("first aggregate task: %v", err)
	}
	dup := newTask("batch-9", "", domain.TaskKindAggregate, domain.PriorityNormal)
	if err := s.CreateTask(ctx, dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("second aggregate task: expected ErrAlreadyExists, got %v", err)
	}

	// aggregate tasks do not count toward the fetch barrier
	state, _ = s.GetBatchState(ctx, "batch-9")
	if state.Total != 2 {
		t.Errorf("aggregate task counted in batch: %+v", state)
	}
}

func TestListTasks_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	ok := newTask("b", "genie", domain.TaskKindFetch, 1)
	failed := newTask("b", "mnet", domain.TaskKindFetch, 1)
	s.CreateTask(ctx, ok)
	s.CreateTask(ctx, failed)
	failed.MarkPermanentSkip(errors.New("mnet returned 403"), now)
	s.UpdateTask(ctx, failed)

	got, err := s.ListTasks(ctx, store.TaskFilter{Statuses: []domain.TaskStatus{domain.TaskStatusPermanentSkip}})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(got) != 1 || got[0].LastError != "mnet returned 403" {
		t.Errorf("failed tasks: %+v", got)
	}

	got, _ = s.ListTasks(ctx, store.TaskFilter{ChartSlug: "genie", Limit: 5})
	if len(got) != 1 || got[0].ID != ok.ID {
		t.Errorf("by chart: %+v", got)
	}
}

func TestHasOpenFetchTaskAndReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	task := newTask("b", "genie", domain.TaskKindFetch, 1)
	s.CreateTask(ctx, task)

	open, err := s.HasOpenFetchTask(ctx, "genie", testHour(4))
	if err != nil || !open {
		t.Fatalf("HasOpenFetchTask: %v %v", open, err)
	}

	if _, err := s.ClaimNextTask(ctx, now); err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	n, err := s.ResetStalledTasks(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("ResetStalledTasks: %d %v", n, err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status != domain.TaskStatusPending || got.Attempts != 1 {
		t.Errorf("reset task: %+v", got)
	}

	got.MarkSucceeded(now)
	s.UpdateTask(ctx, got)
	open, _ = s.HasOpenFetchTask(ctx, "genie", testHour(4))
	if open {
		t.Error("succeeded task still counted as open")
	}
}

func TestBacklogWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chart := mustCreateChart(t, s, "genie", 0.25, false)

	if _, err := s.GetBacklogWatermark(ctx, chart.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetBacklogWatermark(ctx, chart.ID, testHour(10)); err != nil {
		t.Fatalf("SetBacklogWatermark: %v", err)
	}
	if err := s.SetBacklogWatermark(ctx, chart.ID, testHour(9)); err != nil {
		t.Fatalf("SetBacklogWatermark: %v", err)
	}
	w, err := s.GetBacklogWatermark(ctx, chart.ID)
	if err != nil || !w.Hour.Equal(testHour(9)) {
		t.Errorf("watermark: %+v %v", w, err)
	}
}
