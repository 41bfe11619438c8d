package domain

import (
	"fmt"
	"time"
)

// TaskStatus is the state of a scheduled task.
//
//	pending -> fetching -> succeeded
//	                    -> transient_failure -> retry_scheduled -> fetching
//	                    -> permanent_skip
type TaskStatus string

const (
	TaskStatusPending          TaskStatus = "pending"
	TaskStatusFetching         TaskStatus = "fetching"
	TaskStatusSucceeded        TaskStatus = "succeeded"
	TaskStatusTransientFailure TaskStatus = "transient_failure"
	TaskStatusRetryScheduled   TaskStatus = "retry_scheduled"
	TaskStatusPermanentSkip    TaskStatus = "permanent_skip"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusPermanentSkip
}

// ParseTaskStatus validates a status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case TaskStatusPending, TaskStatusFetching, TaskStatusSucceeded,
		TaskStatusTransientFailure, TaskStatusRetryScheduled, TaskStatusPermanentSkip:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// TaskKind distinguishes chart fetches from aggregate regeneration.
type TaskKind string

const (
	TaskKindFetch     TaskKind = "fetch"
	TaskKindAggregate TaskKind = "aggregate"
)

// TaskFamily decides the retry budget of a task.
type TaskFamily string

const (
	TaskFamilyHourly  TaskFamily = "hourly"
	TaskFamilyBacklog TaskFamily = "backlog"
	TaskFamilyRefetch TaskFamily = "refetch"
	TaskFamilyManual  TaskFamily = "manual"
)

// Task priorities. Reference fetches run first so alternates can resolve
// against a populated catalog.
const (
	PriorityBackground = 1
	PriorityNormal     = 5
	PriorityReference  = 10
)

// FetchTask is one unit of scheduled work. Fetch tasks sharing a BatchID
// belong to one hour and gate exactly one aggregate task.
type FetchTask struct {
	ID            string     `json:"id"`
	BatchID       string     `json:"batch_id"`
	Kind          TaskKind   `json:"kind"`
	Family        TaskFamily `json:"family"`
	ChartSlug     string     `json:"chart_slug,omitempty"`
	Hour          time.Time  `json:"hour"`
	Force         bool       `json:"force"`
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	Attempts      int        `json:"attempts"`
	MaxRetries    int        `json:"max_retries"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// MarkSucceeded transitions the task to succeeded.
func (t *FetchTask) MarkSucceeded(now time.Time) {
	t.Status = TaskStatusSucceeded
	t.LastError = ""
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// MarkTransientFailure records a retryable error.
func (t *FetchTask) MarkTransientFailure(err error, now time.Time) {
	t.Status = TaskStatusTransientFailure
	t.LastError = err.Error()
	t.UpdatedAt = now
}

// CanRetry reports whether another attempt fits the retry budget.
func (t *FetchTask) CanRetry() bool {
	return t.Attempts <= t.MaxRetries
}

// ScheduleRetry parks the task until at.
func (t *FetchTask) ScheduleRetry(at, now time.Time) {
	t.Status = TaskStatusRetryScheduled
	t.NextAttemptAt = &at
	t.UpdatedAt = now
}

// MarkPermanentSkip ends the task without success. The last error stays
// queryable.
func (t *FetchTask) MarkPermanentSkip(err error, now time.Time) {
	t.Status = TaskStatusPermanentSkip
	if err != nil {
		t.LastError = err.Error()
	}
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// BatchState summarises the fetch tasks of one batch.
type BatchState struct {
	Total     int
	Terminal  int
	Succeeded int
}

// Ready reports whether the join barrier opens: every fetch reached a
// terminal state and at least one succeeded.
func (b BatchState) Ready() bool {
	return b.Total > 0 && b.Terminal == b.Total && b.Succeeded > 0
}

// BacklogWatermark is the oldest hour the backlog walk has claimed for a chart.
type BacklogWatermark struct {
	ChartID   string    `json:"chart_id"`
	Hour      time.Time `json:"hour"`
	UpdatedAt time.Time `json:"updated_at"`
}
