package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/fetch"
)

func TestBackfillStep_WalksBackward(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	chart, err := f.updater.Chart(ctx, "genie")
	require.NoError(t, err)

	// Two hours back is already filled.
	_, _, err = f.store.GetOrCreateHourlyChart(ctx, chart.ID, testHour.Add(-2*time.Hour))
	require.NoError(t, err)

	hour, err := f.sched.BackfillStep(ctx, "genie")
	require.NoError(t, err)
	require.NotNil(t, hour)
	assert.True(t, hour.Equal(testHour.Add(-1*time.Hour)))

	task := f.task(t, "genie")
	assert.Equal(t, domain.TaskFamilyBacklog, task.Family)
	assert.Zero(t, task.MaxRetries)
	assert.Equal(t, domain.PriorityBackground, task.Priority)

	hour, err = f.sched.BackfillStep(ctx, "genie")
	require.NoError(t, err)
	require.NotNil(t, hour)
	assert.True(t, hour.Equal(testHour.Add(-3*time.Hour)), "occupied hours are passed over")

	wm, err := f.store.GetBacklogWatermark(ctx, chart.ID)
	require.NoError(t, err)
	assert.True(t, wm.Hour.Equal(testHour.Add(-3*time.Hour)))
}

func TestBackfillStep_StopsAtFloor(t *testing.T) {
	f := setupSchedulerTest(t)
	f.sched.config.BacklogFloor = testHour.Add(-1 * time.Hour)
	ctx := context.Background()

	hour, err := f.sched.BackfillStep(ctx, "bugs")
	require.NoError(t, err)
	require.NotNil(t, hour)

	hour, err = f.sched.BackfillStep(ctx, "bugs")
	require.NoError(t, err)
	assert.Nil(t, hour)
}

func TestBackfillStep_RejectsReference(t *testing.T) {
	f := setupSchedulerTest(t)

	_, err := f.sched.BackfillStep(context.Background(), "melon")
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestBackfill_BacklogFailuresDoNotRetry(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	f.sched.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- f.now
		return ch
	}
	f.sched.config.BacklogSpacing = 30 * time.Second
	f.updater.errs["genie"] = []error{fetch.TransientError.New("timeout")}

	done, err := f.sched.Backfill(ctx, "genie", 2)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.True(t, done[0].Equal(testHour.Add(-1*time.Hour)))
	assert.True(t, done[1].Equal(testHour.Add(-2*time.Hour)))

	var skipped int
	for _, task := range f.tasks(t, domain.TaskKindFetch) {
		if task.Status == domain.TaskStatusPermanentSkip {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, f.aggregator.count())
}
