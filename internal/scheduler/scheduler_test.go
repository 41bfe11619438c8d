package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/config"
	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/service"
	"github.com/kchartio/kchart/internal/store"
	"github.com/kchartio/kchart/internal/store/sqlite"
	"github.com/kchartio/kchart/internal/vendors"
)

type stubVendor struct {
	slug      string
	reference bool
}

func (v stubVendor) Slug() string                  { return v.slug }
func (v stubVendor) IsReference() bool             { return v.reference }
func (v stubVendor) Definition() vendor.Definition { return vendor.Definition{ServiceName: v.slug} }
func (v stubVendor) FetchHourly(context.Context, *time.Time) (*vendor.RawChart, error) {
	panic("not used")
}

// fakeUpdater returns queued errors per slug, then success. served
// overrides the hour a slug's chart lands on.
type fakeUpdater struct {
	mu         sync.Mutex
	store      store.Store
	errs       map[string][]error
	served     map[string]time.Time
	calls      []service.UpdateOptions
	slugs      []string
	incomplete []*domain.HourlySongChart
}

func (u *fakeUpdater) Update(_ context.Context, slug string, opts service.UpdateOptions) (*service.UpdateResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, opts)
	u.slugs = append(u.slugs, slug)
	if q := u.errs[slug]; len(q) > 0 {
		u.errs[slug] = q[1:]
		return nil, q[0]
	}
	res := &service.UpdateResult{Slug: slug}
	if opts.Hour != nil {
		res.Hour = *opts.Hour
	} else {
		res.Hour = testHour
	}
	if h, ok := u.served[slug]; ok {
		res.Hour = h
	}
	return res, nil
}

func (u *fakeUpdater) Chart(ctx context.Context, slug string) (*domain.Chart, error) {
	svc, err := u.store.GetOrCreateService(ctx, &domain.Service{Name: slug, Slug: slug})
	if err != nil {
		return nil, err
	}
	return u.store.GetOrCreateChart(ctx, &domain.Chart{ServiceID: svc.ID, Name: slug, Weight: 0.25})
}

func (u *fakeUpdater) Incomplete(context.Context, string) ([]*domain.HourlySongChart, error) {
	return u.incomplete, nil
}

func (u *fakeUpdater) updated() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.slugs...)
}

type fakeAggregator struct {
	mu    sync.Mutex
	hours []time.Time
	err   error
}

func (a *fakeAggregator) Aggregate(_ context.Context, hour time.Time, regenerate bool) (*domain.AggregateHourlySongChart, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !regenerate {
		panic("scheduled aggregates always regenerate")
	}
	a.hours = append(a.hours, hour)
	if a.err != nil {
		return nil, a.err
	}
	return &domain.AggregateHourlySongChart{Hour: hour}, nil
}

func (a *fakeAggregator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.hours)
}

// testHour is the live hour in every test.
var testHour = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store      *sqlite.Store
	updater    *fakeUpdater
	aggregator *fakeAggregator
	sched      *Scheduler
	now        time.Time
}

func setupSchedulerTest(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vendors, err := vendor.NewRegistry(
		stubVendor{slug: "melon", reference: true},
		stubVendor{slug: "genie"},
		stubVendor{slug: "bugs"},
	)
	require.NoError(t, err)

	f := &fixture{
		store:      st,
		updater:    &fakeUpdater{store: st, errs: make(map[string][]error)},
		aggregator: &fakeAggregator{},
		now:        testHour.Add(3 * time.Minute),
	}
	cfg := config.SchedulerConfig{
		Workers:             2,
		RetryBackoff:        5 * time.Minute,
		HourlyMaxRetries:    2,
		AggregateMaxRetries: 1,
		PollInterval:        10 * time.Millisecond,
		HourlyOffset:        2 * time.Minute,
	}
	f.sched = New(st, f.updater, f.aggregator, vendors, cfg, nil)
	f.sched.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) tasks(t *testing.T, kind domain.TaskKind) []*domain.FetchTask {
	t.Helper()
	all, err := f.store.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	var out []*domain.FetchTask
	for _, task := range all {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

func (f *fixture) task(t *testing.T, slug string) *domain.FetchTask {
	t.Helper()
	for _, task := range f.tasks(t, domain.TaskKindFetch) {
		if task.ChartSlug == slug {
			return task
		}
	}
	t.Fatalf("no fetch task for %s", slug)
	return nil
}

func TestEnqueueHour(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()

	batch, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)
	require.Len(t, batch.Tasks, 3)
	assert.True(t, batch.Hour.Equal(testHour))
	assert.Equal(t, "melon", batch.Tasks[0].ChartSlug)
	assert.Equal(t, domain.PriorityReference, batch.Tasks[0].Priority)
	assert.Equal(t, domain.PriorityNormal, batch.Tasks[1].Priority)
	for _, task := range batch.Tasks {
		assert.Equal(t, batch.ID, task.BatchID)
		assert.Equal(t, 2, task.MaxRetries)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
	}

	again, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)
	assert.Empty(t, again.Tasks, "open fetches are not queued twice")
}

func TestEnqueueHour_PastHourSkipsReference(t *testing.T) {
	f := setupSchedulerTest(t)

	batch, err := f.sched.EnqueueHour(context.Background(), testHour.Add(-5*time.Hour), domain.TaskFamilyManual, true)
	require.NoError(t, err)
	require.Len(t, batch.Tasks, 2)
	for _, task := range batch.Tasks {
		assert.NotEqual(t, "melon", task.ChartSlug)
		assert.True(t, task.Force)
	}
}

func TestRunPending_BatchQueuesOneAggregate(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()

	_, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)

	n, err := f.sched.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "melon", f.updater.updated()[0], "reference runs first")

	// The live reference fetch asks for the live chart.
	assert.Nil(t, f.updater.calls[0].Hour)
	require.NotNil(t, f.updater.calls[1].Hour)
	assert.True(t, f.updater.calls[1].Hour.Equal(testHour))

	require.Equal(t, 1, f.aggregator.count())
	assert.True(t, f.aggregator.hours[0].Equal(testHour))

	aggs := f.tasks(t, domain.TaskKindAggregate)
	require.Len(t, aggs, 1)
	assert.Equal(t, domain.TaskStatusSucceeded, aggs[0].Status)
	for _, task := range f.tasks(t, domain.TaskKindFetch) {
		assert.Equal(t, domain.TaskStatusSucceeded, task.Status)
		assert.Equal(t, 1, task.Attempts)
	}
}

func TestRunPending_LaggingReferenceRebuildsServedHour(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	prev := testHour.Add(-time.Hour)
	f.updater.served = map[string]time.Time{"melon": prev}

	_, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)

	n, err := f.sched.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.Equal(t, 2, f.aggregator.count())
	var hours []string
	for _, h := range f.aggregator.hours {
		hours = append(hours, domain.HourKey(h))
	}
	assert.ElementsMatch(t, []string{domain.HourKey(testHour), domain.HourKey(prev)}, hours)

	aggs := f.tasks(t, domain.TaskKindAggregate)
	require.Len(t, aggs, 2)
	assert.NotEqual(t, aggs[0].BatchID, aggs[1].BatchID)
	for _, task := range aggs {
		assert.Equal(t, domain.TaskStatusSucceeded, task.Status)
	}
}

func TestRunPending_TransientFailureRetriesAfterBackoff(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	f.updater.errs["genie"] = []error{fetch.TransientError.New("timeout")}

	_, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)
	_, err = f.sched.RunPending(ctx)
	require.NoError(t, err)

	genie := f.task(t, "genie")
	assert.Equal(t, domain.TaskStatusRetryScheduled, genie.Status)
	require.NotNil(t, genie.NextAttemptAt)
	assert.True(t, genie.NextAttemptAt.Equal(f.now.Add(5*time.Minute)))
	assert.Contains(t, genie.LastError, "timeout")
	assert.Zero(t, f.aggregator.count(), "barrier waits for every fetch")

	// Nothing is runnable before the backoff elapses.
	n, err := f.sched.RunPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(6 * time.Minute)
	n, err = f.sched.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	genie = f.task(t, "genie")
	assert.Equal(t, domain.TaskStatusSucceeded, genie.Status)
	assert.Equal(t, 2, genie.Attempts)
	assert.Empty(t, genie.LastError)
	assert.Equal(t, 1, f.aggregator.count())
}

func TestRunPending_RetriesExhausted(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	boom := fetch.TransientError.New("connection refused")
	f.updater.errs["bugs"] = []error{boom, boom, boom}

	_, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.sched.RunPending(ctx)
		require.NoError(t, err)
		f.now = f.now.Add(10 * time.Minute)
	}

	bugs := f.task(t, "bugs")
	assert.Equal(t, domain.TaskStatusPermanentSkip, bugs.Status)
	assert.Equal(t, 3, bugs.Attempts)
	assert.Contains(t, bugs.LastError, "connection refused")

	failed, err := f.sched.Tasks(ctx, []domain.TaskStatus{domain.TaskStatusPermanentSkip}, "", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, bugs.ID, failed[0].ID)

	// The other fetches succeeded, so the hour is still aggregated once.
	assert.Equal(t, 1, f.aggregator.count())
}

func TestRunPending_FormatErrorIsPermanent(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	f.updater.errs["genie"] = []error{fetch.FormatError.New("unexpected page")}

	_, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)
	_, err = f.sched.RunPending(ctx)
	require.NoError(t, err)

	genie := f.task(t, "genie")
	assert.Equal(t, domain.TaskStatusPermanentSkip, genie.Status)
	assert.Equal(t, 1, genie.Attempts)
	assert.Equal(t, 1, f.aggregator.count())
}

func TestRunPending_NoSuccessNoAggregate(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	for _, slug := range []string{"melon", "genie", "bugs"} {
		f.updater.errs[slug] = []error{fetch.FormatError.New("down")}
	}

	_, err := f.sched.EnqueueHour(ctx, f.now, domain.TaskFamilyHourly, false)
	require.NoError(t, err)
	_, err = f.sched.RunPending(ctx)
	require.NoError(t, err)

	assert.Empty(t, f.tasks(t, domain.TaskKindAggregate))
	assert.Zero(t, f.aggregator.count())
}

func TestRunPending_AggregateFailureRetries(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	f.aggregator.err = domainerrors.Unavailablef("database is locked")

	_, err := f.sched.EnqueueChart(ctx, "genie", testHour, domain.TaskFamilyManual, false)
	require.NoError(t, err)
	_, err = f.sched.RunPending(ctx)
	require.NoError(t, err)

	aggs := f.tasks(t, domain.TaskKindAggregate)
	require.Len(t, aggs, 1)
	assert.Equal(t, domain.TaskStatusRetryScheduled, aggs[0].Status)

	f.aggregator.err = nil
	f.now = f.now.Add(time.Hour)
	_, err = f.sched.RunPending(ctx)
	require.NoError(t, err)

	aggs = f.tasks(t, domain.TaskKindAggregate)
	assert.Equal(t, domain.TaskStatusSucceeded, aggs[0].Status)
	assert.Equal(t, 2, f.aggregator.count())
}

func TestRunPending_CancelledFetchStaysClaimed(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := f.sched.EnqueueChart(ctx, "genie", testHour, domain.TaskFamilyManual, false)
	require.NoError(t, err)
	task, err := f.store.ClaimNextTask(ctx, f.now)
	require.NoError(t, err)

	cancel()
	f.updater.errs["genie"] = []error{context.Canceled}
	f.sched.run(ctx, task)

	got, err := f.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFetching, got.Status)

	n, err := f.store.ResetStalledTasks(context.Background(), f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueRefetch(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()
	f.updater.incomplete = []*domain.HourlySongChart{
		{Hour: testHour.Add(-2 * time.Hour)},
		{Hour: testHour.Add(-1 * time.Hour)},
	}

	n, err := f.sched.EnqueueRefetch(ctx, "genie")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.sched.RunPending(ctx)
	require.NoError(t, err)
	for _, opts := range f.updater.calls {
		assert.True(t, opts.Force)
	}
	assert.Equal(t, 2, f.aggregator.count(), "each refetched hour is regenerated")
	for _, task := range f.tasks(t, domain.TaskKindFetch) {
		assert.Equal(t, domain.TaskFamilyRefetch, task.Family)
	}
}

func TestStartStop(t *testing.T) {
	f := setupSchedulerTest(t)
	ctx := context.Background()

	// A task left fetching by a previous process.
	stalled := &domain.FetchTask{
		BatchID:    "batch-stalled",
		Kind:       domain.TaskKindFetch,
		Family:     domain.TaskFamilyHourly,
		ChartSlug:  "genie",
		Hour:       testHour,
		Status:     domain.TaskStatusFetching,
		Priority:   domain.PriorityNormal,
		MaxRetries: 2,
	}
	require.NoError(t, f.store.CreateTask(ctx, stalled))

	f.sched.Start()
	defer f.sched.Stop()

	require.Eventually(t, func() bool {
		got, err := f.store.GetTask(ctx, stalled.ID)
		return err == nil && got.Status == domain.TaskStatusSucceeded
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.aggregator.count() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestParseStatuses(t *testing.T) {
	got, err := ParseStatuses([]string{"pending, failed", ""})
	require.NoError(t, err)
	assert.Equal(t, []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusTransientFailure,
		domain.TaskStatusRetryScheduled,
		domain.TaskStatusPermanentSkip,
	}, got)

	_, err = ParseStatuses([]string{"done"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}
