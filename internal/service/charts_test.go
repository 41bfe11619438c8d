package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/resolver"
	"github.com/kchartio/kchart/internal/vendors"
)

func TestSync_CreatesServicesAndCharts(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()

	charts, err := f.store.ListCharts(ctx)
	require.NoError(t, err)
	require.Len(t, charts, 3)
	assert.Equal(t, "melon", charts[0].Slug)
	assert.Equal(t, 1.0, charts[0].Weight)

	// Syncing again is a no-op.
	require.NoError(t, f.charts.Sync(ctx))
	again, err := f.store.ListCharts(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 3)
	assert.Equal(t, charts[0].ID, again[0].ID)
}

func TestIngest_Idempotent(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	a, b := f.song(t, "1", "A"), f.song(t, "2", "B")

	first := f.ingest(t, "genie", testHour, a, b)
	entries1, err := f.store.ListHourlyEntries(ctx, first.ID)
	require.NoError(t, err)

	second := f.ingest(t, "genie", testHour, a, b)
	entries2, err := f.store.ListHourlyEntries(ctx, second.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, entries1, entries2)
	assert.Equal(t, 2, second.EntryCount)
}

func TestIngest_SkipsCompleteReferenceChart(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	a, b := f.song(t, "1", "A"), f.song(t, "2", "B")

	hc, skipped, err := f.charts.Ingest(ctx, "melon", testHour, []domain.RankedSong{{SongID: a.ID, Position: 1}}, false)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, 1, hc.EntryCount)

	hc, skipped, err = f.charts.Ingest(ctx, "melon", testHour, []domain.RankedSong{{SongID: b.ID, Position: 1}}, false)
	require.NoError(t, err)
	assert.True(t, skipped)

	entries, err := f.store.ListHourlyEntries(ctx, hc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a.ID, entries[0].SongID)
}

func TestIngest_PartialAlternateChartIsRewritten(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	a, b := f.song(t, "1", "A"), f.song(t, "2", "B")

	_, _, err := f.charts.Ingest(ctx, "genie", testHour, []domain.RankedSong{{SongID: a.ID, Position: 1}}, false)
	require.NoError(t, err)

	hc, skipped, err := f.charts.Ingest(ctx, "genie", testHour, []domain.RankedSong{
		{SongID: b.ID, Position: 1},
		{SongID: a.ID, Position: 2},
	}, false)
	require.NoError(t, err)
	assert.False(t, skipped)
	assert.Equal(t, 2, hc.EntryCount)

	entries, err := f.store.ListHourlyEntries(ctx, hc.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, entries[0].SongID)
	assert.Equal(t, a.ID, entries[1].SongID)
}

func TestIngest_PrevPositions(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	a, b, c := f.song(t, "1", "A"), f.song(t, "2", "B"), f.song(t, "3", "C")
	next := domain.NextHour(testHour)

	// The later hour lands first.
	later := f.ingest(t, "genie", next, b, a, c)
	entries, err := f.store.ListHourlyEntries(ctx, later.ID)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Nil(t, e.PrevPosition, "first charted hour has no prev position")
	}

	_, _, err = f.charts.Ingest(ctx, "genie", testHour, []domain.RankedSong{
		{SongID: a.ID, Position: 1},
		{SongID: b.ID, Position: 2},
		{SongID: c.ID, Position: 150},
	}, true)
	require.NoError(t, err)

	entries, err = f.store.ListHourlyEntries(ctx, later.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, intPtr(2), entries[0].PrevPosition)
	assert.Equal(t, intPtr(1), entries[1].PrevPosition)
	assert.Nil(t, entries[2].PrevPosition, "positions past the cutoff do not count")
}

func TestUpdate_ReferenceChart(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	f.melon.live = &vendor.RawChart{Slug: "melon", Hour: testHour, Rows: []vendor.RawRow{
		rawRow(1, "34847378", "LOVE DIVE", "10913206", "LOVE DIVE", "3055146", "IVE (아이브)"),
		rawRow(2, "35454426", "Ditto", "11182483", "Ditto", "3115183", "NewJeans"),
		rawRow(3, "", "broken", "1", "x", "1", "y"),
	}}

	res, err := f.charts.Update(ctx, "melon", UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 2, res.Ingested)
	require.NotNil(t, res.Chart)
	assert.Equal(t, 2, res.Chart.EntryCount)

	svc, err := f.store.GetServiceBySlug(ctx, "melon")
	require.NoError(t, err)
	m, err := f.store.GetServiceMapping(ctx, domain.EntitySong, svc.ID, "34847378")
	require.NoError(t, err)
	song, err := f.store.GetSong(ctx, m.EntityID)
	require.NoError(t, err)
	assert.Equal(t, "LOVE DIVE", song.Name)

	// The live hour is complete now, so the next run skips the fetch.
	res, err = f.charts.Update(ctx, "melon", UpdateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, f.melon.fetches)
}

func TestUpdate_ReferenceRejectsPastHours(t *testing.T) {
	f := setupServiceTest(t)
	hour := domain.PrevHour(testHour)

	_, err := f.charts.Update(context.Background(), "melon", UpdateOptions{Hour: &hour})
	assert.ErrorIs(t, err, vendor.ErrHistoricalUnavailable)
}

func TestUpdate_AlternateChartResolves(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	f.reference.add(resolver.SongHit{
		ID:        "34847378",
		Name:      "LOVE DIVE",
		AlbumID:   "10913206",
		AlbumName: "LOVE DIVE",
		Artists:   []resolver.ArtistHit{{ID: "3055146", Name: "IVE (아이브)"}},
	})
	f.genie.hours[testHour] = &vendor.RawChart{Slug: "genie", Hour: testHour, Rows: []vendor.RawRow{
		rawRow(1, "97836431", "LOVE DIVE", "82347106", "LOVE DIVE", "81443441", "IVE (아이브)"),
		rawRow(2, "11111111", "Unknown Song", "2222", "Unknown", "3333", "Nobody"),
	}}

	res, err := f.charts.Update(ctx, "genie", UpdateOptions{Hour: &testHour})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Ingested)

	view, err := f.charts.ServiceChart(ctx, "genie", nil)
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "LOVE DIVE", view.Entries[0].Song.Name)
	assert.Equal(t, "https://genie.example/song/97836431", view.Entries[0].URL)
	assert.True(t, view.Hour.Equal(testHour))
}

func TestUpdate_DryRunWritesNothing(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	f.melon.live = &vendor.RawChart{Slug: "melon", Hour: testHour, Rows: []vendor.RawRow{
		rawRow(1, "34847378", "LOVE DIVE", "10913206", "LOVE DIVE", "3055146", "IVE (아이브)"),
	}}

	res, err := f.charts.Update(ctx, "melon", UpdateOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, res.Raw, 1)
	assert.Nil(t, res.Chart)

	songs, err := f.store.ListSongs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, songs)

	_, err = f.charts.ServiceChart(ctx, "melon", nil)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestUpdate_TransientErrorIsReturned(t *testing.T) {
	f := setupServiceTest(t)
	f.genie.err = fetch.TransientError.New("connection reset")

	_, err := f.charts.Update(context.Background(), "genie", UpdateOptions{Hour: &testHour})
	require.Error(t, err)
	assert.True(t, fetch.IsTransient(err))
}

func TestUpdate_UnknownChart(t *testing.T) {
	f := setupServiceTest(t)

	_, err := f.charts.Update(context.Background(), "spotify", UpdateOptions{})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestRefresh_RejectsReference(t *testing.T) {
	f := setupServiceTest(t)

	_, err := f.charts.Refresh(context.Background(), "melon", RefreshOptions{})
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestRefresh_RefetchesIncompleteHours(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	f.reference.add(resolver.SongHit{
		ID:        "34847378",
		Name:      "LOVE DIVE",
		AlbumID:   "10913206",
		AlbumName: "LOVE DIVE",
		Artists:   []resolver.ArtistHit{{ID: "3055146", Name: "IVE (아이브)"}},
	})
	other := f.song(t, "2", "B")
	f.ingest(t, "genie", testHour, other)

	f.genie.hours[testHour] = &vendor.RawChart{Slug: "genie", Hour: testHour, Rows: []vendor.RawRow{
		rawRow(1, "97836431", "LOVE DIVE", "82347106", "LOVE DIVE", "81443441", "IVE (아이브)"),
	}}

	res, err := f.charts.Refresh(ctx, "genie", RefreshOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Completed, "one row is still short of a full chart")
	assert.Empty(t, res.Failed)

	// The refetched row took position 1 from the stale entry, and the
	// regenerated aggregate was cached.
	snap, err := f.cache.Get(ctx, testHour)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "LOVE DIVE", snap.Entries[0].Song.Name)
}

func TestRefresh_DryRunLeavesChartsAlone(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	stale := f.song(t, "2", "B")
	f.ingest(t, "genie", testHour, stale)

	f.genie.hours[testHour] = &vendor.RawChart{Slug: "genie", Hour: testHour, Rows: []vendor.RawRow{
		rawRow(1, "97836431", "LOVE DIVE", "82347106", "LOVE DIVE", "81443441", "IVE (아이브)"),
	}}

	res, err := f.charts.Refresh(ctx, "genie", RefreshOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Attempted)
	assert.Zero(t, res.Completed)
	assert.Empty(t, res.Failed)

	view, err := f.charts.ServiceChart(ctx, "genie", &testHour)
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, "B", view.Entries[0].Song.Name, "stored rows are untouched")

	_, err = f.cache.Get(ctx, testHour)
	assert.Error(t, err, "no aggregate was built")
}

func TestRefresh_FailedHourIsReported(t *testing.T) {
	f := setupServiceTest(t)
	f.ingest(t, "bugs", testHour, f.song(t, "1", "A"))

	res, err := f.charts.Refresh(context.Background(), "bugs", RefreshOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempted)
	require.Len(t, res.Failed, 1)
	assert.True(t, res.Failed[0].Equal(testHour))
}

func TestServiceChart_MissingHour(t *testing.T) {
	f := setupServiceTest(t)

	_, err := f.charts.ServiceChart(context.Background(), "genie", &testHour)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}
