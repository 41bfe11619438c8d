package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kchartio/kchart/internal/domain"
	domainerrors "github.com/kchartio/kchart/internal/errors"
)

func TestSummarize(t *testing.T) {
	h := func(n int) time.Time { return testHour.Add(time.Duration(n) * time.Hour) }

	tests := []struct {
		name      string
		positions []domain.ChartPosition
		latest    time.Time
		want      HistorySummary
	}{
		{
			name:      "empty",
			positions: nil,
			want:      HistorySummary{},
		},
		{
			name: "still charting",
			positions: []domain.ChartPosition{
				{Hour: h(0), Position: 40},
				{Hour: h(1), Position: 3},
				{Hour: h(2), Position: 3},
				{Hour: h(3), Position: 7},
			},
			latest: h(3),
			want: HistorySummary{
				Initial: &ChartPoint{Position: 40, Hour: h(0)},
				Peak:    &ChartPoint{Position: 3, Hour: h(1)},
				Current: &ChartPoint{Position: 7, Hour: h(3)},
				Final:   &ChartPoint{Position: 7, Hour: h(3)},
				Hours:   4,
			},
		},
		{
			name: "dropped off",
			positions: []domain.ChartPosition{
				{Hour: h(0), Position: 12},
				{Hour: h(1), Position: 20},
			},
			latest: h(5),
			want: HistorySummary{
				Initial: &ChartPoint{Position: 12, Hour: h(0)},
				Peak:    &ChartPoint{Position: 12, Hour: h(0)},
				Final:   &ChartPoint{Position: 20, Hour: h(1)},
				Hours:   2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, &tt.want, Summarize(tt.positions, tt.latest))
		})
	}
}

func TestSongHistory(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	a, b := f.song(t, "1", "A"), f.song(t, "2", "B")
	next := domain.NextHour(testHour)

	f.ingest(t, "melon", testHour, a, b)
	f.ingest(t, "melon", next, b)
	f.ingest(t, "genie", testHour, b, a)
	_, err := f.aggregates.Aggregate(ctx, testHour, false)
	require.NoError(t, err)
	_, err = f.aggregates.Aggregate(ctx, next, false)
	require.NoError(t, err)

	hist, err := f.songs.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", hist.Song.Name)
	require.Contains(t, hist.Charts, "melon")
	require.Contains(t, hist.Charts, "genie")
	require.Contains(t, hist.Charts, AggregateHistoryKey)
	assert.NotContains(t, hist.Charts, "bugs")

	melon := hist.Charts["melon"]
	assert.Equal(t, 1, melon.Peak.Position)
	assert.Nil(t, melon.Current, "A is absent from melon's latest hour")
	assert.True(t, melon.Final.Hour.Equal(testHour))

	genie := hist.Charts["genie"]
	require.NotNil(t, genie.Current)
	assert.Equal(t, 2, genie.Current.Position)

	kchart := hist.Charts[AggregateHistoryKey]
	assert.Equal(t, 1, kchart.Hours)
	assert.Nil(t, kchart.Current)
}

func TestSongDetail_Links(t *testing.T) {
	f := setupServiceTest(t)
	ctx := context.Background()
	a := f.song(t, "34847378", "LOVE DIVE")

	view, err := f.songs.Song(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "LOVE DIVE", view.Song.Name)
	require.Len(t, view.Links, 1)

	link := view.Links[0]
	assert.Equal(t, "melon", link.Service)
	assert.Equal(t, "https://melon.example/song/34847378", link.SongURL)
	assert.Equal(t, "https://melon.example/album/album-34847378", link.AlbumURL)
	assert.Equal(t, "https://melon.example/artist/artist-34847378", link.ArtistURLs[a.ArtistIDs[0]])
}

func TestSongDetail_NotFound(t *testing.T) {
	f := setupServiceTest(t)

	_, err := f.songs.Song(context.Background(), "song-missing")
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))

	_, err = f.songs.History(context.Background(), "song-missing")
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}
