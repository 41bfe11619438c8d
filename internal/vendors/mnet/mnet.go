// Package mnet scrapes the Mnet hourly top 100.
package mnet

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/fetch"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/normalize"
	"github.com/kchartio/kchart/internal/vendors"
)

// Slug identifies the service.
const Slug = "mnet"

// DefaultChartURL is the chart page prefix; the KST hour is appended.
const DefaultChartURL = "http://www.mnet.com/chart/top100/"

const pages = 2

//nolint:gochecknoglobals // Compiled patterns
var (
	rankClass = regexp.MustCompile(`^MMLI_RankNum(?:Best)?_(\d+)$`)
	songHref  = []*regexp.Regexp{
		regexp.MustCompile(`mnetCom\.aodPlay\('(\d+)'\)`),
		regexp.MustCompile(`/track/(\d+)`),
	}
	artistHref = regexp.MustCompile(`artist/(\d+)`)
	albumHref  = regexp.MustCompile(`/album/(\d+)`)
)

// Options configures the adapter.
type Options struct {
	ChartURL string
	Logger   *slog.Logger
}

// Service scrapes Mnet.
type Service struct {
	fetcher  fetch.Fetcher
	chartURL string
	logger   *slog.Logger
}

var _ vendor.ChartService = (*Service)(nil)

// New creates the adapter.
func New(f fetch.Fetcher, opts Options) *Service {
	chartURL := opts.ChartURL
	if chartURL == "" {
		chartURL = DefaultChartURL
	}
	if !strings.HasSuffix(chartURL, "/") {
		chartURL += "/"
	}
	return &Service{fetcher: f, chartURL: chartURL, logger: logger.OrDiscard(opts.Logger)}
}

// Slug returns "mnet".
func (s *Service) Slug() string { return Slug }

// IsReference is false.
func (s *Service) IsReference() bool { return false }

// Definition describes the Mnet service and chart rows.
func (s *Service) Definition() vendor.Definition {
	return vendor.Definition{
		ServiceName: "Mnet",
		ServiceURL:  "http://www.mnet.com",
		ArtistURL:   "http://www.mnet.com/artist/{artist_id}",
		AlbumURL:    "http://www.mnet.com/album/{album_id}",
		SongURL:     "http://www.mnet.com/track/{song_id}",
		ChartName:   "Mnet hourly top 100",
		ChartURL:    DefaultChartURL,
		Weight:      0.125,
	}
}

// FetchHourly scrapes both chart pages for hour, or the current hour when
// hour is nil.
func (s *Service) FetchHourly(ctx context.Context, hour *time.Time) (*vendor.RawChart, error) {
	h := domain.TruncateHour(time.Now())
	if hour != nil {
		h = domain.TruncateHour(*hour)
	}
	pageURL := s.chartURL + domain.HourKey(h)

	chart := &vendor.RawChart{Slug: Slug, Hour: h}
	for pg := 1; pg <= pages; pg++ {
		body, err := s.fetcher.GetHTML(ctx, pageURL, url.Values{"pNum": {strconv.Itoa(pg)}})
		if err != nil {
			return nil, err
		}
		rows, err := parseChartPage(body)
		if err != nil {
			return nil, fmt.Errorf("mnet page %d: %w", pg, err)
		}
		chart.Rows = append(chart.Rows, rows...)
	}
	return chart, nil
}

func parseChartPage(body []byte) ([]vendor.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fetch.FormatError.Wrap(err)
	}
	table := doc.Find(".MMLTable")
	if table.Length() != 1 {
		return nil, fetch.FormatError.New("expected one .MMLTable, found %d", table.Length())
	}

	var rows []vendor.RawRow
	var rowErr error
	table.Find("tbody tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		row, err := parseRow(tr)
		if err != nil {
			rowErr = err
			return false
		}
		rows = append(rows, row)
		return true
	})
	return rows, rowErr
}

func parseRow(tr *goquery.Selection) (vendor.RawRow, error) {
	rank := 0
	classes := tr.Find(".MMLI_RankNum").First().AttrOr("class", "")
	for _, c := range strings.Fields(classes) {
		if m := rankClass.FindStringSubmatch(c); m != nil {
			rank, _ = strconv.Atoi(m[1])
			break
		}
	}
	if rank == 0 {
		return vendor.RawRow{}, fetch.FormatError.New("chart row has no rank class: %q", classes)
	}

	song := tr.Find("a.MMLI_Song").First()
	album := tr.Find("a.MMLIInfo_Album").First()
	row := vendor.RawRow{
		Rank:      rank,
		SongName:  normalize.Melonify(song.Text()),
		SongID:    songID(song.AttrOr("href", "")),
		AlbumName: normalize.Melonify(album.Text()),
		AlbumID:   match(albumHref, album.AttrOr("href", "")),
	}
	tr.Find("a.MMLIInfo_Artist").Each(func(_ int, a *goquery.Selection) {
		row.Artists = append(row.Artists, vendor.RawArtist{
			Name:    normalize.Melonify(a.Text()),
			LocalID: match(artistHref, a.AttrOr("href", "")),
		})
	})
	return row, nil
}

func songID(href string) string {
	for _, p := range songHref {
		if id := match(p, href); id != "" {
			return id
		}
	}
	return ""
}

func match(p *regexp.Regexp, s string) string {
	if m := p.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
