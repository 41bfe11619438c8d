// Package bugs scrapes the Bugs! realtime top 100.
package bugs

import (
	"bytes"
	"context"
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
const Slug = "bugs"

// DefaultChartURL is the realtime chart page.
const DefaultChartURL = "http://music.bugs.co.kr/chart/track/realtime/total"

//nolint:gochecknoglobals // Compiled patterns
var (
	listenCall  = regexp.MustCompile(`bugs\.music\.listen\('(\d+)'`)
	artistHref  = regexp.MustCompile(`/artist/(\d+)`)
	albumHref   = regexp.MustCompile(`/album/(\d+)`)
	multiArtist = regexp.MustCompile(`openMultiArtistSearchResultPopLayer\(.+?,\s*'([^']+)'`)
	lineBreak   = regexp.MustCompile(`\\+n`)
)

// Options configures the adapter.
type Options struct {
	ChartURL string
	Logger   *slog.Logger
}

// Service scrapes Bugs!.
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
	return &Service{fetcher: f, chartURL: chartURL, logger: logger.OrDiscard(opts.Logger)}
}

// Slug returns "bugs".
func (s *Service) Slug() string { return Slug }

// IsReference is false.
func (s *Service) IsReference() bool { return false }

// Definition describes the Bugs! service and chart rows.
func (s *Service) Definition() vendor.Definition {
	return vendor.Definition{
		ServiceName: "Bugs!",
		ServiceURL:  "http://www.bugs.co.kr/",
		ArtistURL:   "http://music.bugs.co.kr/artist/{artist_id}",
		AlbumURL:    "http://music.bugs.co.kr/album/{album_id}",
		SongURL:     "http://music.bugs.co.kr/track/{song_id}",
		ChartName:   "Bugs! hourly top 100",
		ChartURL:    DefaultChartURL,
		Weight:      0.125,
	}
}

// FetchHourly scrapes the single chart page for hour, or the current hour
// when hour is nil.
func (s *Service) FetchHourly(ctx context.Context, hour *time.Time) (*vendor.RawChart, error) {
	h := domain.TruncateHour(time.Now())
	if hour != nil {
		h = domain.TruncateHour(*hour)
	}
	kst := h.In(domain.ReferenceLocation)
	q := url.Values{
		"chartdate": {kst.Format("20060102")},
		"charthour": {kst.Format("15")},
	}
	body, err := s.fetcher.GetHTML(ctx, s.chartURL, q)
	if err != nil {
		return nil, err
	}
	rows, err := parseChartPage(body)
	if err != nil {
		return nil, err
	}
	return &vendor.RawChart{Slug: Slug, Hour: h, Rows: rows}, nil
}

func parseChartPage(body []byte) ([]vendor.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fetch.FormatError.Wrap(err)
	}
	table := doc.Find(".byChart")
	if table.Length() != 1 {
		return nil, fetch.FormatError.New("expected one .byChart, found %d", table.Length())
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
	rankText := strings.TrimSpace(tr.Find("td div.ranking strong").First().Text())
	rank, err := strconv.Atoi(rankText)
	if err != nil {
		return vendor.RawRow{}, fetch.FormatError.New("chart row rank %q: %v", rankText, err)
	}

	song := tr.Find("th p.title a").First()
	album := tr.Find("td a.album").First()
	row := vendor.RawRow{
		Rank:      rank,
		SongName:  normalize.Melonify(song.Text()),
		SongID:    match(listenCall, song.AttrOr("onclick", "")),
		AlbumName: normalize.Melonify(album.Text()),
		AlbumID:   match(albumHref, album.AttrOr("href", "")),
	}

	if tr.AttrOr("multiartist", "") == "Y" {
		row.Artists = multiArtists(tr.Find("td p.artist a.more").First().AttrOr("onclick", ""))
	} else {
		a := tr.Find("td p.artist a").First()
		row.Artists = []vendor.RawArtist{{
			Name:    artistName(a.Text()),
			LocalID: match(artistHref, a.AttrOr("href", "")),
		}}
	}
	return row, nil
}

// multiArtists parses the popup call Bugs! uses for multi-artist credits.
// Its last argument lists "short||name||id" entries separated by an
// escaped newline.
func multiArtists(onclick string) []vendor.RawArtist {
	m := multiArtist.FindStringSubmatch(onclick)
	if m == nil {
		return nil
	}
	var artists []vendor.RawArtist
	for _, entry := range lineBreak.Split(m[1], -1) {
		parts := strings.Split(entry, "||")
		if len(parts) != 3 {
			continue
		}
		artists = append(artists, vendor.RawArtist{
			Name:    artistName(parts[1]),
			LocalID: strings.TrimSpace(parts[2]),
		})
	}
	return artists
}

// artistName rewrites Bugs! "member[group]" credits before melonifying.
func artistName(name string) string {
	return normalize.Melonify(normalize.Unbracket(name))
}

func match(p *regexp.Regexp, s string) string {
	if m := p.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}
