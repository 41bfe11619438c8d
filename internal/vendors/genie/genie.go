// Package genie scrapes the Genie hourly top 100.
package genie

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
const Slug = "genie"

// DefaultChartURL is the hourly chart page.
const DefaultChartURL = "http://www.genie.co.kr/chart/top100"

// pages is how many 50-row pages make up the chart.
const pages = 2

//nolint:gochecknoglobals // Compiled patterns
var (
	rankClass  = regexp.MustCompile(`^rank-(\d+)$`)
	artistCall = regexp.MustCompile(`fnViewArtist\((\d+)\)`)
	albumCall  = regexp.MustCompile(`fnViewAlbumLayer\((\d+)\)`)
)

// Options configures the adapter.
type Options struct {
	ChartURL string
	Logger   *slog.Logger
}

// Service scrapes Genie.
type Service struct {
	fetcher   fetch.Fetcher
	chartURL  string
	artistURL string
	logger    *slog.Logger
}

var (
	_ vendor.ChartService   = (*Service)(nil)
	_ vendor.ArtistExpander = (*Service)(nil)
)

// New creates the adapter. Artist pages are read from the chart URL's host.
func New(f fetch.Fetcher, opts Options) *Service {
	chartURL := opts.ChartURL
	if chartURL == "" {
		chartURL = DefaultChartURL
	}
	artistURL := "http://www.genie.co.kr/detail/artistInfo"
	if u, err := url.Parse(chartURL); err == nil && u.Host != "" {
		artistURL = u.Scheme + "://" + u.Host + "/detail/artistInfo"
	}
	return &Service{
		fetcher:   f,
		chartURL:  chartURL,
		artistURL: artistURL,
		logger:    logger.OrDiscard(opts.Logger),
	}
}

// Slug returns "genie".
func (s *Service) Slug() string { return Slug }

// IsReference is false.
func (s *Service) IsReference() bool { return false }

// Definition describes the Genie service and chart rows.
func (s *Service) Definition() vendor.Definition {
	return vendor.Definition{
		ServiceName: "Genie",
		ServiceURL:  "http://www.genie.co.kr",
		ArtistURL:   "http://www.genie.co.kr/detail/artistInfo?xxnm={artist_id}",
		AlbumURL:    "http://www.genie.co.kr/detail/albumInfo?axnm={album_id}",
		SongURL:     "http://www.genie.co.kr/detail/songInfo?xgnm={song_id}",
		ChartName:   "Genie hourly top 100",
		ChartURL:    DefaultChartURL,
		Weight:      0.25,
	}
}

// FetchHourly scrapes both chart pages for hour, or the current hour when
// hour is nil.
func (s *Service) FetchHourly(ctx context.Context, hour *time.Time) (*vendor.RawChart, error) {
	h := domain.TruncateHour(time.Now())
	if hour != nil {
		h = domain.TruncateHour(*hour)
	}
	kst := h.In(domain.ReferenceLocation)

	chart := &vendor.RawChart{Slug: Slug, Hour: h}
	for pg := 1; pg <= pages; pg++ {
		q := url.Values{
			"ditc": {"D"},
			"rtm":  {"Y"},
			"ymd":  {kst.Format("20060102")},
			"hh":   {kst.Format("15")},
			"pg":   {strconv.Itoa(pg)},
		}
		body, err := s.fetcher.GetHTML(ctx, s.chartURL, q)
		if err != nil {
			return nil, err
		}
		rows, err := parseChartPage(body)
		if err != nil {
			return nil, fmt.Errorf("genie page %d: %w", pg, err)
		}
		chart.Rows = append(chart.Rows, rows...)
	}
	return chart, nil
}

// parseChartPage reads the rows of one chart page.
func parseChartPage(body []byte) ([]vendor.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fetch.FormatError.Wrap(err)
	}
	list := doc.Find(".list-wrap")
	if list.Length() != 1 {
		return nil, fetch.FormatError.New("expected one .list-wrap, found %d", list.Length())
	}

	var (
		rows   []vendor.RawRow
		rowErr error
	)
	list.Children().EachWithBreak(func(_ int, entry *goquery.Selection) bool {
		row, err := parseEntry(entry)
		if err != nil {
			rowErr = err
			return false
		}
		rows = append(rows, row)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return rows, nil
}

func parseEntry(entry *goquery.Selection) (vendor.RawRow, error) {
	rank := 0
	classes, _ := entry.Attr("class")
	for _, c := range strings.Fields(classes) {
		if m := rankClass.FindStringSubmatch(c); m != nil {
			rank, _ = strconv.Atoi(m[1])
		}
	}
	if rank == 0 {
		return vendor.RawRow{}, fetch.FormatError.New("chart entry has no rank class: %q", classes)
	}

	music := entry.Find("span.music-info span.music_area span.music").First()
	artist := music.Find("span.meta a.artist").First()
	album := music.Find("span.meta a.albumtitle").First()
	artistName := strings.TrimSpace(artist.Text())

	return vendor.RawRow{
		Rank:      rank,
		SongName:  normalize.Melonify(music.Find("a.title").First().Text()),
		SongID:    strings.TrimSpace(entry.AttrOr("songid", "")),
		AlbumName: normalize.Melonify(album.Text()),
		AlbumID:   onclickID(album, albumCall),
		Artists: []vendor.RawArtist{{
			Name:    normalize.Melonify(artistName),
			LocalID: onclickID(artist, artistCall),
		}},
		Collab: strings.Contains(artistName, "&"),
	}, nil
}

func onclickID(sel *goquery.Selection, pattern *regexp.Regexp) string {
	if m := pattern.FindStringSubmatch(sel.AttrOr("onclick", "")); m != nil {
		return m[1]
	}
	return ""
}

// ExpandArtists splits a collaboration credit into its members. Genie lists
// a collaboration as one "project" artist where the other services credit
// each member. Anything that is not a project comes back unchanged.
func (s *Service) ExpandArtists(ctx context.Context, artist vendor.RawArtist) ([]vendor.RawArtist, error) {
	body, err := s.fetcher.GetHTML(ctx, s.artistURL, url.Values{"xxnm": {artist.LocalID}})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fetch.FormatError.Wrap(err)
	}
	infos := doc.Find(".artist-main-infos")
	if infos.Length() == 0 {
		return nil, fetch.FormatError.New("artist %s: no .artist-main-infos", artist.LocalID)
	}
	kind := infos.Find(".info-zone ul.info-data li").First().Text()
	if !strings.Contains(kind, "프로젝트") {
		return []vendor.RawArtist{artist}, nil
	}

	var members []vendor.RawArtist
	doc.Find(".artist-member-list").First().Find("ul li").Each(func(_ int, li *goquery.Selection) {
		members = append(members, vendor.RawArtist{
			Name:    normalize.Melonify(li.Text()),
			LocalID: onclickID(li.Find("a").First(), artistCall),
		})
	})
	if len(members) == 0 {
		return []vendor.RawArtist{artist}, nil
	}
	s.logger.Debug("expanded collaboration artist",
		"artist", artist.Name, "members", len(members))
	return members, nil
}
