package melon

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/kchartio/kchart/internal/domain"
)

// flexString accepts a value encoded as either a JSON number or a string.
type flexString string

func (id *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	*id = flexString(b)
	return nil
}

// envelope is the top level of every API response.
type envelope struct {
	Melon *payload `json:"melon"`
}

type payload struct {
	Count      int    `json:"count"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
	RankDay    string `json:"rankDay"`
	RankHour   string `json:"rankHour"`

	Songs *struct {
		Song []apiSong `json:"song"`
	} `json:"songs"`
	Albums *struct {
		Album []apiAlbum `json:"album"`
	} `json:"albums"`
	Artists *struct {
		Artist []apiArtist `json:"artist"`
	} `json:"artists"`
}

type apiArtist struct {
	ArtistID   flexString `json:"artistId"`
	ArtistName string     `json:"artistName"`
}

type apiAlbum struct {
	AlbumID   flexString `json:"albumId"`
	AlbumName string     `json:"albumName"`
}

type apiSong struct {
	SongID   flexString `json:"songId"`
	SongName string     `json:"songName"`
	Artists  struct {
		Artist []apiArtist `json:"artist"`
	} `json:"artists"`
	AlbumID     flexString `json:"albumId"`
	AlbumName   string     `json:"albumName"`
	CurrentRank flexString `json:"currentRank"`
	IssueDate   string     `json:"issueDate"`
}

// parseIssueDate parses YYYYMMDD. The API reports unknown months and days
// as 00, which become 1.
func parseIssueDate(s string) (*time.Time, error) {
	if len(s) != 8 {
		return nil, fmt.Errorf("issue date %q: want YYYYMMDD", s)
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return nil, fmt.Errorf("issue date %q: %w", s, err)
	}
	month, err := strconv.Atoi(s[4:6])
	if err != nil {
		return nil, fmt.Errorf("issue date %q: %w", s, err)
	}
	day, err := strconv.Atoi(s[6:])
	if err != nil {
		return nil, fmt.Errorf("issue date %q: %w", s, err)
	}
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	if month > 12 || day > 31 {
		return nil, fmt.Errorf("issue date %q: out of range", s)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t, nil
}

// parseRankHour turns rankDay (YYYYMMDD) and rankHour (HH) into the UTC
// hour they name in Korean time.
func parseRankHour(day, hour string) (time.Time, error) {
	if len(hour) == 1 {
		hour = "0" + hour
	}
	t, err := time.ParseInLocation("2006010215", day+hour, domain.ReferenceLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("rank hour %s %s: %w", day, hour, err)
	}
	return domain.TruncateHour(t), nil
}
