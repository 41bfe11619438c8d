package domain

import (
	"fmt"
	"time"
)

// HourKeyLayout formats an hour as YYYYMMDDHH.
const HourKeyLayout = "2006010215"

// ReferenceLocation is the timezone vendors publish charts in.
var ReferenceLocation = mustLoadLocation("Asia/Seoul")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// KST has no DST; a fixed zone is exact when tzdata is missing.
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// TruncateHour returns t in UTC with minutes and below cleared.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// HourKey formats an hour in the reference timezone.
func HourKey(hour time.Time) string {
	return hour.In(ReferenceLocation).Format(HourKeyLayout)
}

// ParseHourKey parses a YYYYMMDDHH value in the reference timezone.
func ParseHourKey(s string) (time.Time, error) {
	t, err := time.ParseInLocation(HourKeyLayout, s, ReferenceLocation)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse hour %q: %w", s, err)
	}
	return TruncateHour(t), nil
}

// PrevHour returns the hour before hour.
func PrevHour(hour time.Time) time.Time {
	return TruncateHour(hour).Add(-time.Hour)
}

// NextHour returns the hour after hour.
func NextHour(hour time.Time) time.Time {
	return TruncateHour(hour).Add(time.Hour)
}
