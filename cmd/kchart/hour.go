package main

import (
	"fmt"
	"time"

	"github.com/kchartio/kchart/internal/domain"
)

// parseHour reads an --hour flag. Empty means unset.
func parseHour(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	hour, err := domain.ParseHourKey(value)
	if err != nil {
		return nil, fmt.Errorf("--hour must be YYYYMMDDHH: %w", err)
	}
	return &hour, nil
}
