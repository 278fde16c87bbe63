package utils

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

var BrisbaneTZ = time.FixedZone("UTC+10", 10*60*60)

// LoadLocation resolves an IANA zone name, falling back to AEST when the
// zone database is unavailable (e.g. minimal lambda images).
func LoadLocation(name string) *time.Location {
	if name == "" {
		return BrisbaneTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return BrisbaneTZ
	}
	return loc
}

func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected yyyy-MM-dd", s)
	}
	return t, nil
}

func ParseISOTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, fmt.Errorf("empty time string")
	}

	// Try standard RFC3339 format (ISO 8601)
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return &t, nil
	}

	// Try with nanoseconds (e.g. 2025-10-13T09:30:00.123Z)
	t, err = time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return &t, nil
	}

	// Try fallback common formats
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if tt, e := time.ParseInLocation(layout, s, time.UTC); e == nil {
			return &tt, nil
		}
	}

	return nil, fmt.Errorf("failed to parse time: %v", s)
}
