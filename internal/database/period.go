package database

import (
	"time"
)

// Timestamps are stored as fixed-width UTC text so that string comparison
// in SQL orders them correctly.
const timeLayout = "2006-01-02 15:04:05"

const dateKeyLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

// DateKey returns the summary partition key for t, as YYYY-MM-DD in t's location.
func DateKey(t time.Time) string {
	return t.Format(dateKeyLayout)
}

// GetToday returns today's date key.
func GetToday() string {
	return DateKey(time.Now())
}

// FormatDateKey formats a date key for human-readable display, e.g. "Feb 06, 2026".
// Unparseable keys are returned unchanged.
func FormatDateKey(key string) string {
	d, err := time.Parse(dateKeyLayout, key)
	if err != nil {
		return key
	}
	return d.Format("Jan 02, 2006")
}
