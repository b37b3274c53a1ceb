// Package timeutil provides parsing and day-boundary helpers for Meetup
// timestamps and season dates.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Date/time format constants.
const (
	FormatDate       = "2006-01-02"
	FormatDateTime   = "2006-01-02 15:04"
	FormatMeetup     = "2006-01-02T15:04Z07:00"
	FormatMeetupFull = time.RFC3339
)

// layouts are tried in order by Parse. Meetup omits seconds in dateTime.
var layouts = []string{
	time.RFC3339Nano,
	FormatMeetup,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	FormatDateTime,
	FormatDate,
}

// Parse accepts RFC 3339 timestamps, Meetup's minute-precision variant and
// plain dates. Values without an offset are read in loc (UTC when nil).
func Parse(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("parse time: empty value")
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported format", value)
}

// EndOfDay returns the last nanosecond of t's day in t's location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}
