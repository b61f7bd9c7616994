// Package isotime renders the ISO-8601 local timestamps shared by every
// durable file schema (reservations, mail, registry). Parsing tolerates the
// variants other implementations of the same file formats produce: with or
// without fractional seconds, with or without a timezone suffix.
package isotime

import (
	"fmt"
	"time"
)

const layout = "2006-01-02T15:04:05.000000"

// parseLayouts, in order. The local layout also consumes fractional seconds
// when present; RFC 3339 covers timezone-suffixed writers.
var parseLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Format renders t as a local ISO-8601 timestamp with microseconds.
func Format(t time.Time) string {
	return t.Format(layout)
}

// Now returns the current time in the shared file-schema form.
func Now() string {
	return Format(time.Now())
}

// Parse reads a timestamp written by Format or by a compatible
// implementation of the same file schemas.
func Parse(s string) (time.Time, error) {
	for _, l := range parseLayouts {
		if t, err := time.ParseInLocation(l, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
