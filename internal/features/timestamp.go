package features

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidTime is wrapped by the ExtractionError returned for an
// unparseable transaction time.
var ErrInvalidTime = errors.New("not a valid ISO-8601 date-time")

// Layouts that carry their own offset.
var zonedLayouts = []string{
	time.RFC3339, // also accepts fractional seconds when parsing
}

// Layouts without an offset; interpreted in the extractor's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// Date-only strings are midnight UTC.
const dateLayout = "2006-01-02"

// ParseTime parses an ISO-8601 date-time string. Strings without an offset
// are read in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, ErrInvalidTime
}

// TimestampCode concatenates year, month, day, hour, minute and second of t
// (no separators, no zero padding) and reads the digits back as an integer.
// 2024-01-05T09:03:07 becomes 202415937.
//
// The encoding is ambiguous (2024-11-1 and 2024-1-11 share a prefix) and is
// kept exactly as-is because trained models depend on it.
func TimestampCode(t time.Time) int64 {
	digits := fmt.Sprintf("%d%d%d%d%d%d",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	code, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		// At most 4+2+2+2+2+2 digits for years 0..9999, always fits.
		panic("features: timestamp code overflow: " + digits)
	}
	return code
}
