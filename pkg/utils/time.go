package utils

import "time"

// FormatTimestamp renders t in UTC with nanosecond precision. The output
// sorts lexically in time order.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses a value written by FormatTimestamp. Empty input
// yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
