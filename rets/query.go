package rets

import (
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the DMQL timestamp layout.
const TimeFormat = "2006-01-02T15:04:05"

// Eq builds an equality criterion: (FIELD=value).
func Eq(field, value string) string {
	return fmt.Sprintf("(%s=%s)", field, value)
}

// DateRange builds an inclusive range criterion: (FIELD=from-to).
func DateRange(field string, from, to time.Time) string {
	return fmt.Sprintf("(%s=%s-%s)", field, from.Format(TimeFormat), to.Format(TimeFormat))
}

// And joins criteria with the DMQL conjunction, skipping empty parts.
func And(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ",")
}
