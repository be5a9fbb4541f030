package normalizer

import (
	"fmt"
	"strings"
	"time"

	"learnsync-backend/lib/timezone"
)

// dueDateLayouts is the closed set of formats the portal renders.
// A format seen in the wild that is not here is added here, never
// guessed at call sites.
var dueDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006.01.02 15:04",
	"2006.01.02",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006년 1월 2일 15:04",
	"2006년 1월 2일",
	"1월 2일 15:04",
	"1월 2일",
}

// ParseDueDate parses a portal due-date cell in campus-local time.
// Year-less forms resolve relative to now: within the surrounding
// academic window the nearest occurrence is chosen, so a "1월 2일"
// scraped in December means January of next year.
func ParseDueDate(raw string, now time.Time) (time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" || text == "-" {
		return time.Time{}, fmt.Errorf("no due date")
	}

	for _, layout := range dueDateLayouts {
		t, err := time.ParseInLocation(layout, text, timezone.Location)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = resolveYear(t, now)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized due date format: %q", text)
}

// resolveYear picks the occurrence of a year-less month/day closest to
// now, so dates never snap a full year away at term boundaries.
func resolveYear(t, now time.Time) time.Time {
	candidate := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, timezone.Location)

	prev := candidate.AddDate(-1, 0, 0)
	next := candidate.AddDate(1, 0, 0)

	best := candidate
	for _, c := range []time.Time{prev, next} {
		if absDuration(c.Sub(now)) < absDuration(best.Sub(now)) {
			best = c
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
