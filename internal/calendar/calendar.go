// Package calendar computes timezone-anchored day and week windows. Report day
// boundaries are local midnight in the service timezone, never UTC midnight.
package calendar

import (
	"fmt"
	"strings"
	"time"

	// Embeds the zone database so Asia/Jakarta resolves in minimal containers.
	_ "time/tzdata"
)

// DefaultZone is the service timezone.
const DefaultZone = "Asia/Jakarta"

// DateLayout is the ISO calendar date accepted by the API and CLI.
const DateLayout = "2006-01-02"

// Window is an inclusive [Start, End] time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, inclusive on both ends.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339Nano))
}

// LoadZone resolves a named zone, falling back to DefaultZone for an empty name.
func LoadZone(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DayWindow returns local midnight to the last nanosecond of the day containing t.
func DayWindow(t time.Time, loc *time.Location) Window {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1).Add(-time.Nanosecond)}
}

// WeekWindow returns Monday 00:00 to Sunday 23:59:59.999999999 of the week containing t.
func WeekWindow(t time.Time, loc *time.Location) Window {
	local := t.In(loc)
	weekday := int(local.Weekday())
	diffToMonday := 1 - weekday
	if local.Weekday() == time.Sunday {
		diffToMonday = -6
	}
	start := time.Date(local.Year(), local.Month(), local.Day()+diffToMonday, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 7).Add(-time.Nanosecond)}
}

// ParseDate parses a YYYY-MM-DD date as local midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", value, err)
	}
	return t, nil
}

// PDFFileName is the local file name of the daily export for the day containing t,
// e.g. 16-10-2026-report.pdf.
func PDFFileName(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02-01-2006") + "-report.pdf"
}
