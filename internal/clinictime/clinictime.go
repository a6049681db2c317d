// Package clinictime provides pure conversions between the clinic's named
// time zone and absolute instants.
//
// All calendar-date and weekday decisions in ClinicPipe go through this
// package so that slot boundaries stay correct across DST transitions and
// regardless of the process's local zone.
package clinictime

import (
	"fmt"
	"time"
)

// DefaultZone is the IANA zone used when none is configured.
const DefaultZone = "America/Mexico_City"

// LoadZone resolves an IANA zone name, falling back to DefaultZone when empty.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid clinic time zone %q: %w", name, err)
	}
	return loc, nil
}

// DayStart returns midnight of t's local calendar date in the clinic zone,
// as an absolute instant.
func DayStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// NextDay returns the start of the local calendar date after t. Adding 24h to
// a midnight is wrong across DST transitions, so this re-derives midnight
// from the shifted date instead.
func NextDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
}

// AddDays returns the start of the local calendar date n days after t's date.
func AddDays(t time.Time, n int, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+n, 0, 0, 0, 0, loc)
}

// Weekday returns t's weekday on the clinic's local calendar.
func Weekday(t time.Time, loc *time.Location) time.Weekday {
	return t.In(loc).Weekday()
}

// SameLocalDate reports whether two instants fall on the same clinic-local
// calendar date.
func SameLocalDate(a, b time.Time, loc *time.Location) bool {
	la, lb := a.In(loc), b.In(loc)
	return la.Year() == lb.Year() && la.Month() == lb.Month() && la.Day() == lb.Day()
}

// AtClock returns the instant at "HH:MM" local wall-clock time on t's clinic
// calendar date.
func AtClock(t time.Time, clock string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock time %q: %w", clock, err)
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

// RoundUpToStep rounds t up to the next multiple of step within its clinic-local
// day (e.g. 09:10 with a 30m step becomes 09:30; 09:00 stays 09:00).
func RoundUpToStep(t time.Time, step time.Duration, loc *time.Location) time.Time {
	start := DayStart(t, loc)
	offset := t.Sub(start)
	rem := offset % step
	if rem == 0 {
		return t
	}
	return t.Add(step - rem)
}

// FormatSlot renders an instant as a human-readable clinic-local label,
// e.g. "Mon Jun 15 at 10:30 AM".
func FormatSlot(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon Jan 2 at 3:04 PM")
}

// FormatClock renders just the clinic-local clock time, e.g. "10:30 AM".
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM")
}
