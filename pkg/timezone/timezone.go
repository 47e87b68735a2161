// Package timezone converts between calendar-local wall clock values and UTC instants.
package timezone

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var locations sync.Map // zone name -> *time.Location

// LoadLocation resolves an IANA zone name, caching the result.
func LoadLocation(zone string) (*time.Location, error) {
	if zone == "" {
		zone = "UTC"
	}
	if loc, ok := locations.Load(zone); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", zone, err)
	}
	locations.Store(zone, loc)
	return loc, nil
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(date string) (year int, month time.Month, day int, err error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	return t.Year(), t.Month(), t.Day(), nil
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into hour and minute.
func ParseClock(clock string) (hour, minute int, err error) {
	clock = strings.TrimSpace(clock)
	layout := ClockLayout
	if strings.Count(clock, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, clock)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: expected HH:MM", clock)
	}
	return t.Hour(), t.Minute(), nil
}

// WallToUTC returns the instant at which clocks in loc show the given wall time.
// The offset is the one in effect at the resulting instant, so times on either
// side of a DST change use their own offset.
func WallToUTC(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, loc).UTC()
}

// ToUTC converts a calendar-local date ("YYYY-MM-DD") and clock ("HH:MM") in zone to a UTC instant.
func ToUTC(localDate, localClock, zone string) (time.Time, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d, err := ParseDate(localDate)
	if err != nil {
		return time.Time{}, err
	}
	h, mi, err := ParseClock(localClock)
	if err != nil {
		return time.Time{}, err
	}
	return WallToUTC(y, m, d, h, mi, loc), nil
}

// ToLocal renders a UTC instant as a calendar-local date and clock.
func ToLocal(instant time.Time, zone string) (date, clock string, err error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return "", "", err
	}
	local := instant.In(loc)
	return local.Format(DateLayout), local.Format(ClockLayout), nil
}

// DayBounds returns the UTC instants of local midnight on date and local midnight of the next day.
func DayBounds(localDate, zone string) (start, end time.Time, err error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, d, err := ParseDate(localDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = WallToUTC(y, m, d, 0, 0, loc)
	next := time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	end = WallToUTC(next.Year(), next.Month(), next.Day(), 0, 0, loc)
	return start, end, nil
}

// Weekday returns the day of week of a calendar date. It depends only on the date itself.
func Weekday(localDate string) (time.Weekday, error) {
	y, m, d, err := ParseDate(localDate)
	if err != nil {
		return 0, err
	}
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Weekday(), nil
}

// Today returns the calendar-local date of now in zone.
func Today(now time.Time, zone string) (string, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return "", err
	}
	return now.In(loc).Format(DateLayout), nil
}

// AddDays shifts a "YYYY-MM-DD" date by n calendar days.
func AddDays(localDate string, n int) (string, error) {
	y, m, d, err := ParseDate(localDate)
	if err != nil {
		return "", err
	}
	return time.Date(y, m, d+n, 0, 0, 0, 0, time.UTC).Format(DateLayout), nil
}
