// Package calendar converts between the salon's wall clock and UTC instants.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
)

// Resolver is bound to a single named timezone.
type Resolver struct {
	loc *time.Location
}

// NewResolver loads the named zone. An empty name selects the default salon zone.
func NewResolver(tz string) (*Resolver, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = models.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Resolver{loc: loc}, nil
}

// NewResolverIn wraps an already loaded location.
func NewResolverIn(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

func (r *Resolver) Location() *time.Location {
	return r.loc
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func (r *Resolver) ParseDate(localDate string) (time.Time, error) {
	d, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(localDate), r.loc)
	if err != nil {
		return time.Time{}, domain.Validationf("invalid date %q, expected YYYY-MM-DD", localDate)
	}
	return d, nil
}

// DayRangeUTC returns [start, end) of the local calendar day in UTC.
//
// The offset of each midnight is taken from local noon of the same date, so
// a day that contains a DST transition may be shifted by the size of the
// transition.
func (r *Resolver) DayRangeUTC(localDate string) (time.Time, time.Time, error) {
	d, err := r.ParseDate(localDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	y, m, day := d.Date()
	start := r.midnightUTC(y, m, day)
	end := r.midnightUTC(y, m, day+1)
	return start, end, nil
}

func (r *Resolver) midnightUTC(y int, m time.Month, d int) time.Time {
	noon := time.Date(y, m, d, 12, 0, 0, 0, r.loc)
	_, offset := noon.Zone()
	ny, nm, nd := noon.Date()
	return time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC).Add(-time.Duration(offset) * time.Second)
}

// WeekdayName returns the English weekday of t in the salon zone.
func (r *Resolver) WeekdayName(t time.Time) string {
	return t.In(r.loc).Weekday().String()
}

// LocalTimeOfDay returns "HH:MM" of t in the salon zone.
func (r *Resolver) LocalTimeOfDay(t time.Time) string {
	return t.In(r.loc).Format(models.ClockLayout)
}

// LocalDate returns "YYYY-MM-DD" of t in the salon zone.
func (r *Resolver) LocalDate(t time.Time) string {
	return t.In(r.loc).Format(models.DateLayout)
}

// MinutesOfDay returns minutes since local midnight for t.
func (r *Resolver) MinutesOfDay(t time.Time) int {
	lt := t.In(r.loc)
	return lt.Hour()*60 + lt.Minute()
}

// At builds the instant for a local date and a minutes-since-midnight offset.
func (r *Resolver) At(localDate string, minutes int) (time.Time, error) {
	d, err := r.ParseDate(localDate)
	if err != nil {
		return time.Time{}, err
	}
	y, m, day := d.Date()
	return time.Date(y, m, day, minutes/60, minutes%60, 0, 0, r.loc), nil
}

// StartOfToday returns local midnight of the current day.
func (r *Resolver) StartOfToday(now time.Time) time.Time {
	lt := now.In(r.loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

// Format renders t for humans, e.g. "6/3/2024, 10:00:00 AM".
func (r *Resolver) Format(t time.Time) string {
	return t.In(r.loc).Format("1/2/2006, 3:04:05 PM")
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, domain.Validationf("invalid time of day %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, domain.Validationf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, domain.Validationf("invalid minute in %q", s)
	}
	if h == 24 && m != 0 {
		return 0, domain.Validationf("invalid time of day %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// IsWeekdayName reports whether s is one of the seven English weekday names.
func IsWeekdayName(s string) bool {
	for _, d := range models.Weekdays {
		if d == s {
			return true
		}
	}
	return false
}
