package domain

import (
	"fmt"
	"time"
)

// Day is a calendar date with no time component. Gate records, gated logs and
// compliance events are keyed by (project, work unit, day); the day is always
// interpreted in the project's timezone.
type Day struct {
	Year  int
	Month time.Month
	Date  int
}

// DayOf truncates t to its calendar date in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Date: d}
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// String renders the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Date)
}

// IsZero reports whether the day is unset.
func (d Day) IsZero() bool { return d == Day{} }

// In returns midnight of the day in loc.
func (d Day) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, loc)
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return DayOf(d.In(time.UTC).AddDate(0, 0, 1))
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Date < other.Date
}
