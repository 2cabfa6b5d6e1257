package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the on-disk format for all ledger and batch dates
const DateLayout = "2006-01-02"

// Date is a calendar date without a time component, always in UTC
type Date struct {
	time.Time
}

// NoExemption is the exempt-until sentinel meaning "not exempt"
var NoExemption = NewDate(1900, time.January, 1)

// NewDate creates a date from its components
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its UTC calendar date
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return DateOf(t), nil
}

// String formats the date as YYYY-MM-DD
func (d Date) String() string {
	return d.Format(DateLayout)
}

// Before reports whether d is strictly earlier than other
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is strictly later than other
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Equal reports whether both dates fall on the same day
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

// AddDays returns the date n days later
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time.AddDate(0, 0, n))
}

// AddMonths returns the date n calendar months later
func (d Date) AddMonths(n int) Date {
	return DateOf(d.Time.AddDate(0, n, 0))
}

// DaysSince returns the number of whole days elapsed from d to now
func (d Date) DaysSince(now time.Time) int {
	return int(now.Sub(d.Time).Hours() / 24)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a YYYY-MM-DD string
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
