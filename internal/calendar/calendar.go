// Package calendar converts wall-clock instants into business dates for one
// operating timezone. Every "today" in the ledger comes from a Calendar.
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a civil calendar day with no time or zone attached.
// The zero value is not a valid date.
type Date struct {
	year  int
	month time.Month
	day   int
}

func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{year: t.Year(), month: t.Month(), day: t.Day()}
}

func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(layout, raw)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return NewDate(t.Year(), t.Month(), t.Day()), nil
}

func MustParseDate(raw string) Date {
	d, err := ParseDate(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(layout)
}

// Time returns midnight UTC of the date. Useful as a storage key only.
func (d Date) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

func (d Date) AddDays(n int) Date {
	return NewDate(d.year, d.month, d.day+n)
}

func (d Date) Compare(other Date) int {
	return d.Time().Compare(other.Time())
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }

func (d Date) After(other Date) bool { return d.Compare(other) > 0 }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the date as a postgres DATE.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case nil:
		*d = Date{}
		return nil
	default:
		return fmt.Errorf("calendar: cannot scan %T into Date", src)
	}
}

// Calendar is the BusinessCalendar collaborator: one timezone, one clock.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

func New(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: time.Now}
}

// Load builds a Calendar for an IANA zone name such as "Asia/Jakarta".
func Load(name string) (*Calendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return New(loc), nil
}

// WithClock returns a copy of the calendar reading time from now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

func (c *Calendar) Location() *time.Location { return c.loc }

func (c *Calendar) Now() time.Time { return c.now().In(c.loc) }

func (c *Calendar) DateOf(t time.Time) Date {
	local := t.In(c.loc)
	return NewDate(local.Year(), local.Month(), local.Day())
}

func (c *Calendar) Today() Date { return c.DateOf(c.now()) }

func (c *Calendar) Yesterday() Date { return c.Today().AddDays(-1) }

// NextAt returns the next instant strictly after now at hour:00 local time.
func (c *Calendar) NextAt(hour int) time.Time {
	now := c.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, c.loc)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, c.loc)
	}
	return next
}

// Range yields every date from from to to inclusive.
func Range(from, to Date) []Date {
	if to.Before(from) {
		return nil
	}
	days := make([]Date, 0, 8)
	for d := from; !d.After(to); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}
