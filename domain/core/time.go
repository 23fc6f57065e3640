package core

import (
	"fmt"
	"time"
)

// DayLayout is the canonical calendar-day format
const DayLayout = "2006-01-02"

// Timestamp represents a point in time with timezone awareness
type Timestamp time.Time

// NewTimestamp creates a new timestamp from time.Time
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t)
}

// Now returns the current timestamp
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

// Time returns the underlying time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// IsZero checks if the timestamp is zero
func (t Timestamp) IsZero() bool {
	return time.Time(t).IsZero()
}

// JSON marshaling for Timestamp
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return time.Time(t).MarshalJSON()
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var tm time.Time
	if err := tm.UnmarshalJSON(data); err != nil {
		return err
	}
	*t = Timestamp(tm)
	return nil
}

// Day is a UTC calendar day. All daily aggregation happens on Day boundaries;
// the ingestion layer guarantees timestamps are already timezone-normalized.
type Day struct {
	t time.Time
}

// DayOf truncates t to its UTC calendar day
func DayOf(t time.Time) Day {
	u := t.UTC()
	return Day{t: time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// NewDay builds a Day from calendar components
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current UTC day
func Today() Day {
	return DayOf(time.Now())
}

// ParseDay parses a YYYY-MM-DD string
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q (use YYYY-MM-DD): %w", s, err)
	}
	return DayOf(t), nil
}

func (d Day) Time() time.Time   { return d.t }
func (d Day) IsZero() bool      { return d.t.IsZero() }
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) Before(o Day) bool { return d.t.Before(o.t) }
func (d Day) After(o Day) bool  { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool  { return d.t.Equal(o.t) }
func (d Day) String() string    { return d.t.Format(DayLayout) }

// MarshalText encodes the day as YYYY-MM-DD
func (d Day) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Day) UnmarshalText(b []byte) error {
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysSince returns the whole number of days from o to d (d - o)
func (d Day) DaysSince(o Day) int {
	return int(d.t.Sub(o.t).Hours() / 24)
}

// Window is an inclusive range of calendar days
type Window struct {
	Start Day `json:"start"`
	End   Day `json:"end"`
}

// NewWindow validates and builds an inclusive window
func NewWindow(start, end Day) (Window, error) {
	if end.Before(start) {
		return Window{}, fmt.Errorf("window end %s before start %s", end, start)
	}
	return Window{Start: start, End: end}, nil
}

// TrailingWindow returns the n days ending at (and including) end
func TrailingWindow(end Day, n int) Window {
	if n < 1 {
		n = 1
	}
	return Window{Start: end.AddDays(-(n - 1)), End: end}
}

// Len returns the number of days in the window
func (w Window) Len() int {
	if w.End.Before(w.Start) {
		return 0
	}
	return w.End.DaysSince(w.Start) + 1
}

// Contains reports whether d falls within the window
func (w Window) Contains(d Day) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// Days enumerates every day in the window in order
func (w Window) Days() []Day {
	n := w.Len()
	out := make([]Day, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, w.Start.AddDays(i))
	}
	return out
}

func (w Window) String() string { return w.Start.String() + ".." + w.End.String() }
