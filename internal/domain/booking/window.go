package booking

import (
	"errors"
	"fmt"
	"time"
)

const DateLayout = "02/01/2006"

// Window is a date range, inclusive on both ends at day granularity.
type Window struct {
	Start time.Time
	End   time.Time
}

func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: truncateDay(start), End: truncateDay(end)}
	return w, w.Validate()
}

// DefaultWindow is today through today+30 days.
func DefaultWindow(now time.Time) Window {
	start := truncateDay(now)
	return Window{Start: start, End: start.AddDate(0, 0, 30)}
}

// ParseWindow parses two DD/MM/YYYY dates in loc.
func ParseWindow(from, to string, loc *time.Location) (Window, error) {
	s, err := time.ParseInLocation(DateLayout, from, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid start date %q (want DD/MM/YYYY)", from)
	}
	e, err := time.ParseInLocation(DateLayout, to, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid end date %q (want DD/MM/YYYY)", to)
	}
	return NewWindow(s, e)
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("date window requires start and end")
	}
	if w.End.Before(w.Start) {
		return errors.New("date window end must not be before start")
	}
	return nil
}

// Contains reports whether t falls on a day between Start and End.
func (w Window) Contains(t time.Time) bool {
	d := truncateDay(t.In(w.Start.Location()))
	return !d.Before(w.Start) && !d.After(w.End)
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + " - " + w.End.Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
