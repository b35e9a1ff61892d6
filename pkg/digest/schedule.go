// Package digest decides when a periodic digest is due and ranks the items
// that go into it.
package digest

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownType is returned for a digest type with no configured window.
var ErrUnknownType = errors.New("unknown digest type")

// Type names a digest window.
type Type string

const (
	Premarket  Type = "premarket"
	Lunch      Type = "lunch"
	Postmarket Type = "postmarket"
	Weekly     Type = "weekly"
)

// DefaultTolerance is how long after a window's time it is still due.
const DefaultTolerance = 20 * time.Minute

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Window is a fixed weekly local-time slot.
type Window struct {
	Type     Type
	Hour     int
	Minute   int
	Weekdays []time.Weekday
	Lookback time.Duration // period length when no earlier digest exists
}

// DefaultWindows are the four market digest windows.
func DefaultWindows() []Window {
	return []Window{
		{Type: Premarket, Hour: 6, Minute: 30, Weekdays: weekdays, Lookback: 24 * time.Hour},
		{Type: Lunch, Hour: 12, Minute: 0, Weekdays: weekdays, Lookback: 6 * time.Hour},
		{Type: Postmarket, Hour: 16, Minute: 30, Weekdays: weekdays, Lookback: 6 * time.Hour},
		{Type: Weekly, Hour: 12, Minute: 0, Weekdays: []time.Weekday{time.Saturday}, Lookback: 7 * 24 * time.Hour},
	}
}

func (w Window) runsOn(d time.Weekday) bool {
	for _, wd := range w.Weekdays {
		if wd == d {
			return true
		}
	}
	return false
}

// at returns the window's time on the calendar day of t, in t's location.
func (w Window) at(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), w.Hour, w.Minute, 0, 0, t.Location())
}

// Pending is a window occurrence that should be dispatched.
type Pending struct {
	Type         Type
	ScheduledFor time.Time // local
}

// Schedule evaluates windows against wall-clock time. It holds no state
// between calls; the watermark is always read from the store by the caller.
type Schedule struct {
	Windows   []Window
	Tolerance time.Duration
	Location  *time.Location
}

// NewSchedule returns the default windows in loc.
func NewSchedule(loc *time.Location, tolerance time.Duration) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Schedule{Windows: DefaultWindows(), Tolerance: tolerance, Location: loc}
}

// Window returns the configured window for t.
func (s *Schedule) Window(t Type) (Window, error) {
	for _, w := range s.Windows {
		if w.Type == t {
			return w, nil
		}
	}
	return Window{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// DeterminePending returns the window due at now, if any. A window is due
// when its time today is <= now <= time + tolerance. If several windows
// overlap the first configured one wins.
func (s *Schedule) DeterminePending(now time.Time) (Pending, bool) {
	local := now.In(s.Location)
	for _, w := range s.Windows {
		if !w.runsOn(local.Weekday()) {
			continue
		}
		target := w.at(local)
		if !local.Before(target) && !local.After(target.Add(s.Tolerance)) {
			return Pending{Type: w.Type, ScheduledFor: target}, true
		}
	}
	return Pending{}, false
}

// Previous returns the most recent occurrence of window t at or before now,
// searching back one week. Used for manual dispatch.
func (s *Schedule) Previous(t Type, now time.Time) (Pending, error) {
	w, err := s.Window(t)
	if err != nil {
		return Pending{}, err
	}
	local := now.In(s.Location)
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, -offset)
		if !w.runsOn(day.Weekday()) {
			continue
		}
		if target := w.at(day); !target.After(local) {
			return Pending{Type: t, ScheduledFor: target}, nil
		}
	}
	return Pending{}, fmt.Errorf("no %s window in the past week", t)
}

// AlreadySent reports whether a digest sent at lastSentAt covers the window
// scheduled at scheduled.
func (s *Schedule) AlreadySent(lastSentAt *time.Time, scheduled time.Time) bool {
	if lastSentAt == nil {
		return false
	}
	return !lastSentAt.Before(scheduled.Add(-s.Tolerance))
}

// PeriodStart is the last digest's send time, or now minus the window's
// lookback when no digest of that type exists yet.
func (s *Schedule) PeriodStart(t Type, lastSentAt *time.Time, now time.Time) (time.Time, error) {
	w, err := s.Window(t)
	if err != nil {
		return time.Time{}, err
	}
	if lastSentAt != nil {
		return *lastSentAt, nil
	}
	return now.Add(-w.Lookback), nil
}
