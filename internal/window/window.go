// Package window computes the recurring daily maintenance window.
//
// A window opens at a fixed local wall-clock time in a fixed timezone and stays
// open for a fixed elapsed duration. Daylight-saving transitions move the
// absolute instants but never the local start time.
package window

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidClock is returned when a start-of-day string cannot be parsed.
	ErrInvalidClock = errors.New("window: invalid start time")

	// ErrInvalidDuration is returned for durations outside (0, 24h).
	ErrInvalidDuration = errors.New("window: duration must be > 0 and < 24h")
)

// Window is the closed interval [Start, Stop].
type Window struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Includes reports whether t lies inside the window, both ends inclusive.
func (w Window) Includes(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.Stop)
}

// Duration returns the elapsed length of the window.
func (w Window) Duration() time.Duration {
	return w.Stop.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s - %s", w.Start.Format(time.RFC3339), w.Stop.Format(time.RFC3339))
}

// Clock is a local wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}

	limits := []int{23, 59, 59}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return Clock{}, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
		vals[i] = v
	}

	return Clock{Hour: vals[0], Minute: vals[1], Second: vals[2]}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Schedule describes a window recurring once per calendar day.
type Schedule struct {
	start    Clock
	duration time.Duration
	loc      *time.Location
}

// NewSchedule validates and builds a daily schedule.
func NewSchedule(start Clock, duration time.Duration, loc *time.Location) (*Schedule, error) {
	if duration <= 0 || duration >= 24*time.Hour {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidDuration, duration)
	}
	if loc == nil {
		return nil, errors.New("window: location is required")
	}
	return &Schedule{start: start, duration: duration, loc: loc}, nil
}

// Location returns the timezone windows are computed in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Duration returns the configured window length.
func (s *Schedule) Duration() time.Duration { return s.duration }

// Start returns the configured local start time.
func (s *Schedule) Start() Clock { return s.start }

// Nearby returns yesterday's, today's and tomorrow's windows relative to the
// calendar day of ref in the schedule's timezone, oldest first.
func (s *Schedule) Nearby(ref time.Time) [3]Window {
	local := ref.In(s.loc)
	y, m, d := local.Date()

	var out [3]Window
	for i, offset := range []int{-1, 0, 1} {
		// time.Date normalizes d+offset across month and year boundaries.
		start := time.Date(y, m, d+offset, s.start.Hour, s.start.Minute, s.start.Second, 0, s.loc)
		out[i] = Window{Start: start, Stop: start.Add(s.duration)}
	}
	return out
}

// CurrentOrNext returns the window now is inside of, or the next one to open.
func (s *Schedule) CurrentOrNext(now time.Time) (Window, bool) {
	for _, w := range s.Nearby(now) {
		if !w.Stop.Before(now) {
			return w, true
		}
	}
	return Window{}, false
}

// StrictlyNext returns the first window that opens after now, skipping one
// currently in progress.
func (s *Schedule) StrictlyNext(now time.Time) (Window, bool) {
	for _, w := range s.Nearby(now) {
		if w.Start.After(now) {
			return w, true
		}
	}
	return Window{}, false
}
