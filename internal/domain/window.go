package domain

import (
	"fmt"
	"time"
)

// Window is the query range for scoring. End is inclusive.
type Window struct {
	Start      time.Time
	End        time.Time
	LocationID string
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidWindow)
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: end must not be before start", ErrInvalidWindow)
	}
	return nil
}

// Baseline is the seven-day trailing window ending the day before Start.
func (w Window) Baseline() Window {
	return Window{
		Start:      w.Start.AddDate(0, 0, -7),
		End:        w.Start.AddDate(0, 0, -1),
		LocationID: w.LocationID,
	}
}

// TrailingWeek is the seven days ending at End.
func (w Window) TrailingWeek() Window {
	return Window{
		Start:      w.End.AddDate(0, 0, -7),
		End:        w.End,
		LocationID: w.LocationID,
	}
}

// Unfiltered drops the location filter.
func (w Window) Unfiltered() Window {
	w.LocationID = ""
	return w
}

func (w Window) CacheKey() string {
	loc := w.LocationID
	if loc == "" {
		loc = "all"
	}
	return fmt.Sprintf("dashboard:%s:%s:%s", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339), loc)
}

// Filter selects transactions for a count query. Empty EventCodes matches all
// codes; a nil Success matches both outcomes.
type Filter struct {
	Window
	EventCodes []string
	Success    *bool
}

func Bool(b bool) *bool { return &b }
