package collector

import (
	"fmt"
	"time"
)

// DefaultWindow is the trailing span scanned by a normal run.
const DefaultWindow = 24 * time.Hour

// Window is the half-open UTC interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow normalises both bounds to UTC and requires start < end.
func NewWindow(start, end time.Time) (Window, error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return Window{}, fmt.Errorf("invalid window: start %s is not before end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Trailing returns the window of length d ending at end.
func Trailing(end time.Time, d time.Duration) (Window, error) {
	return NewWindow(end.Add(-d), end)
}

// Contains reports whether start <= t < end.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
