package model

import (
	"fmt"
	"time"
)

// Minute is a clock time expressed as minutes since local midnight.
// Working-hours rows store it directly, and it compares cheaply.
type Minute int

// ParseMinute parses a "15:04" clock string.
func ParseMinute(s string) (Minute, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return Minute(t.Hour()*60 + t.Minute()), nil
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Window is a half-open [Start, End) clock interval within a single day.
type Window struct {
	Start Minute
	End   Minute
}

// Contains reports whether the clock minute m falls inside the window.
func (w Window) Contains(m Minute) bool {
	return m >= w.Start && m < w.End
}

// DayHours is a provider's working window for one weekday, optionally
// excluding a break sub-interval.
type DayHours struct {
	Start Minute
	End   Minute
	Break *Window
}

// WorkingHours maps weekdays to working windows. An absent weekday means the
// provider is unavailable that day.
type WorkingHours map[time.Weekday]DayHours
