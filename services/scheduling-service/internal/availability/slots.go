package availability

import (
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// DaySlots enumerates bookable start times on the given calendar day
// (year/month/day interpreted in the provider's timezone): every step-aligned
// start inside the working window whose full duration avoids the break and
// all busy intervals, and which is not in the past.
func DaySlots(p model.Provider, day time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		return nil
	}
	local := day.In(loc)

	w, ok := WindowFor(p, local.Weekday())
	if !ok || w.Start >= w.End {
		return nil
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	windows := splitAroundBreak(midnight, w)

	var slots []time.Time
	for _, win := range windows {
		for t := win.Start; !t.Add(duration).After(win.End); t = t.Add(step) {
			if t.Before(now) {
				continue
			}
			if !overlapsAny(t, t.Add(duration), busy) {
				slots = append(slots, t)
			}
		}
	}
	return slots
}

// splitAroundBreak turns a DayHours into one or two concrete intervals,
// carving the break out of the working window.
func splitAroundBreak(midnight time.Time, w model.DayHours) []Interval {
	at := func(m model.Minute) time.Time {
		return midnight.Add(time.Duration(m) * time.Minute)
	}
	full := Interval{Start: at(w.Start), End: at(w.End)}
	if w.Break == nil || w.Break.Start >= w.Break.End {
		return []Interval{full}
	}

	var out []Interval
	if w.Break.Start > w.Start {
		out = append(out, Interval{Start: full.Start, End: at(w.Break.Start)})
	}
	if w.Break.End < w.End {
		out = append(out, Interval{Start: at(w.Break.End), End: full.End})
	}
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
