// Package availability decides whether a candidate instant is bookable
// against a provider's recurring weekly working hours. Everything here is a
// pure function of its inputs.
package availability

import (
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// BookingHorizonDays bounds how far ahead a booking may be placed.
const BookingHorizonDays = 30

// WindowFor returns the provider's working window for the weekday, or
// ok=false when the provider does not work that day.
func WindowFor(p model.Provider, weekday time.Weekday) (model.DayHours, bool) {
	if p.WorkingHours == nil {
		return model.DayHours{}, false
	}
	w, ok := p.WorkingHours[weekday]
	return w, ok
}

// IsBookable reports whether the candidate instant falls inside the
// provider's working window for that weekday, outside any break.
//
// The weekday is resolved in the provider's own timezone. A missing or
// unknown timezone fails closed, as does an absent weekday or an inverted
// window (start >= end, treated as unavailable all day rather than an error).
func IsBookable(p model.Provider, at time.Time) bool {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		return false
	}
	local := at.In(loc)

	w, ok := WindowFor(p, local.Weekday())
	if !ok {
		return false
	}
	if w.Start >= w.End {
		return false
	}

	m := model.Minute(local.Hour()*60 + local.Minute())
	if m < w.Start || m >= w.End {
		return false
	}
	if w.Break != nil && w.Break.Contains(m) {
		return false
	}
	return true
}

// WithinHorizon reports whether the candidate's calendar date (in loc) falls
// inside [today, today+BookingHorizonDays].
func WithinHorizon(now, candidate time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	today := midnight(now.In(loc))
	day := midnight(candidate.In(loc))
	if day.Before(today) {
		return false
	}
	return !day.After(today.AddDate(0, 0, BookingHorizonDays))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
