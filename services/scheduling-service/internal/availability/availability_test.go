package availability

import (
	"testing"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

func mustMinute(t *testing.T, s string) model.Minute {
	t.Helper()
	m, err := model.ParseMinute(s)
	if err != nil {
		t.Fatalf("ParseMinute(%q): %v", s, err)
	}
	return m
}

func testProvider(t *testing.T) model.Provider {
	t.Helper()
	return model.Provider{
		ID:       "doc-1",
		Timezone: "UTC",
		WorkingHours: model.WorkingHours{
			time.Monday: {
				Start: mustMinute(t, "09:00"),
				End:   mustMinute(t, "17:00"),
				Break: &model.Window{
					Start: mustMinute(t, "12:00"),
					End:   mustMinute(t, "13:00"),
				},
			},
			time.Tuesday: {
				Start: mustMinute(t, "09:00"),
				End:   mustMinute(t, "13:00"),
			},
		},
	}
}

// 2026-01-05 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2026, 1, 5, hour, min, 0, 0, time.UTC)
}

func TestIsBookable(t *testing.T) {
	p := testProvider(t)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"inside window", monday(10, 0), true},
		{"at window start", monday(9, 0), true},
		{"before window", monday(8, 59), false},
		{"at window end", monday(17, 0), false},
		{"after window", monday(18, 30), false},
		{"inside break", monday(12, 30), false},
		{"at break start", monday(12, 0), false},
		{"at break end", monday(13, 0), true},
		{"day off (sunday)", time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsBookable(p, tc.at); got != tc.want {
				t.Fatalf("IsBookable(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestIsBookable_Deterministic(t *testing.T) {
	p := testProvider(t)
	at := monday(10, 15)
	first := IsBookable(p, at)
	for i := 0; i < 100; i++ {
		if IsBookable(p, at) != first {
			t.Fatal("IsBookable is not deterministic for identical inputs")
		}
	}
}

func TestIsBookable_InvertedWindowIsClosedAllDay(t *testing.T) {
	p := testProvider(t)
	p.WorkingHours[time.Monday] = model.DayHours{
		Start: mustMinute(t, "17:00"),
		End:   mustMinute(t, "09:00"),
	}
	if IsBookable(p, monday(10, 0)) {
		t.Fatal("inverted window must be treated as unavailable all day")
	}
}

func TestIsBookable_MissingTimezoneFailsClosed(t *testing.T) {
	p := testProvider(t)
	p.Timezone = ""
	if IsBookable(p, monday(10, 0)) {
		t.Fatal("empty timezone must fail closed")
	}
	p.Timezone = "Not/AZone"
	if IsBookable(p, monday(10, 0)) {
		t.Fatal("unknown timezone must fail closed")
	}
}

func TestIsBookable_ProviderLocalWeekday(t *testing.T) {
	p := testProvider(t)
	p.Timezone = "America/New_York"
	// 01:00 UTC Tuesday is still Monday 20:00 in New York: outside the
	// Monday window, and it must not match the Tuesday window either.
	at := time.Date(2026, 1, 6, 1, 0, 0, 0, time.UTC)
	if IsBookable(p, at) {
		t.Fatal("weekday must be resolved in the provider's timezone")
	}
	// 15:00 UTC Monday is 10:00 New York Monday: inside the window.
	if !IsBookable(p, monday(15, 0)) {
		t.Fatal("expected Monday 10:00 provider-local to be bookable")
	}
}

func TestWithinHorizon(t *testing.T) {
	now := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		candidate time.Time
		want      bool
	}{
		{"same day earlier clock time", time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), true},
		{"tomorrow", now.AddDate(0, 0, 1), true},
		{"exactly 30 days out", now.AddDate(0, 0, 30), true},
		{"31 days out", now.AddDate(0, 0, 31), false},
		{"yesterday", now.AddDate(0, 0, -1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WithinHorizon(now, tc.candidate, time.UTC); got != tc.want {
				t.Fatalf("WithinHorizon(%s) = %v, want %v", tc.candidate, got, tc.want)
			}
		})
	}
}

func TestDaySlots_CarvesBreakAndBusy(t *testing.T) {
	p := testProvider(t)
	day := monday(0, 0)
	busy := []Interval{{Start: monday(9, 30), End: monday(10, 0)}}

	slots := DaySlots(p, day, 30*time.Minute, 30*time.Minute, busy, monday(0, 0))

	// 09:30 is blocked by the busy interval, 12:00 and 12:30 by the break.
	// The rest of the 09:00-17:00 window at a 30 minute step leaves 13 slots.
	if len(slots) != 13 {
		t.Fatalf("expected 13 slots, got %d: %v", len(slots), slots)
	}
	if !slots[0].Equal(monday(9, 0)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0])
	}
	for _, s := range slots {
		if s.Equal(monday(9, 30)) {
			t.Fatal("09:30 overlaps the busy interval and must be excluded")
		}
		if s.Equal(monday(12, 0)) || s.Equal(monday(12, 30)) {
			t.Fatalf("slot %s falls inside the break", s)
		}
	}
}

func TestDaySlots_SkipsPast(t *testing.T) {
	p := testProvider(t)
	now := monday(16, 1)
	slots := DaySlots(p, monday(0, 0), 30*time.Minute, 30*time.Minute, nil, now)
	if len(slots) != 1 {
		t.Fatalf("expected only 16:30 to remain, got %v", slots)
	}
	if !slots[0].Equal(monday(16, 30)) {
		t.Fatalf("expected 16:30, got %s", slots[0])
	}
}

func TestDaySlots_DayOff(t *testing.T) {
	p := testProvider(t)
	sunday := time.Date(2026, 1, 4, 0, 0, 0, 0, time.UTC)
	if slots := DaySlots(p, sunday, 30*time.Minute, 30*time.Minute, nil, sunday); slots != nil {
		t.Fatalf("expected no slots on a day off, got %v", slots)
	}
}
