package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// 2026-01-05 is a Monday.
func monday(hour, min int) time.Time {
	return time.Date(2026, 1, 5, hour, min, 0, 0, time.UTC)
}

func TestDecide_AcceptWithinWindowGoesOngoing(t *testing.T) {
	scheduledAt := monday(10, 0)
	now := monday(9, 45)

	next, err := Decide(model.StatusPending, ActionAccept, now, scheduledAt)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if next != model.StatusOngoing {
		t.Fatalf("accept at 09:45 for a 10:00 appointment should be ONGOING, got %s", next)
	}
}

func TestDecide_AcceptOutsideWindowGoesApproved(t *testing.T) {
	scheduledAt := monday(10, 0)
	now := monday(7, 0)

	next, err := Decide(model.StatusPending, ActionAccept, now, scheduledAt)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if next != model.StatusApproved {
		t.Fatalf("accept at 07:00 for a 10:00 appointment should be APPROVED, got %s", next)
	}
}

func TestDecide_AcceptWindowBounds(t *testing.T) {
	scheduledAt := monday(10, 0)

	cases := []struct {
		name string
		now  time.Time
		want model.Status
	}{
		{"exactly 60 minutes before", monday(9, 0), model.StatusOngoing},
		{"just over 60 minutes before", monday(8, 59), model.StatusApproved},
		{"exactly 30 minutes after", monday(10, 30), model.StatusOngoing},
		{"just past 30 minutes after", monday(10, 31), model.StatusApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Decide(model.StatusPending, ActionAccept, tc.now, scheduledAt)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if next != tc.want {
				t.Fatalf("got %s, want %s", next, tc.want)
			}
		})
	}
}

func TestDecide_TransitionTable(t *testing.T) {
	scheduledAt := monday(10, 0)
	now := monday(7, 0)

	cases := []struct {
		from    model.Status
		action  Action
		want    model.Status
		wantErr bool
	}{
		{model.StatusPending, ActionReject, model.StatusRejected, false},
		{model.StatusPending, ActionDelay, model.StatusRescheduled, false},
		{model.StatusPending, ActionCancel, model.StatusCancelled, false},
		{model.StatusApproved, ActionRevert, model.StatusPending, false},
		{model.StatusOngoing, ActionRevert, model.StatusPending, false},
		{model.StatusRescheduled, ActionRevert, model.StatusPending, false},
		{model.StatusApproved, ActionCancel, model.StatusCancelled, false},
		{model.StatusOngoing, ActionComplete, model.StatusCompleted, false},

		{model.StatusPending, ActionRevert, "", true},
		{model.StatusPending, ActionComplete, "", true},
		{model.StatusApproved, ActionAccept, "", true},
		{model.StatusApproved, ActionReject, "", true},
		{model.StatusApproved, ActionComplete, "", true},
		{model.StatusRescheduled, ActionAccept, "", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"/"+string(tc.action), func(t *testing.T) {
			next, err := Decide(tc.from, tc.action, now, scheduledAt)
			if tc.wantErr {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("expected ErrIllegalTransition, got next=%s err=%v", next, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if next != tc.want {
				t.Fatalf("got %s, want %s", next, tc.want)
			}
		})
	}
}

func TestDecide_TerminalStatesAreImmutable(t *testing.T) {
	terminals := []model.Status{model.StatusRejected, model.StatusCancelled, model.StatusCompleted}
	actions := []Action{ActionAccept, ActionReject, ActionDelay, ActionRevert, ActionCancel, ActionComplete}

	for _, from := range terminals {
		for _, action := range actions {
			if _, err := Decide(from, action, monday(9, 0), monday(10, 0)); !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("Decide(%s, %s) must fail with ErrIllegalTransition, got %v", from, action, err)
			}
		}
	}
}

// Closure: every defined state/action pair yields either a member of the
// status set or ErrIllegalTransition, never an unknown status.
func TestDecide_Closure(t *testing.T) {
	states := []model.Status{
		model.StatusPending, model.StatusApproved, model.StatusOngoing,
		model.StatusRescheduled, model.StatusRejected, model.StatusCancelled,
		model.StatusCompleted,
	}
	actions := []Action{ActionAccept, ActionReject, ActionDelay, ActionRevert, ActionCancel, ActionComplete, Action("bogus")}

	for _, from := range states {
		for _, action := range actions {
			next, err := Decide(from, action, monday(9, 0), monday(10, 0))
			if err != nil {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("Decide(%s, %s): unexpected error kind %v", from, action, err)
				}
				continue
			}
			if !next.Known() {
				t.Fatalf("Decide(%s, %s) produced unknown status %q", from, action, next)
			}
		}
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		action Action
		role   model.Role
		want   bool
	}{
		{ActionAccept, model.RoleProvider, true},
		{ActionAccept, model.RoleRequester, false},
		{ActionReject, model.RoleRequester, false},
		{ActionDelay, model.RoleProvider, true},
		{ActionComplete, model.RoleRequester, false},
		{ActionRevert, model.RoleProvider, true},
		{ActionRevert, model.RoleRequester, true},
		{ActionCancel, model.RoleProvider, true},
		{ActionCancel, model.RoleRequester, true},
	}
	for _, tc := range cases {
		if got := Allowed(tc.action, tc.role); got != tc.want {
			t.Fatalf("Allowed(%s, %s) = %v, want %v", tc.action, tc.role, got, tc.want)
		}
	}
}
