// Package lifecycle defines the appointment status graph and the decision
// function that resolves an action plus the current wall-clock time into the
// next status. It is the only place allowed to produce a status change.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// Action is an intent issued by one of the two parties.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionDelay    Action = "delay"
	ActionRevert   Action = "revert" // "edit decision": back to PENDING
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionAccept, ActionReject, ActionDelay, ActionRevert, ActionCancel, ActionComplete:
		return Action(s), true
	}
	return "", false
}

// ErrIllegalTransition is returned when an action is not valid from the
// current status. Callers present the wrapped detail directly to the user.
var ErrIllegalTransition = errors.New("illegal transition")

// Acceptance close to the scheduled time lands directly in ONGOING when now
// is within [scheduledAt-OngoingLead, scheduledAt+OngoingLag].
const (
	OngoingLead = 60 * time.Minute
	OngoingLag  = 30 * time.Minute
)

// OngoingWindow returns the wall-clock interval during which an appointment
// counts as in progress. The sweep worker uses the same bounds to promote
// APPROVED appointments whose window has opened.
func OngoingWindow(scheduledAt time.Time) (start, end time.Time) {
	return scheduledAt.Add(-OngoingLead), scheduledAt.Add(OngoingLag)
}

func withinOngoingWindow(now, scheduledAt time.Time) bool {
	start, end := OngoingWindow(scheduledAt)
	return !now.Before(start) && !now.After(end)
}

// Decide resolves the next status for the given action. It is pure: the
// ONGOING-vs-APPROVED branch reads the clock passed in, never the ambient
// one, and the result is not re-evaluated later (the sweep handles that).
func Decide(current model.Status, action Action, now, scheduledAt time.Time) (model.Status, error) {
	if current.Terminal() {
		return "", fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, current)
	}

	switch action {
	case ActionAccept:
		if current != model.StatusPending {
			return "", illegal(current, action)
		}
		if withinOngoingWindow(now, scheduledAt) {
			return model.StatusOngoing, nil
		}
		return model.StatusApproved, nil

	case ActionReject:
		if current != model.StatusPending {
			return "", illegal(current, action)
		}
		return model.StatusRejected, nil

	case ActionDelay:
		if current != model.StatusPending {
			return "", illegal(current, action)
		}
		return model.StatusRescheduled, nil

	case ActionRevert:
		switch current {
		case model.StatusApproved, model.StatusOngoing, model.StatusRescheduled:
			return model.StatusPending, nil
		}
		return "", illegal(current, action)

	case ActionCancel:
		// Any non-terminal state may be cancelled; terminal states were
		// rejected above.
		return model.StatusCancelled, nil

	case ActionComplete:
		if current != model.StatusOngoing {
			return "", illegal(current, action)
		}
		return model.StatusCompleted, nil
	}

	return "", fmt.Errorf("%w: unknown action %q", ErrIllegalTransition, action)
}

// Allowed reports whether the role may issue the action at all. The provider
// decides accept/reject/delay/complete; reverting and cancelling belong to
// either party.
func Allowed(action Action, role model.Role) bool {
	switch action {
	case ActionAccept, ActionReject, ActionDelay, ActionComplete:
		return role == model.RoleProvider
	case ActionRevert, ActionCancel:
		return role == model.RoleProvider || role == model.RoleRequester
	}
	return false
}

func illegal(current model.Status, action Action) error {
	return fmt.Errorf("%w: cannot %s from %s", ErrIllegalTransition, action, current)
}
