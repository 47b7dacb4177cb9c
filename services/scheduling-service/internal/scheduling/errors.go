package scheduling

import "errors"

var (
	// ErrUnavailableSlot covers every way a requested time can be
	// unbookable: outside working hours, in a break, past, beyond the
	// horizon, or on a provider with unusable hours data.
	ErrUnavailableSlot = errors.New("requested slot is not available")

	// ErrForbidden means the actor is not a party to the appointment or the
	// action is not permitted for their role.
	ErrForbidden = errors.New("actor may not perform this action")

	// ErrReasonRequired is returned for cancellations without a reason.
	ErrReasonRequired = errors.New("cancellation requires a reason")

	ErrInvalidRequest = errors.New("invalid request")
)
