package model

import "time"

// Status is the lifecycle state of an appointment. Transitions between
// statuses are owned by the lifecycle package; nothing else may write the
// field.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusApproved    Status = "APPROVED"
	StatusOngoing     Status = "ONGOING"
	StatusRescheduled Status = "RESCHEDULED"
	StatusRejected    Status = "REJECTED"
	StatusCancelled   Status = "CANCELLED"
	StatusCompleted   Status = "COMPLETED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Known reports whether s is a member of the defined status set.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusApproved, StatusOngoing, StatusRescheduled,
		StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

type VisitKind string

const (
	VisitFirst        VisitKind = "first-visit"
	VisitFollowUp     VisitKind = "follow-up"
	VisitConsultation VisitKind = "consultation"
)

func (k VisitKind) Valid() bool {
	switch k {
	case VisitFirst, VisitFollowUp, VisitConsultation:
		return true
	}
	return false
}

const DefaultDurationMinutes = 30

// Audit records who performed the last status change and when. It is written
// atomically with every transition.
type Audit struct {
	At time.Time
	By string
}

// Appointment is the canonical scheduling record. RequesterID, ProviderID and
// ScheduledAt are immutable after creation; rescheduling is a RESCHEDULED
// transition plus a new appointment, never an in-place date change.
//
// LocationName/LocationAddress are snapshotted from the location record at
// booking time so historical appointments stay stable if the location record
// changes later. Provider and requester display data is never stored here;
// the view package joins it live.
type Appointment struct {
	ID              string
	RequesterID     string
	ProviderID      string
	LocationID      string
	ScheduledAt     time.Time
	DurationMinutes int
	VisitKind       VisitKind
	Status          Status
	Notes           string
	CancelReason    string
	CancelledBy     string
	LocationName    string
	LocationAddress string
	LastModifiedAt  *time.Time
	LastModifiedBy  string
	Version         int64
	CreatedAt       time.Time
}
