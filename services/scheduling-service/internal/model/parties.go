package model

import "time"

// Role identifies which side of an appointment an actor sits on.
type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleProvider, RoleRequester:
		return Role(s), true
	}
	return "", false
}

// Provider is the actor whose availability is booked against. The scheduling
// core treats this record as read-only reference data; it is owned by the
// profile collaborator.
//
// Timezone is the provider's canonical scheduling timezone (IANA name). It is
// required: working-hours comparisons are undefined without it, so an empty
// or unknown timezone makes the provider unbookable rather than silently
// assuming UTC.
type Provider struct {
	ID           string
	DisplayName  string
	Surname      string
	Specialty    string
	PhotoURL     string
	Timezone     string
	WorkingHours WorkingHours
}

// Requester is the actor initiating bookings. Only identity matters to the
// scheduling core; demographic fields exist for view composition.
type Requester struct {
	ID          string
	DisplayName string
	Gender      string
	DateOfBirth time.Time
	PhotoURL    string
}

type Location struct {
	ID      string
	Name    string
	Address string
}
