package view

import (
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// Join reports how a card's data was sourced: live means joined from the
// current reference record at read time, snapshot means captured at booking
// time and immutable since.
const (
	JoinLive     = "live"
	JoinSnapshot = "snapshot"
)

const (
	BucketUpcoming = "upcoming"
	BucketPast     = "past"
)

type ProviderCard struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Surname     string `json:"surname,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Join        string `json:"join"`
}

type RequesterCard struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Gender      string     `json:"gender,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	PhotoURL    string     `json:"photo_url,omitempty"`
	Join        string     `json:"join"`
}

type LocationCard struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Join    string `json:"join"`
}

// AppointmentView is the read model served to clients. Provider and
// Requester are nil when the reference record no longer resolves; clients
// render a placeholder rather than the whole appointment disappearing.
type AppointmentView struct {
	ID              string          `json:"id"`
	ScheduledAt     time.Time       `json:"scheduled_at"`
	DurationMinutes int             `json:"duration_minutes"`
	VisitKind       model.VisitKind `json:"visit_kind"`
	Status          model.Status    `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CancelledBy     string          `json:"cancelled_by,omitempty"`
	LastModifiedAt  *time.Time      `json:"last_modified_at,omitempty"`
	Bucket          string          `json:"bucket"`
	Provider        *ProviderCard   `json:"provider"`
	Requester       *RequesterCard  `json:"requester"`
	Location        *LocationCard   `json:"location"`
}

// Bucket classifies an appointment for agenda grouping. Terminal records are
// past regardless of their date: a cancelled appointment next week is
// history, not an upcoming obligation.
func Bucket(appt model.Appointment, now time.Time) string {
	if appt.Status.Terminal() || appt.ScheduledAt.Before(now) {
		return BucketPast
	}
	return BucketUpcoming
}

// Compose builds the read model for one appointment. Party cards join
// against the supplied reference maps; the location card always comes from
// the booking-time snapshot carried on the record itself.
func Compose(appt model.Appointment, providers map[string]model.Provider, requesters map[string]model.Requester, now time.Time) AppointmentView {
	v := AppointmentView{
		ID:              appt.ID,
		ScheduledAt:     appt.ScheduledAt,
		DurationMinutes: appt.DurationMinutes,
		VisitKind:       appt.VisitKind,
		Status:          appt.Status,
		Notes:           appt.Notes,
		CancelReason:    appt.CancelReason,
		CancelledBy:     appt.CancelledBy,
		LastModifiedAt:  appt.LastModifiedAt,
		Bucket:          Bucket(appt, now),
	}

	if p, ok := providers[appt.ProviderID]; ok {
		v.Provider = &ProviderCard{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Surname:     p.Surname,
			Specialty:   p.Specialty,
			PhotoURL:    p.PhotoURL,
			Join:        JoinLive,
		}
	}
	if q, ok := requesters[appt.RequesterID]; ok {
		card := &RequesterCard{
			ID:          q.ID,
			DisplayName: q.DisplayName,
			Gender:      q.Gender,
			PhotoURL:    q.PhotoURL,
			Join:        JoinLive,
		}
		if !q.DateOfBirth.IsZero() {
			dob := q.DateOfBirth
			card.DateOfBirth = &dob
		}
		v.Requester = card
	}
	if appt.LocationName != "" || appt.LocationID != "" {
		v.Location = &LocationCard{
			ID:      appt.LocationID,
			Name:    appt.LocationName,
			Address: appt.LocationAddress,
			Join:    JoinSnapshot,
		}
	}
	return v
}

// ComposeAll maps Compose over a list, preserving order.
func ComposeAll(appts []model.Appointment, providers map[string]model.Provider, requesters map[string]model.Requester, now time.Time) []AppointmentView {
	views := make([]AppointmentView, 0, len(appts))
	for _, appt := range appts {
		views = append(views, Compose(appt, providers, requesters, now))
	}
	return views
}

// Counterparty returns the card on the opposite side from the viewer's role,
// as an any so handlers can serve one shape for both agendas. A provider
// looks at requesters and vice versa.
func Counterparty(v AppointmentView, viewer model.Role) any {
	switch viewer {
	case model.RoleProvider:
		if v.Requester == nil {
			return nil
		}
		return v.Requester
	case model.RoleRequester:
		if v.Provider == nil {
			return nil
		}
		return v.Provider
	}
	return nil
}
