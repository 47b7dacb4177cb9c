package view

import (
	"testing"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/model"
)

func sampleAppointment() model.Appointment {
	return model.Appointment{
		ID:              "appt-1",
		RequesterID:     "req-1",
		ProviderID:      "prov-1",
		LocationID:      "loc-1",
		ScheduledAt:     time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		VisitKind:       model.VisitFollowUp,
		Status:          model.StatusApproved,
		LocationName:    "Downtown Clinic",
		LocationAddress: "12 Main St",
	}
}

func TestCompose_JoinsAndSnapshot(t *testing.T) {
	appt := sampleAppointment()
	providers := map[string]model.Provider{
		"prov-1": {ID: "prov-1", DisplayName: "Ana", Surname: "Silva", Specialty: "cardiology"},
	}
	requesters := map[string]model.Requester{
		"req-1": {ID: "req-1", DisplayName: "Omar", DateOfBirth: time.Date(1990, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	v := Compose(appt, providers, requesters, now)

	if v.Provider == nil || v.Provider.Join != JoinLive {
		t.Fatalf("expected live provider card, got %+v", v.Provider)
	}
	if v.Provider.Surname != "Silva" {
		t.Fatalf("expected provider surname Silva, got %q", v.Provider.Surname)
	}
	if v.Requester == nil || v.Requester.Join != JoinLive {
		t.Fatalf("expected live requester card, got %+v", v.Requester)
	}
	if v.Requester.DateOfBirth == nil {
		t.Fatal("expected requester date of birth to be set")
	}
	if v.Location == nil || v.Location.Join != JoinSnapshot {
		t.Fatalf("expected snapshot location card, got %+v", v.Location)
	}
	if v.Location.Name != "Downtown Clinic" {
		t.Fatalf("expected snapshotted location name, got %q", v.Location.Name)
	}
	if v.Bucket != BucketUpcoming {
		t.Fatalf("expected upcoming bucket, got %q", v.Bucket)
	}
}

func TestCompose_MissingPartiesLeaveNilCards(t *testing.T) {
	appt := sampleAppointment()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	v := Compose(appt, nil, nil, now)

	if v.Provider != nil {
		t.Fatalf("expected nil provider card when join misses, got %+v", v.Provider)
	}
	if v.Requester != nil {
		t.Fatalf("expected nil requester card when join misses, got %+v", v.Requester)
	}
	if v.Location == nil {
		t.Fatal("location snapshot must survive missing reference data")
	}
	if v.ID != "appt-1" || v.Status != model.StatusApproved {
		t.Fatalf("core fields must compose regardless of joins, got %+v", v)
	}
}

func TestBucket(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-48 * time.Hour)

	cases := []struct {
		name        string
		status      model.Status
		scheduledAt time.Time
		want        string
	}{
		{"approved future", model.StatusApproved, future, BucketUpcoming},
		{"pending future", model.StatusPending, future, BucketUpcoming},
		{"approved past", model.StatusApproved, past, BucketPast},
		{"cancelled future is still past", model.StatusCancelled, future, BucketPast},
		{"rejected future is still past", model.StatusRejected, future, BucketPast},
		{"completed past", model.StatusCompleted, past, BucketPast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			appt := sampleAppointment()
			appt.Status = tc.status
			appt.ScheduledAt = tc.scheduledAt
			if got := Bucket(appt, now); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestCounterparty(t *testing.T) {
	appt := sampleAppointment()
	providers := map[string]model.Provider{"prov-1": {ID: "prov-1", DisplayName: "Ana"}}
	requesters := map[string]model.Requester{"req-1": {ID: "req-1", DisplayName: "Omar"}}
	v := Compose(appt, providers, requesters, time.Now())

	got := Counterparty(v, model.RoleProvider)
	card, ok := got.(*RequesterCard)
	if !ok || card.ID != "req-1" {
		t.Fatalf("provider viewer should see the requester card, got %#v", got)
	}

	got = Counterparty(v, model.RoleRequester)
	pcard, ok := got.(*ProviderCard)
	if !ok || pcard.ID != "prov-1" {
		t.Fatalf("requester viewer should see the provider card, got %#v", got)
	}

	empty := Compose(appt, nil, nil, time.Now())
	if Counterparty(empty, model.RoleProvider) != nil {
		t.Fatal("missing counterparty must yield untyped nil")
	}
}
