package scheduling

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/feed"
	"github.com/documed/documed/services/scheduling-service/internal/lifecycle"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/outbox"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
)

type fakeStore struct {
	appts     map[string]model.Appointment
	events    []outbox.Event
	conflicts int
	getCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{appts: map[string]model.Appointment{}}
}

func (f *fakeStore) Create(ctx context.Context, appt model.Appointment, evt outbox.Event) error {
	f.appts[appt.ID] = appt
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	f.getCalls++
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return appt, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, appt model.Appointment, evt outbox.Event) (model.Appointment, error) {
	if f.conflicts > 0 {
		f.conflicts--
		return model.Appointment{}, storage.ErrConcurrentModification
	}
	current, ok := f.appts[appt.ID]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	if current.Version != appt.Version {
		return model.Appointment{}, storage.ErrConcurrentModification
	}
	appt.Version++
	f.appts[appt.ID] = appt
	f.events = append(f.events, evt)
	return appt, nil
}

func (f *fakeStore) ListByProvider(ctx context.Context, providerID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListByRequester(ctx context.Context, requesterID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.RequesterID == requesterID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBusy(ctx context.Context, providerID string, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if a.ProviderID == providerID && !a.Status.Terminal() &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeRefs struct {
	providers  map[string]model.Provider
	requesters map[string]model.Requester
	locations  map[string]model.Location
}

func (f *fakeRefs) Provider(ctx context.Context, id string) (model.Provider, error) {
	p, ok := f.providers[id]
	if !ok {
		return model.Provider{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeRefs) Requester(ctx context.Context, id string) (model.Requester, error) {
	q, ok := f.requesters[id]
	if !ok {
		return model.Requester{}, storage.ErrNotFound
	}
	return q, nil
}

func (f *fakeRefs) Location(ctx context.Context, id string) (model.Location, error) {
	l, ok := f.locations[id]
	if !ok {
		return model.Location{}, storage.ErrNotFound
	}
	return l, nil
}

func (f *fakeRefs) ProvidersByID(ctx context.Context, ids []string) (map[string]model.Provider, error) {
	out := map[string]model.Provider{}
	for _, id := range ids {
		if p, ok := f.providers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeRefs) RequestersByID(ctx context.Context, ids []string) (map[string]model.Requester, error) {
	out := map[string]model.Requester{}
	for _, id := range ids {
		if q, ok := f.requesters[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (f *fakeRefs) LocationsByID(ctx context.Context, ids []string) (map[string]model.Location, error) {
	out := map[string]model.Location{}
	for _, id := range ids {
		if l, ok := f.locations[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

type fakeNotifier struct {
	events []feed.ChangeEvent
}

func (f *fakeNotifier) Notify(ctx context.Context, evt feed.ChangeEvent) {
	f.events = append(f.events, evt)
}

// fixedNow is a Monday at 08:00 UTC.
var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testService(t *testing.T) (*Service, *fakeStore, *fakeRefs, *fakeNotifier) {
	t.Helper()
	store := newFakeStore()
	refs := &fakeRefs{
		providers: map[string]model.Provider{
			"prov-1": {
				ID:          "prov-1",
				DisplayName: "Ana",
				Timezone:    "UTC",
				WorkingHours: model.WorkingHours{
					time.Monday:  {Start: 9 * 60, End: 17 * 60, Break: &model.Window{Start: 12 * 60, End: 13 * 60}},
					time.Tuesday: {Start: 9 * 60, End: 17 * 60},
				},
			},
		},
		requesters: map[string]model.Requester{
			"req-1": {ID: "req-1", DisplayName: "Omar"},
		},
		locations: map[string]model.Location{
			"loc-1": {ID: "loc-1", Name: "Downtown Clinic", Address: "12 Main St"},
		},
	}
	notifier := &fakeNotifier{}
	svc := NewService(store, refs, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedNow }
	return svc, store, refs, notifier
}

func validBooking() BookingRequest {
	return BookingRequest{
		RequesterID: "req-1",
		ProviderID:  "prov-1",
		LocationID:  "loc-1",
		ScheduledAt: fixedNow.Add(2 * time.Hour), // Monday 10:00
		VisitKind:   model.VisitConsultation,
	}
}

func TestRequestBooking(t *testing.T) {
	svc, store, _, notifier := testService(t)

	appt, err := svc.RequestBooking(context.Background(), validBooking())
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("new bookings start PENDING, got %s", appt.Status)
	}
	if appt.DurationMinutes != model.DefaultDurationMinutes {
		t.Fatalf("expected default duration, got %d", appt.DurationMinutes)
	}
	if appt.LocationName != "Downtown Clinic" || appt.LocationAddress != "12 Main St" {
		t.Fatalf("location must be snapshotted onto the record, got %+v", appt)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.EventAppointmentRequested {
		t.Fatalf("expected one requested event, got %+v", store.events)
	}
	if len(notifier.events) != 1 || notifier.events[0].Status != model.StatusPending {
		t.Fatalf("expected one feed notification, got %+v", notifier.events)
	}
}

func TestRequestBooking_Rejections(t *testing.T) {
	svc, _, refs, _ := testService(t)
	refs.providers["prov-naive"] = model.Provider{ID: "prov-naive", DisplayName: "NoTZ"}

	cases := []struct {
		name    string
		mutate  func(*BookingRequest)
		wantErr error
	}{
		{"past time", func(r *BookingRequest) { r.ScheduledAt = fixedNow.Add(-time.Hour) }, ErrUnavailableSlot},
		{"exactly now", func(r *BookingRequest) { r.ScheduledAt = fixedNow }, ErrUnavailableSlot},
		{"beyond horizon", func(r *BookingRequest) { r.ScheduledAt = fixedNow.AddDate(0, 0, 31).Add(2 * time.Hour) }, ErrUnavailableSlot},
		{"during break", func(r *BookingRequest) { r.ScheduledAt = fixedNow.Add(4*time.Hour + 30*time.Minute) }, ErrUnavailableSlot},
		{"day off", func(r *BookingRequest) { r.ScheduledAt = fixedNow.AddDate(0, 0, 2).Add(2 * time.Hour) }, ErrUnavailableSlot},
		{"provider without timezone", func(r *BookingRequest) { r.ProviderID = "prov-naive" }, ErrUnavailableSlot},
		{"unknown visit kind", func(r *BookingRequest) { r.VisitKind = "walk-in" }, ErrInvalidRequest},
		{"missing location", func(r *BookingRequest) { r.LocationID = "" }, ErrInvalidRequest},
		{"unknown requester", func(r *BookingRequest) { r.RequesterID = "req-ghost" }, storage.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validBooking()
			tc.mutate(&req)
			_, err := svc.RequestBooking(context.Background(), req)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func book(t *testing.T, svc *Service) model.Appointment {
	t.Helper()
	appt, err := svc.RequestBooking(context.Background(), validBooking())
	if err != nil {
		t.Fatal(err)
	}
	return appt
}

func TestTransition_AcceptNearStartGoesOngoing(t *testing.T) {
	svc, store, _, notifier := testService(t)
	appt := book(t, svc)

	// 10:00 appointment accepted at 09:30 is inside the ongoing window.
	svc.now = func() time.Time { return fixedNow.Add(90 * time.Minute) }

	updated, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionAccept,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.StatusOngoing {
		t.Fatalf("accept near start must land ONGOING, got %s", updated.Status)
	}
	last := store.events[len(store.events)-1]
	if last.EventType != outbox.EventAppointmentOngoing {
		t.Fatalf("expected ongoing event, got %s", last.EventType)
	}
	if notifier.events[len(notifier.events)-1].Status != model.StatusOngoing {
		t.Fatalf("feed must carry the new status, got %+v", notifier.events)
	}
}

func TestTransition_AcceptEarlyGoesApproved(t *testing.T) {
	svc, store, _, _ := testService(t)
	appt := book(t, svc)

	updated, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionAccept,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.StatusApproved {
		t.Fatalf("accept two hours ahead must land APPROVED, got %s", updated.Status)
	}
	last := store.events[len(store.events)-1]
	if last.EventType != outbox.EventAppointmentDecided {
		t.Fatalf("expected decided event, got %s", last.EventType)
	}
	if updated.LastModifiedBy != "provider:prov-1" {
		t.Fatalf("audit trail missing, got %q", updated.LastModifiedBy)
	}
}

func TestTransition_Authorization(t *testing.T) {
	svc, _, _, _ := testService(t)
	appt := book(t, svc)

	// Requesters may not decide.
	_, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionAccept,
		Actor:         Actor{ID: "req-1", Role: model.RoleRequester},
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	// Strangers may do nothing, even role-permitted actions.
	_, err = svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionCancel,
		Actor:         Actor{ID: "prov-other", Role: model.RoleProvider},
		Reason:        "not mine",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-party, got %v", err)
	}
}

func TestTransition_CancelRequiresReason(t *testing.T) {
	svc, store, _, _ := testService(t)
	appt := book(t, svc)

	_, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionCancel,
		Actor:         Actor{ID: "req-1", Role: model.RoleRequester},
		Reason:        "   ",
	})
	if !errors.Is(err, ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}

	updated, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionCancel,
		Actor:         Actor{ID: "req-1", Role: model.RoleRequester},
		Reason:        "schedule conflict",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != model.StatusCancelled || updated.CancelReason != "schedule conflict" || updated.CancelledBy != "req-1" {
		t.Fatalf("cancellation fields not recorded, got %+v", updated)
	}
	last := store.events[len(store.events)-1]
	if last.EventType != outbox.EventAppointmentCancelled {
		t.Fatalf("expected cancelled event, got %s", last.EventType)
	}
}

func TestTransition_RevertClearsCancellationTraces(t *testing.T) {
	svc, _, _, _ := testService(t)
	appt := book(t, svc)

	accepted, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionAccept,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != model.StatusApproved {
		t.Fatalf("setup: expected APPROVED, got %s", accepted.Status)
	}

	reverted, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionRevert,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if err != nil {
		t.Fatal(err)
	}
	if reverted.Status != model.StatusPending {
		t.Fatalf("revert must land PENDING, got %s", reverted.Status)
	}
}

func TestTransition_CompleteOnlyFromOngoing(t *testing.T) {
	svc, _, _, _ := testService(t)
	appt := book(t, svc)

	_, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionComplete,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Fatalf("complete from PENDING must be illegal, got %v", err)
	}
}

func TestTransition_RetriesLostRaceOnce(t *testing.T) {
	svc, store, _, _ := testService(t)
	appt := book(t, svc)
	store.conflicts = 1

	updated, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionAccept,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if err != nil {
		t.Fatalf("single conflict must be absorbed by the retry, got %v", err)
	}
	if updated.Status != model.StatusApproved {
		t.Fatalf("expected APPROVED after retry, got %s", updated.Status)
	}
	if store.getCalls != 2 {
		t.Fatalf("expected a re-read before the retry, got %d reads", store.getCalls)
	}
}

func TestTransition_SecondConflictSurfaces(t *testing.T) {
	svc, store, _, _ := testService(t)
	appt := book(t, svc)
	store.conflicts = 2

	_, err := svc.Transition(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Action:        lifecycle.ActionAccept,
		Actor:         Actor{ID: "prov-1", Role: model.RoleProvider},
	})
	if !errors.Is(err, storage.ErrConcurrentModification) {
		t.Fatalf("expected the conflict to surface after one retry, got %v", err)
	}
}

func TestSlots_ExcludesBookedTimes(t *testing.T) {
	svc, _, _, _ := testService(t)
	appt := book(t, svc) // Monday 10:00, 30 minutes

	slots, err := svc.Slots(context.Background(), "prov-1", fixedNow, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range slots {
		if s.Equal(appt.ScheduledAt) {
			t.Fatalf("booked slot %s must not be offered", s)
		}
	}
	if len(slots) == 0 {
		t.Fatal("expected free slots on a working Monday")
	}
}

func TestSlots_ProviderBehindUTC(t *testing.T) {
	svc, _, refs, _ := testService(t)
	refs.providers["prov-ny"] = model.Provider{
		ID:          "prov-ny",
		DisplayName: "Noa",
		Timezone:    "America/New_York",
		WorkingHours: model.WorkingHours{
			time.Monday: {Start: 9 * 60, End: 17 * 60},
		},
	}
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// The handler parses the date parameter as UTC midnight; the calendar
	// day it names must still resolve to the provider's local Monday, not
	// the Sunday evening that instant falls on in New York.
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	slots, err := svc.Slots(context.Background(), "prov-ny", day, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots on the provider's working Monday")
	}
	first := time.Date(2026, 3, 2, 9, 0, 0, 0, ny)
	if !slots[0].Equal(first) {
		t.Fatalf("expected first slot %s, got %s", first, slots[0])
	}
	for _, s := range slots {
		if s.In(ny).Day() != 2 {
			t.Fatalf("slot %s is not on the requested local day", s.In(ny))
		}
	}
}

func TestAgenda_ComposesViewsForActor(t *testing.T) {
	svc, _, _, _ := testService(t)
	book(t, svc)

	views, err := svc.Agenda(context.Background(), Actor{ID: "req-1", Role: model.RoleRequester})
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	v := views[0]
	if v.Provider == nil || v.Provider.DisplayName != "Ana" {
		t.Fatalf("expected live provider join, got %+v", v.Provider)
	}
	if v.Location == nil || v.Location.Name != "Downtown Clinic" {
		t.Fatalf("expected snapshot location, got %+v", v.Location)
	}
	if v.Bucket != "upcoming" {
		t.Fatalf("expected upcoming bucket, got %q", v.Bucket)
	}
}

func TestAgenda_BackfillsMissingLocationSnapshot(t *testing.T) {
	svc, store, _, _ := testService(t)

	// Records created before locations were snapshotted carry only the id.
	store.appts["appt-old"] = model.Appointment{
		ID:          "appt-old",
		RequesterID: "req-1",
		ProviderID:  "prov-1",
		LocationID:  "loc-1",
		ScheduledAt: fixedNow.Add(2 * time.Hour),
		Status:      model.StatusPending,
		Version:     1,
	}

	views, err := svc.Agenda(context.Background(), Actor{ID: "req-1", Role: model.RoleRequester})
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	loc := views[0].Location
	if loc == nil || loc.Name != "Downtown Clinic" || loc.Address != "12 Main St" {
		t.Fatalf("expected the live location to fill the empty snapshot, got %+v", loc)
	}
}

func TestAppointment_NonPartyForbidden(t *testing.T) {
	svc, _, _, _ := testService(t)
	appt := book(t, svc)

	_, err := svc.Appointment(context.Background(), Actor{ID: "req-9", Role: model.RoleRequester}, appt.ID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
