package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/documed/documed/services/scheduling-service/internal/availability"
	"github.com/documed/documed/services/scheduling-service/internal/feed"
	"github.com/documed/documed/services/scheduling-service/internal/lifecycle"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/outbox"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
	"github.com/documed/documed/services/scheduling-service/internal/view"
)

// AppointmentStore is the persistence surface the service needs. The
// storage package provides the Postgres implementation; tests provide an
// in-memory one.
type AppointmentStore interface {
	Create(ctx context.Context, appt model.Appointment, evt outbox.Event) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	ApplyTransition(ctx context.Context, appt model.Appointment, evt outbox.Event) (model.Appointment, error)
	ListByProvider(ctx context.Context, providerID string) ([]model.Appointment, error)
	ListByRequester(ctx context.Context, requesterID string) ([]model.Appointment, error)
	ListBusy(ctx context.Context, providerID string, from, to time.Time) ([]model.Appointment, error)
}

type ReferenceStore interface {
	Provider(ctx context.Context, id string) (model.Provider, error)
	Requester(ctx context.Context, id string) (model.Requester, error)
	Location(ctx context.Context, id string) (model.Location, error)
	ProvidersByID(ctx context.Context, ids []string) (map[string]model.Provider, error)
	RequestersByID(ctx context.Context, ids []string) (map[string]model.Requester, error)
	LocationsByID(ctx context.Context, ids []string) (map[string]model.Location, error)
}

type ChangeNotifier interface {
	Notify(ctx context.Context, evt feed.ChangeEvent)
}

type Service struct {
	store    AppointmentStore
	refs     ReferenceStore
	notifier ChangeNotifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store AppointmentStore, refs ReferenceStore, notifier ChangeNotifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		refs:     refs,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Actor is the authenticated party performing an operation.
type Actor struct {
	ID   string
	Role model.Role
}

type BookingRequest struct {
	RequesterID     string
	ProviderID      string
	LocationID      string
	ScheduledAt     time.Time
	DurationMinutes int
	VisitKind       model.VisitKind
	Notes           string
}

// RequestBooking validates the slot against the provider's availability and
// creates the appointment in PENDING. The location is resolved once here and
// snapshotted onto the record.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (model.Appointment, error) {
	if req.RequesterID == "" || req.ProviderID == "" || req.LocationID == "" {
		return model.Appointment{}, fmt.Errorf("%w: requester, provider and location are required", ErrInvalidRequest)
	}
	if req.ScheduledAt.IsZero() {
		return model.Appointment{}, fmt.Errorf("%w: scheduledAt is required", ErrInvalidRequest)
	}
	if !req.VisitKind.Valid() {
		return model.Appointment{}, fmt.Errorf("%w: unknown visit kind %q", ErrInvalidRequest, req.VisitKind)
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = model.DefaultDurationMinutes
	}
	if req.DurationMinutes < 0 {
		return model.Appointment{}, fmt.Errorf("%w: negative duration", ErrInvalidRequest)
	}

	now := s.now()
	if !req.ScheduledAt.After(now) {
		return model.Appointment{}, fmt.Errorf("%w: scheduled time is not in the future", ErrUnavailableSlot)
	}

	provider, err := s.refs.Provider(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("resolve provider: %w", err)
	}
	if _, err := s.refs.Requester(ctx, req.RequesterID); err != nil {
		return model.Appointment{}, fmt.Errorf("resolve requester: %w", err)
	}
	tz, err := time.LoadLocation(provider.Timezone)
	if err != nil || provider.Timezone == "" {
		return model.Appointment{}, fmt.Errorf("%w: provider has no usable timezone", ErrUnavailableSlot)
	}
	if !availability.WithinHorizon(now, req.ScheduledAt, tz) {
		return model.Appointment{}, fmt.Errorf("%w: beyond the %d-day booking horizon", ErrUnavailableSlot, availability.BookingHorizonDays)
	}
	if !availability.IsBookable(provider, req.ScheduledAt) {
		return model.Appointment{}, fmt.Errorf("%w: outside the provider's working hours", ErrUnavailableSlot)
	}

	loc, err := s.refs.Location(ctx, req.LocationID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("resolve location: %w", err)
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		RequesterID:     req.RequesterID,
		ProviderID:      req.ProviderID,
		LocationID:      loc.ID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		VisitKind:       req.VisitKind,
		Status:          model.StatusPending,
		Notes:           req.Notes,
		LocationName:    loc.Name,
		LocationAddress: loc.Address,
		Version:         1,
		CreatedAt:       now,
	}

	evt, err := lifecycleEvent(outbox.EventAppointmentRequested, appt, "request", Actor{ID: req.RequesterID, Role: model.RoleRequester}, now)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.store.Create(ctx, appt, evt); err != nil {
		return model.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}

	s.notify(ctx, appt, now)
	return appt, nil
}

type TransitionRequest struct {
	AppointmentID string
	Action        lifecycle.Action
	Actor         Actor
	Reason        string
}

// Transition applies one lifecycle action on behalf of an actor. A lost
// optimistic-concurrency race is retried exactly once against the fresh
// state; if the action is still legal there it wins, otherwise the caller
// gets the conflict.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (model.Appointment, error) {
	if req.Action == lifecycle.ActionCancel && strings.TrimSpace(req.Reason) == "" {
		return model.Appointment{}, ErrReasonRequired
	}
	if !lifecycle.Allowed(req.Action, req.Actor.Role) {
		return model.Appointment{}, fmt.Errorf("%w: %s may not %s", ErrForbidden, req.Actor.Role, req.Action)
	}

	appt, err := s.store.Get(ctx, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	updated, err := s.applyOnce(ctx, appt, req)
	if errors.Is(err, storage.ErrConcurrentModification) {
		s.logger.Info("transition lost a version race, retrying once", "appointment_id", req.AppointmentID, "action", string(req.Action))
		appt, err = s.store.Get(ctx, req.AppointmentID)
		if err != nil {
			return model.Appointment{}, err
		}
		updated, err = s.applyOnce(ctx, appt, req)
	}
	if err != nil {
		return model.Appointment{}, err
	}

	s.notify(ctx, updated, *updated.LastModifiedAt)
	return updated, nil
}

func (s *Service) applyOnce(ctx context.Context, appt model.Appointment, req TransitionRequest) (model.Appointment, error) {
	if !s.isParty(appt, req.Actor) {
		return model.Appointment{}, fmt.Errorf("%w: not a party to this appointment", ErrForbidden)
	}

	now := s.now()
	next, err := lifecycle.Decide(appt.Status, req.Action, now, appt.ScheduledAt)
	if err != nil {
		return model.Appointment{}, err
	}

	appt.Status = next
	appt.LastModifiedAt = &now
	appt.LastModifiedBy = auditActor(req.Actor)
	switch req.Action {
	case lifecycle.ActionCancel:
		appt.CancelReason = strings.TrimSpace(req.Reason)
		appt.CancelledBy = req.Actor.ID
	case lifecycle.ActionRevert:
		// Back to PENDING wipes the prior decision's cancellation traces.
		appt.CancelReason = ""
		appt.CancelledBy = ""
	}

	evt, err := lifecycleEvent(eventTypeFor(req.Action, next), appt, string(req.Action), req.Actor, now)
	if err != nil {
		return model.Appointment{}, err
	}
	return s.store.ApplyTransition(ctx, appt, evt)
}

func (s *Service) isParty(appt model.Appointment, actor Actor) bool {
	switch actor.Role {
	case model.RoleProvider:
		return actor.ID == appt.ProviderID
	case model.RoleRequester:
		return actor.ID == appt.RequesterID
	}
	return false
}

// Slots enumerates the provider's free start times for one calendar day,
// interpreted in the provider's timezone.
func (s *Service) Slots(ctx context.Context, providerID string, day time.Time, duration time.Duration) ([]time.Time, error) {
	provider, err := s.refs.Provider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}
	tz, err := time.LoadLocation(provider.Timezone)
	if err != nil || provider.Timezone == "" {
		return nil, fmt.Errorf("%w: provider has no usable timezone", ErrUnavailableSlot)
	}
	if duration <= 0 {
		duration = model.DefaultDurationMinutes * time.Minute
	}

	// The caller supplies a calendar date; its wall-clock fields name the
	// provider-local day. Converting the instant first would shift the date
	// for providers behind UTC.
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, tz)
	to := from.AddDate(0, 0, 1)

	appts, err := s.store.ListBusy(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	busy := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, availability.Interval{
			Start: a.ScheduledAt,
			End:   a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute),
		})
	}

	return availability.DaySlots(provider, from, duration, duration, busy, s.now()), nil
}

// Agenda returns the actor's composed appointment views, party data joined
// live and locations from their snapshots.
func (s *Service) Agenda(ctx context.Context, actor Actor) ([]view.AppointmentView, error) {
	var (
		appts []model.Appointment
		err   error
	)
	switch actor.Role {
	case model.RoleProvider:
		appts, err = s.store.ListByProvider(ctx, actor.ID)
	case model.RoleRequester:
		appts, err = s.store.ListByRequester(ctx, actor.ID)
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, actor.Role)
	}
	if err != nil {
		return nil, err
	}

	providerIDs := make([]string, 0, len(appts))
	requesterIDs := make([]string, 0, len(appts))
	for _, a := range appts {
		providerIDs = append(providerIDs, a.ProviderID)
		requesterIDs = append(requesterIDs, a.RequesterID)
	}
	providers, err := s.refs.ProvidersByID(ctx, dedupe(providerIDs))
	if err != nil {
		return nil, err
	}
	requesters, err := s.refs.RequestersByID(ctx, dedupe(requesterIDs))
	if err != nil {
		return nil, err
	}
	if err := s.backfillLocations(ctx, appts); err != nil {
		return nil, err
	}

	return view.ComposeAll(appts, providers, requesters, s.now()), nil
}

// backfillLocations fills empty location snapshots from the live records.
// Older appointments predate snapshotting; their views would otherwise
// render a blank location.
func (s *Service) backfillLocations(ctx context.Context, appts []model.Appointment) error {
	var missing []string
	for _, a := range appts {
		if a.LocationName == "" && a.LocationID != "" {
			missing = append(missing, a.LocationID)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	locations, err := s.refs.LocationsByID(ctx, dedupe(missing))
	if err != nil {
		return err
	}
	for i, a := range appts {
		if a.LocationName != "" {
			continue
		}
		if loc, ok := locations[a.LocationID]; ok {
			appts[i].LocationName = loc.Name
			appts[i].LocationAddress = loc.Address
		}
	}
	return nil
}

func (s *Service) Appointment(ctx context.Context, actor Actor, id string) (view.AppointmentView, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return view.AppointmentView{}, err
	}
	if !s.isParty(appt, actor) {
		return view.AppointmentView{}, fmt.Errorf("%w: not a party to this appointment", ErrForbidden)
	}
	providers, err := s.refs.ProvidersByID(ctx, []string{appt.ProviderID})
	if err != nil {
		return view.AppointmentView{}, err
	}
	requesters, err := s.refs.RequestersByID(ctx, []string{appt.RequesterID})
	if err != nil {
		return view.AppointmentView{}, err
	}
	return view.Compose(appt, providers, requesters, s.now()), nil
}

func (s *Service) notify(ctx context.Context, appt model.Appointment, at time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, feed.ChangeEvent{
		AppointmentID: appt.ID,
		ProviderID:    appt.ProviderID,
		RequesterID:   appt.RequesterID,
		Status:        appt.Status,
		At:            at,
	})
}

func auditActor(a Actor) string {
	return string(a.Role) + ":" + a.ID
}

func eventTypeFor(action lifecycle.Action, next model.Status) string {
	switch action {
	case lifecycle.ActionCancel:
		return outbox.EventAppointmentCancelled
	case lifecycle.ActionRevert:
		return outbox.EventAppointmentReverted
	case lifecycle.ActionComplete:
		return outbox.EventAppointmentCompleted
	case lifecycle.ActionAccept:
		if next == model.StatusOngoing {
			return outbox.EventAppointmentOngoing
		}
	}
	return outbox.EventAppointmentDecided
}

type eventPayload struct {
	AppointmentID string       `json:"appointment_id"`
	RequesterID   string       `json:"requester_id"`
	ProviderID    string       `json:"provider_id"`
	ScheduledAt   time.Time    `json:"scheduled_at"`
	Status        model.Status `json:"status"`
	Action        string       `json:"action"`
	Actor         string       `json:"actor"`
	CancelReason  string       `json:"cancel_reason,omitempty"`
	At            time.Time    `json:"at"`
}

func lifecycleEvent(eventType string, appt model.Appointment, action string, actor Actor, at time.Time) (outbox.Event, error) {
	payload, err := json.Marshal(eventPayload{
		AppointmentID: appt.ID,
		RequesterID:   appt.RequesterID,
		ProviderID:    appt.ProviderID,
		ScheduledAt:   appt.ScheduledAt,
		Status:        appt.Status,
		Action:        action,
		Actor:         auditActor(actor),
		CancelReason:  appt.CancelReason,
		At:            at,
	})
	if err != nil {
		return outbox.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
