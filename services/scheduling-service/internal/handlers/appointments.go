package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/lifecycle"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/scheduling"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
	"github.com/documed/documed/services/scheduling-service/internal/view"
)

type AppointmentHandler struct {
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *scheduling.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type requestBookingBody struct {
	ProviderID      string `json:"provider_id"`
	LocationID      string `json:"location_id"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int    `json:"duration_minutes"`
	VisitKind       string `json:"visit_kind"`
	Notes           string `json:"notes"`
}

type appointmentResponse struct {
	AppointmentID string       `json:"appointment_id"`
	Status        model.Status `json:"status"`
	ScheduledAt   string       `json:"scheduled_at"`
}

// Request books a new PENDING appointment for the authenticated requester.
func (h *AppointmentHandler) Request(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if actor.Role != model.RoleRequester {
		http.Error(w, "only requesters may book", http.StatusForbidden)
		return
	}

	var body requestBookingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, body.ScheduledAt)
	if err != nil {
		http.Error(w, "invalid scheduled_at", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.RequestBooking(r.Context(), scheduling.BookingRequest{
		RequesterID:     actor.ID,
		ProviderID:      strings.TrimSpace(body.ProviderID),
		LocationID:      strings.TrimSpace(body.LocationID),
		ScheduledAt:     scheduledAt,
		DurationMinutes: body.DurationMinutes,
		VisitKind:       model.VisitKind(strings.TrimSpace(body.VisitKind)),
		Notes:           strings.TrimSpace(body.Notes),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, appointmentResponse{
		AppointmentID: appt.ID,
		Status:        appt.Status,
		ScheduledAt:   appt.ScheduledAt.Format(time.RFC3339),
	})
}

type transitionBody struct {
	AppointmentID string `json:"appointment_id"`
	Action        string `json:"action"`
	Reason        string `json:"reason"`
}

// Transition applies a lifecycle action (accept, reject, delay, revert,
// cancel, complete) on behalf of the authenticated actor.
func (h *AppointmentHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	body.AppointmentID = strings.TrimSpace(body.AppointmentID)
	if body.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	action, ok := lifecycle.ParseAction(strings.TrimSpace(body.Action))
	if !ok {
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	appt, err := h.svc.Transition(r.Context(), scheduling.TransitionRequest{
		AppointmentID: body.AppointmentID,
		Action:        action,
		Actor:         actor,
		Reason:        body.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentResponse{
		AppointmentID: appt.ID,
		Status:        appt.Status,
		ScheduledAt:   appt.ScheduledAt.Format(time.RFC3339),
	})
}

type agendaResponse struct {
	Upcoming []view.AppointmentView `json:"upcoming"`
	Past     []view.AppointmentView `json:"past"`
}

// Agenda lists the actor's appointments, composed and bucketed.
func (h *AppointmentHandler) Agenda(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	views, err := h.svc.Agenda(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := agendaResponse{Upcoming: []view.AppointmentView{}, Past: []view.AppointmentView{}}
	for _, v := range views {
		if v.Bucket == view.BucketPast {
			resp.Past = append(resp.Past, v)
		} else {
			resp.Upcoming = append(resp.Upcoming, v)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Detail returns one composed appointment the actor is a party to.
func (h *AppointmentHandler) Detail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	v, err := h.svc.Appointment(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type slotsResponse struct {
	ProviderID string   `json:"provider_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

// Slots enumerates a provider's free start times for one day.
func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	var duration time.Duration
	if v := r.URL.Query().Get("duration_minutes"); v != "" {
		mins, err := time.ParseDuration(v + "m")
		if err != nil || mins <= 0 {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return
		}
		duration = mins
	}

	slots, err := h.svc.Slots(r.Context(), providerID, day, duration)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := slotsResponse{ProviderID: providerID, Date: dateStr, Slots: []string{}}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, s.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidRequest), errors.Is(err, scheduling.ErrReasonRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scheduling.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, scheduling.ErrUnavailableSlot):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, lifecycle.ErrIllegalTransition), errors.Is(err, storage.ErrConcurrentModification):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
