package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/documed/documed/services/scheduling-service/internal/feed"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/scheduling"
)

const feedHeartbeat = 15 * time.Second

type FeedHandler struct {
	feed   *feed.Feed
	svc    *scheduling.Service
	logger *slog.Logger
}

func NewFeedHandler(f *feed.Feed, svc *scheduling.Service, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feed: f, svc: svc, logger: logger}
}

// Stream serves the actor's agenda as server-sent events. Every emission is
// the full composed set for the actor, re-queried on each change signal, so a
// client never has to reconcile diffs. Heartbeat comments keep intermediaries
// from timing the connection out; an "interrupted" event tells the client to
// re-fetch before reconnecting.
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var filter feed.Filter
	switch actor.Role {
	case model.RoleProvider:
		filter.ProviderID = actor.ID
	case model.RoleRequester:
		filter.RequesterID = actor.ID
	}

	sub, err := h.feed.Subscribe(r.Context(), filter)
	if err != nil {
		http.Error(w, "subscription failed", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(feedHeartbeat)
	defer heartbeat.Stop()

	h.emitAgenda(w, flusher, r, actor)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case _, open := <-sub.C:
			if !open {
				if errors.Is(sub.Err(), feed.ErrInterrupted) {
					fmt.Fprint(w, "event: interrupted\ndata: {}\n\n")
					flusher.Flush()
				}
				return
			}
			h.emitAgenda(w, flusher, r, actor)
		}
	}
}

func (h *FeedHandler) emitAgenda(w http.ResponseWriter, flusher http.Flusher, r *http.Request, actor scheduling.Actor) {
	views, err := h.svc.Agenda(r.Context(), actor)
	if err != nil {
		h.logger.Error("feed agenda query failed", "err", err)
		return
	}
	payload, err := json.Marshal(views)
	if err != nil {
		h.logger.Error("feed agenda marshal failed", "err", err)
		return
	}
	fmt.Fprintf(w, "event: agenda\ndata: %s\n\n", payload)
	flusher.Flush()
}
