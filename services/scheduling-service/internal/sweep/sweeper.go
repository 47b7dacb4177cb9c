package sweep

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/documed/documed/services/scheduling-service/internal/feed"
	"github.com/documed/documed/services/scheduling-service/internal/lifecycle"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/outbox"
)

// sweepActor is the audit identity for automatic promotions.
const sweepActor = "system:sweep"

type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	FetchDueOngoing(ctx context.Context, tx pgx.Tx, now time.Time, lead, lag time.Duration, limit int) ([]model.Appointment, error)
	MarkOngoing(ctx context.Context, tx pgx.Tx, ids []string, audit model.Audit) error
	Outbox() *outbox.Repository
}

type Notifier interface {
	Notify(ctx context.Context, evt feed.ChangeEvent)
}

// Sweeper promotes APPROVED appointments to ONGOING once their start window
// opens, so the promotion happens even when no actor touches the record. The
// batch runs under FOR UPDATE SKIP LOCKED and the status guard on the update
// makes a tick idempotent: re-running over the same rows changes nothing.
type Sweeper struct {
	store     Store
	notifier  Notifier
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func New(store Store, notifier Notifier, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		store:     store,
		notifier:  notifier,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			promoted, err := s.sweepOnce(ctx)
			if err != nil {
				s.logger.Error("sweep tick failed", "err", err)
				continue
			}
			if promoted > 0 {
				s.logger.Info("promoted appointments to ongoing", "count", promoted)
			}
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	now := s.now()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	due, err := s.store.FetchDueOngoing(ctx, tx, now, lifecycle.OngoingLead, lifecycle.OngoingLag, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, tx.Commit(ctx)
	}

	ids := make([]string, 0, len(due))
	for _, appt := range due {
		ids = append(ids, appt.ID)
		evt, err := ongoingEvent(appt, now)
		if err != nil {
			return 0, err
		}
		if err := s.store.Outbox().Insert(ctx, tx, evt); err != nil {
			return 0, err
		}
	}

	if err := s.store.MarkOngoing(ctx, tx, ids, model.Audit{At: now, By: sweepActor}); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if s.notifier != nil {
		for _, appt := range due {
			s.notifier.Notify(ctx, feed.ChangeEvent{
				AppointmentID: appt.ID,
				ProviderID:    appt.ProviderID,
				RequesterID:   appt.RequesterID,
				Status:        model.StatusOngoing,
				At:            now,
			})
		}
	}
	return len(due), nil
}

func ongoingEvent(appt model.Appointment, now time.Time) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"requester_id":   appt.RequesterID,
		"provider_id":    appt.ProviderID,
		"scheduled_at":   appt.ScheduledAt,
		"status":         model.StatusOngoing,
		"action":         "sweep",
		"actor":          sweepActor,
		"at":             now,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentOngoing,
		Payload:       payload,
	}, nil
}
