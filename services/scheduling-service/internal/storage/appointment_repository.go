package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/documed/documed/libs/db"
	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("appointment not found")

	// ErrConcurrentModification means the row's version moved between read
	// and write. Callers re-read and decide whether the transition still
	// applies.
	ErrConcurrentModification = errors.New("appointment modified concurrently")
)

const appointmentColumns = `
	id, requester_id, provider_id, location_id, scheduled_at, duration_minutes,
	visit_kind, status, COALESCE(notes, ''), COALESCE(cancel_reason, ''), COALESCE(cancelled_by, ''),
	location_name, location_address, last_modified_at, COALESCE(last_modified_by, ''), version, created_at`

type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	logger *slog.Logger
}

func NewAppointmentRepository(pool *db.Pool, ob *outbox.Repository, logger *slog.Logger) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: ob, logger: logger}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts the appointment and its requested event in one transaction.
// The location name and address on appt are the booking-time snapshot; they
// are written here and never updated afterwards.
func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, requester_id, provider_id, location_id, scheduled_at, duration_minutes,
			 visit_kind, status, notes, location_name, location_address, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
	`, appt.ID, appt.RequesterID, appt.ProviderID, appt.LocationID, appt.ScheduledAt, appt.DurationMinutes,
		appt.VisitKind, appt.Status, appt.Notes, appt.LocationName, appt.LocationAddress)
	if err != nil {
		return err
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

// ApplyTransition writes the new status conditionally on the version the
// caller read, bumps the version, and records the lifecycle event in the
// same transaction. appt.Version must be the version the decision was made
// against; the returned appointment carries the incremented one.
func (r *AppointmentRepository) ApplyTransition(ctx context.Context, appt model.Appointment, evt outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			cancel_reason = $4,
			cancelled_by = $5,
			last_modified_at = $6,
			last_modified_by = $7,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, appt.ID, appt.Version, appt.Status, appt.CancelReason, appt.CancelledBy,
		appt.LastModifiedAt, appt.LastModifiedBy)
	if err != nil {
		return model.Appointment{}, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, appt.ID).Scan(&exists); err != nil {
			return model.Appointment{}, err
		}
		if !exists {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, ErrConcurrentModification
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	appt.Version++
	return appt, nil
}

func (r *AppointmentRepository) ListByProvider(ctx context.Context, providerID string) ([]model.Appointment, error) {
	return r.list(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE provider_id = $1 ORDER BY scheduled_at DESC`, providerID)
}

func (r *AppointmentRepository) ListByRequester(ctx context.Context, requesterID string) ([]model.Appointment, error) {
	return r.list(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE requester_id = $1 ORDER BY scheduled_at DESC`, requesterID)
}

// ListBusy returns the non-terminal appointments for a provider on the
// half-open interval [from, to). Rejected and cancelled bookings do not block
// slots, completed ones are in the past by definition.
func (r *AppointmentRepository) ListBusy(ctx context.Context, providerID string, from, to time.Time) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND scheduled_at >= $2 AND scheduled_at < $3
		  AND status NOT IN ('REJECTED', 'CANCELLED', 'COMPLETED')
		ORDER BY scheduled_at
	`, providerID, from, to)
}

// list scans leniently: a row that fails to scan is logged and skipped so one
// bad record cannot take an actor's whole agenda down.
func (r *AppointmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			r.logger.Warn("skipping unreadable appointment row", "err", err)
			continue
		}
		if !appt.Status.Known() {
			r.logger.Warn("skipping appointment with unknown status", "appointment_id", appt.ID, "status", string(appt.Status))
			continue
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// FetchDueOngoing locks APPROVED appointments whose start window has opened,
// for the sweep loop. The bounds mirror the accept-time window: an
// appointment is due when now falls within [scheduled_at - lead,
// scheduled_at + lag], i.e. scheduled_at within [now - lag, now + lead].
func (r *AppointmentRepository) FetchDueOngoing(ctx context.Context, tx pgx.Tx, now time.Time, lead, lag time.Duration, limit int) ([]model.Appointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE status = 'APPROVED'
		  AND scheduled_at >= $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now.Add(-lag), now.Add(lead), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// MarkOngoing promotes a locked batch to ONGOING. The status guard makes the
// update idempotent even if a concurrent manual accept got there first.
func (r *AppointmentRepository) MarkOngoing(ctx context.Context, tx pgx.Tx, ids []string, audit model.Audit) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'ONGOING',
			last_modified_at = $2,
			last_modified_by = $3,
			version = version + 1
		WHERE id = ANY($1) AND status = 'APPROVED'
	`, ids, audit.At, audit.By)
	return err
}

// Outbox exposes the event writer for callers that batch inside their own
// transaction, like the sweep loop.
func (r *AppointmentRepository) Outbox() *outbox.Repository {
	return r.outbox
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.RequesterID,
		&appt.ProviderID,
		&appt.LocationID,
		&appt.ScheduledAt,
		&appt.DurationMinutes,
		&appt.VisitKind,
		&appt.Status,
		&appt.Notes,
		&appt.CancelReason,
		&appt.CancelledBy,
		&appt.LocationName,
		&appt.LocationAddress,
		&appt.LastModifiedAt,
		&appt.LastModifiedBy,
		&appt.Version,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}
