package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/documed/documed/libs/db"
	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// ReferenceRepository reads provider, requester and location records. The
// scheduling core never writes these; they belong to the profile service and
// are replicated here for joins and availability checks.
type ReferenceRepository struct {
	pool *db.Pool
}

func NewReferenceRepository(pool *db.Pool) *ReferenceRepository {
	return &ReferenceRepository{pool: pool}
}

func (r *ReferenceRepository) Provider(ctx context.Context, id string) (model.Provider, error) {
	byID, err := r.ProvidersByID(ctx, []string{id})
	if err != nil {
		return model.Provider{}, err
	}
	p, ok := byID[id]
	if !ok {
		return model.Provider{}, ErrNotFound
	}
	return p, nil
}

func (r *ReferenceRepository) ProvidersByID(ctx context.Context, ids []string) (map[string]model.Provider, error) {
	if len(ids) == 0 {
		return map[string]model.Provider{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, COALESCE(surname, ''), COALESCE(specialty, ''), COALESCE(photo_url, ''), COALESCE(timezone, '')
		FROM providers
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]model.Provider, len(ids))
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Surname, &p.Specialty, &p.PhotoURL, &p.Timezone); err != nil {
			return nil, err
		}
		p.WorkingHours = model.WorkingHours{}
		byID[p.ID] = p
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := r.attachWorkingHours(ctx, byID); err != nil {
		return nil, err
	}
	return byID, nil
}

// attachWorkingHours folds the per-weekday rows into each provider's map.
// Break columns are nullable as a pair; a row with only one half set is a
// data error and is ignored.
func (r *ReferenceRepository) attachWorkingHours(ctx context.Context, byID map[string]model.Provider) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, weekday, start_minute, end_minute, break_start, break_end
		FROM provider_working_hours
		WHERE provider_id = ANY($1)
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			providerID           string
			weekday              int
			startMin, endMin     int
			breakStart, breakEnd *int
		)
		if err := rows.Scan(&providerID, &weekday, &startMin, &endMin, &breakStart, &breakEnd); err != nil {
			return err
		}
		p, ok := byID[providerID]
		if !ok || weekday < 0 || weekday > 6 {
			continue
		}
		day := model.DayHours{Start: model.Minute(startMin), End: model.Minute(endMin)}
		if breakStart != nil && breakEnd != nil {
			day.Break = &model.Window{Start: model.Minute(*breakStart), End: model.Minute(*breakEnd)}
		}
		p.WorkingHours[time.Weekday(weekday)] = day
		byID[providerID] = p
	}
	return rows.Err()
}

// UpsertProvider replaces the local replica of one provider, working hours
// included. Called from the profile event consumer.
func (r *ReferenceRepository) UpsertProvider(ctx context.Context, p model.Provider) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO providers (id, display_name, surname, specialty, photo_url, timezone)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			surname = EXCLUDED.surname,
			specialty = EXCLUDED.specialty,
			photo_url = EXCLUDED.photo_url,
			timezone = EXCLUDED.timezone
	`, p.ID, p.DisplayName, p.Surname, p.Specialty, p.PhotoURL, p.Timezone)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM provider_working_hours WHERE provider_id = $1`, p.ID); err != nil {
		return err
	}
	for weekday, day := range p.WorkingHours {
		var breakStart, breakEnd *int
		if day.Break != nil {
			bs, be := int(day.Break.Start), int(day.Break.End)
			breakStart, breakEnd = &bs, &be
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO provider_working_hours (provider_id, weekday, start_minute, end_minute, break_start, break_end)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, int(weekday), int(day.Start), int(day.End), breakStart, breakEnd)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *ReferenceRepository) RequestersByID(ctx context.Context, ids []string) (map[string]model.Requester, error) {
	if len(ids) == 0 {
		return map[string]model.Requester{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, display_name, COALESCE(gender, ''), date_of_birth, COALESCE(photo_url, '')
		FROM requesters
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]model.Requester, len(ids))
	for rows.Next() {
		var q model.Requester
		var dob *time.Time
		if err := rows.Scan(&q.ID, &q.DisplayName, &q.Gender, &dob, &q.PhotoURL); err != nil {
			return nil, err
		}
		if dob != nil {
			q.DateOfBirth = *dob
		}
		byID[q.ID] = q
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return byID, nil
}

func (r *ReferenceRepository) Requester(ctx context.Context, id string) (model.Requester, error) {
	byID, err := r.RequestersByID(ctx, []string{id})
	if err != nil {
		return model.Requester{}, err
	}
	q, ok := byID[id]
	if !ok {
		return model.Requester{}, ErrNotFound
	}
	return q, nil
}

func (r *ReferenceRepository) Location(ctx context.Context, id string) (model.Location, error) {
	var loc model.Location
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(address, '')
		FROM locations
		WHERE id = $1
	`, id).Scan(&loc.ID, &loc.Name, &loc.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Location{}, ErrNotFound
	}
	if err != nil {
		return model.Location{}, err
	}
	return loc, nil
}

func (r *ReferenceRepository) LocationsByID(ctx context.Context, ids []string) (map[string]model.Location, error) {
	if len(ids) == 0 {
		return map[string]model.Location{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, COALESCE(address, '')
		FROM locations
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]model.Location, len(ids))
	for rows.Next() {
		var loc model.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Address); err != nil {
			return nil, err
		}
		byID[loc.ID] = loc
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return byID, nil
}
