package profile

import (
	"context"
	"log/slog"

	"github.com/documed/documed/services/scheduling-service/internal/model"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
)

// Resolver serves provider lookups from the profile service when one is
// wired, falling back to the local replica. All other reference reads pass
// straight through to the embedded repository.
type Resolver struct {
	*storage.ReferenceRepository
	src    Source
	logger *slog.Logger
}

func NewResolver(repo *storage.ReferenceRepository, src Source, logger *slog.Logger) *Resolver {
	return &Resolver{ReferenceRepository: repo, src: src, logger: logger}
}

func (r *Resolver) Provider(ctx context.Context, id string) (model.Provider, error) {
	if r.src != nil {
		rec, ok, err := r.src.Provider(ctx, id)
		if err != nil {
			r.logger.Warn("profile lookup failed, using local replica", "provider_id", id, "err", err)
		} else if ok {
			return model.Provider{
				ID:           rec.ID,
				DisplayName:  rec.DisplayName,
				Surname:      rec.Surname,
				Specialty:    rec.Specialty,
				PhotoURL:     rec.PhotoURL,
				Timezone:     rec.Timezone,
				WorkingHours: rec.WorkingHours,
			}, nil
		}
	}
	return r.ReferenceRepository.Provider(ctx, id)
}
