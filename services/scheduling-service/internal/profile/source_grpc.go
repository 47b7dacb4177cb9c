//go:build protogen

package profile

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/documed/documed/libs/grpcx"
	profilev1 "github.com/documed/documed/protos/gen/profile/v1"
	"github.com/documed/documed/services/scheduling-service/internal/model"
)

// Record is a provider profile as served by the profile service, fresher
// than the local replica.
type Record struct {
	ID           string
	DisplayName  string
	Surname      string
	Specialty    string
	PhotoURL     string
	Timezone     string
	WorkingHours model.WorkingHours
	UpdatedAt    time.Time
}

type Source interface {
	Provider(ctx context.Context, id string) (Record, bool, error)
}

type grpcSource struct {
	client profilev1.ProfileServiceClient
}

func NewSource(addr string) (Source, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcSource{client: profilev1.NewProfileServiceClient(conn)}, nil
}

func (s *grpcSource) Provider(ctx context.Context, id string) (Record, bool, error) {
	resp, err := s.client.GetProvider(ctx, &profilev1.GetProviderRequest{ProviderId: id})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}

	rec := Record{
		ID:          resp.GetProviderId(),
		DisplayName: resp.GetDisplayName(),
		Surname:     resp.GetSurname(),
		Specialty:   resp.GetSpecialty(),
		PhotoURL:    resp.GetPhotoUrl(),
		Timezone:    resp.GetTimezone(),
	}
	if resp.GetUpdatedAt() != nil {
		rec.UpdatedAt = resp.GetUpdatedAt().AsTime()
	}
	if hours := resp.GetWorkingHours(); len(hours) > 0 {
		rec.WorkingHours = model.WorkingHours{}
		for _, h := range hours {
			day := model.DayHours{
				Start: model.Minute(h.GetStartMinute()),
				End:   model.Minute(h.GetEndMinute()),
			}
			if h.GetBreakStart() != h.GetBreakEnd() {
				day.Break = &model.Window{
					Start: model.Minute(h.GetBreakStart()),
					End:   model.Minute(h.GetBreakEnd()),
				}
			}
			rec.WorkingHours[time.Weekday(h.GetWeekday())] = day
		}
	}
	return rec, true, nil
}
