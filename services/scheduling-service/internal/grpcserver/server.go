//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	schedulingv1 "github.com/documed/documed/protos/gen/scheduling/v1"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
)

// server exposes provider schedules to sibling services (reminders,
// analytics) without them touching the appointments table.
type server struct {
	schedulingv1.UnimplementedScheduleServiceServer
	appts *storage.AppointmentRepository
	refs  *storage.ReferenceRepository
}

func Register(grpcServer *grpc.Server, appts *storage.AppointmentRepository, refs *storage.ReferenceRepository) {
	schedulingv1.RegisterScheduleServiceServer(grpcServer, &server{appts: appts, refs: refs})
}

func (s *server) GetProviderDay(ctx context.Context, req *schedulingv1.ProviderDayRequest) (*schedulingv1.ProviderDayResponse, error) {
	if req.GetProviderId() == "" || req.GetDate() == "" {
		return nil, status.Error(codes.InvalidArgument, "provider_id and date are required")
	}

	provider, err := s.refs.Provider(ctx, req.GetProviderId())
	if err != nil {
		return nil, status.Error(codes.NotFound, "unknown provider")
	}
	loc, err := time.LoadLocation(provider.Timezone)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, "provider has no usable timezone")
	}

	dayLocal, err := time.ParseInLocation("2006-01-02", req.GetDate(), loc)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}
	from := dayLocal
	to := dayLocal.AddDate(0, 0, 1)

	appts, err := s.appts.ListBusy(ctx, req.GetProviderId(), from, to)
	if err != nil {
		return nil, status.Error(codes.Internal, "schedule lookup failed")
	}

	resp := &schedulingv1.ProviderDayResponse{
		ProviderId: req.GetProviderId(),
		Date:       req.GetDate(),
		Timezone:   provider.Timezone,
	}
	for _, a := range appts {
		resp.Appointments = append(resp.Appointments, &schedulingv1.ScheduledAppointment{
			AppointmentId: a.ID,
			RequesterId:   a.RequesterID,
			Status:        string(a.Status),
			StartsAt:      timestamppb.New(a.ScheduledAt),
			EndsAt:        timestamppb.New(a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)),
		})
	}
	return resp, nil
}
