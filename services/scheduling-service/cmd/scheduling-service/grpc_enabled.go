//go:build protogen

package main

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/documed/documed/libs/config"
	"github.com/documed/documed/libs/grpcx"
	"github.com/documed/documed/services/scheduling-service/internal/grpcserver"
	"github.com/documed/documed/services/scheduling-service/internal/storage"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, appts *storage.AppointmentRepository, refs *storage.ReferenceRepository) error {
	port, err := config.Port("GRPC_PORT", "9091")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	grpcserver.Register(srv, appts, refs)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
