//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/documed/documed/services/scheduling-service/internal/storage"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ *storage.AppointmentRepository, _ *storage.ReferenceRepository) error {
	return nil
}
