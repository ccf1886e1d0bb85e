package api

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCHealth answers grpc.health.v1 checks from the database ping, for
// orchestrators that probe over gRPC.
type GRPCHealth struct {
	healthpb.UnimplementedHealthServer

	db      Pinger
	timeout time.Duration
}

// NewGRPCHealth creates a gRPC health server backed by db.
func NewGRPCHealth(db Pinger) *GRPCHealth {
	return &GRPCHealth{db: db, timeout: 3 * time.Second}
}

// Check reports SERVING while the database answers.
func (g *GRPCHealth) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.db.Ping(ctx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// Watch is not supported.
func (g *GRPCHealth) Watch(_ *healthpb.HealthCheckRequest, _ healthpb.Health_WatchServer) error {
	return status.Errorf(codes.Unimplemented, "health check via Watch not implemented")
}
