// Package grpcx serves the ops gRPC endpoint: the standard health service,
// driven by periodic dependency checks.
package grpcx

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/interceptors"
)

// ServiceName is the health service entry reported alongside the overall "".
const ServiceName = "reconciler"

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// NewServer returns the ops gRPC server with tracing and request id
// interceptors and the standard health service registered. Probe and Watch
// keep the health status current.
func NewServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(interceptors.UnaryServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// Probe runs every check and flips both health entries to SERVING or
// NOT_SERVING. It returns the first failing check's error.
func Probe(ctx context.Context, hs *health.Server, checks map[string]Check) error {
	status := healthpb.HealthCheckResponse_SERVING
	var firstErr error
	for name, check := range checks {
		if err := check(ctx); err != nil {
			slog.WarnContext(ctx, "dependency unhealthy", "dependency", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(ServiceName, status)
	return firstErr
}

// Watch probes immediately and then every interval until ctx is done.
func Watch(ctx context.Context, hs *health.Server, interval time.Duration, checks map[string]Check) {
	_ = Probe(ctx, hs, checks)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			_ = Probe(ctx, hs, checks)
		}
	}
}
