package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "cotai.security.v1"

// Readiness reports failed dependencies; an empty map means ready. *healthhandler.Server implements it.
type Readiness interface {
	Status(ctx context.Context) map[string]string
}

// NewGRPCServer returns a gRPC server exposing grpc.health.v1 and reflection, traced with otelgrpc.
func NewGRPCServer(hs *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, hs)
	reflection.Register(s)
	return s
}

// RegisterServices registers the health service with s.
func RegisterServices(s grpc.ServiceRegistrar, hs *health.Server) {
	healthpb.RegisterHealthServer(s, hs)
}

// WatchHealth polls ready every interval and mirrors the result into hs for both the overall
// ("") and the named service. It returns when ctx is done, after marking both NOT_SERVING.
func WatchHealth(ctx context.Context, hs *health.Server, ready Readiness, interval time.Duration, log zerolog.Logger) {
	set := func(st healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", st)
		hs.SetServingStatus(ServiceName, st)
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if failed := ready.Status(ctx); len(failed) > 0 {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			if st != last {
				log.Warn().Interface("failed", failed).Msg("health: dependencies unavailable")
			}
		}
		last = st
		set(st)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		case <-ticker.C:
			check()
		}
	}
}
