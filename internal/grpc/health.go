package grpc

import (
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"dm-service/internal/observability"
)

// HealthServer exposes the standard gRPC health service for orchestrators.
type HealthServer struct {
	service string
	server  *ggrpc.Server
	health  *health.Server
	log     *zap.Logger
}

// NewHealthServer builds a server reporting status for service and for the
// empty service name.
func NewHealthServer(service string, log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	server := ggrpc.NewServer(
		ggrpc.StatsHandler(otelgrpc.NewServerHandler()),
		ggrpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	s := &HealthServer{service: service, server: server, health: hs, log: log}
	s.SetServing(true)
	return s
}

// SetServing flips the reported status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

// Serve blocks serving on lis.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.log.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
	return s.server.Serve(lis)
}

// Stop reports NOT_SERVING and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
