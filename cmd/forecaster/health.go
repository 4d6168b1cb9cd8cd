package main

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService serves the standard gRPC health protocol. Both the overall
// status ("") and the forecaster service report NOT_SERVING until the first
// snapshot is stored.
type healthService struct {
	server *grpc.Server
	health *health.Server
}

// ServiceName is the service name reported by the gRPC health endpoint.
const ServiceName = "moodcast.Forecaster"

func newHealthService() *healthService {
	s := &healthService{
		server: grpc.NewServer(),
		health: health.NewServer(),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.SetServing(false)
	return s
}

func (s *healthService) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *healthService) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *healthService) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
