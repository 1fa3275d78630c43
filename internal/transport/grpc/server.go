// Package grpc serves the standard gRPC health protocol so orchestrators can
// probe the service without going through the public HTTP API.
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the check-in API.
const ServiceName = "lumo.checkin"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	srv    *grpc.Server
	health *health.Server
	addr   string
	pinger Pinger
	every  time.Duration
}

// NewServer creates a health server. When pinger is non-nil the serving
// status follows its result, probed every interval.
func NewServer(addr string, pinger Pinger, interval time.Duration) *Server {
	s := &Server{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		addr:   addr,
		pinger: pinger,
		every:  interval,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	return s
}

// Serve runs on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.setServing(true)
	if s.pinger != nil && s.every > 0 {
		go s.probe(ctx)
	}
	return s.srv.Serve(lis)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	slog.Info("grpc health server listening", "addr", s.addr)
	return s.Serve(ctx, lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) probe(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, s.every)
			err := s.pinger.Ping(pctx)
			cancel()
			if err != nil {
				slog.Warn("grpc health: dependency unreachable", "error", err)
			}
			s.setServing(err == nil)
		}
	}
}

func (s *Server) setServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
