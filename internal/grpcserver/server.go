// Package grpcserver exposes the standard gRPC health service for the
// catalog. Each source gets its own service name, SERVING after a successful
// run and NOT_SERVING after a failed one, so orchestrators can alert per
// source while the process as a whole stays up.
package grpcserver

import (
	"net"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"jobmate/catalog-service/internal/logger"
)

// ServicePrefix prefixes the per-source health service names.
const ServicePrefix = "catalog.source."

// ServiceName returns the health service name of source.
func ServiceName(source string) string {
	return ServicePrefix + source
}

// Server owns the gRPC server and the per-source health state.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *logger.Logger

	mu      sync.RWMutex
	sources map[string]bool // last run outcome; absent until the first run
}

// New builds a Server for sources. Sources start UNKNOWN until their first
// run; the overall service ("") is SERVING from the start.
func New(sources []string, log *logger.Logger) *Server {
	s := &Server{
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
		log:     log.WithComponent("grpc"),
		sources: make(map[string]bool, len(sources)),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, src := range sources {
		s.health.SetServingStatus(ServiceName(src), healthpb.HealthCheckResponse_UNKNOWN)
	}
	return s
}

// SetSourceStatus records the outcome of the last run of source.
func (s *Server) SetSourceStatus(source string, healthy bool) {
	s.mu.Lock()
	s.sources[source] = healthy
	s.mu.Unlock()

	st := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName(source), st)
}

// SourceStatus is one entry of Snapshot.
type SourceStatus struct {
	Source  string `json:"source"`
	Healthy bool   `json:"healthy"`
}

// Snapshot returns the sources that have run at least once, sorted by name.
func (s *Server) Snapshot() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SourceStatus, 0, len(s.sources))
	for src, ok := range s.sources {
		out = append(out, SourceStatus{Source: src, Healthy: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infow("grpc listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

// Stop flips every service to NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
