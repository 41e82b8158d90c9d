// Package health reports liveness and per-capability readiness over HTTP and
// the standard gRPC health protocol.
//
// Each capability tracked by the provider registry (transcription,
// translation, generation, synthesis, ...) is exposed as a gRPC health
// service name. The empty service name carries the overall status.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"empathy/internal/provider"
)

// Critical capabilities make the whole service NOT_SERVING when they are down.
var Critical = []string{"generation"}

type Server struct {
	port     int
	interval time.Duration
	registry *provider.Registry
	hs       *grpchealth.Server
	ready    atomic.Bool
	logger   *slog.Logger
}

func New(port int, registry *provider.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:     port,
		interval: 5 * time.Second,
		registry: registry,
		hs:       grpchealth.NewServer(),
		logger:   logger,
	}
}

// SetReady marks the daemon as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	s.Sync()
}

// Sync copies the registry's view into the gRPC health server.
func (s *Server) Sync() {
	overall := s.ready.Load()
	for _, capability := range s.registry.Capabilities() {
		serving := s.registry.Serving(capability)
		s.hs.SetServingStatus(capability, status(serving))
		if !serving && isCritical(capability) {
			overall = false
		}
	}
	s.hs.SetServingStatus("", status(overall))
}

func status(serving bool) healthpb.HealthCheckResponse_ServingStatus {
	if serving {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func isCritical(capability string) bool {
	for _, c := range Critical {
		if c == capability {
			return true
		}
	}
	return false
}

// ListenAndServe runs the gRPC health service until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("grpc health listen: %w", err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.hs)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.hs.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				s.Sync()
			}
		}
	}()

	s.logger.Info("grpc health listening", "port", s.port)
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc health: %w", err)
	}
	return nil
}

// Healthz reports liveness once the daemon is ready.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Readyz adds the per-capability view and fails when a critical capability
// has no healthy provider.
func (s *Server) Readyz(w http.ResponseWriter, _ *http.Request) {
	capabilities := make(map[string]bool)
	ready := s.ready.Load()
	for _, capability := range s.registry.Capabilities() {
		serving := s.registry.Serving(capability)
		capabilities[capability] = serving
		if !serving && isCritical(capability) {
			ready = false
		}
	}
	body := map[string]any{"status": "ok", "capabilities": capabilities}
	if !ready {
		body["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
