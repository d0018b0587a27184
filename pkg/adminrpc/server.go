// Package adminrpc exposes a read-only gRPC status surface for
// infrastructure tooling (load balancer health checks, orchestration
// probes) that doesn't want to speak the Control Protocol's tool
// dispatch shape. The teacher's own gRPC usage (pkg/agent/llm_grpc.go)
// calls a Python LLM sidecar that has no equivalent in this system —
// providers are reached over HTTP (pkg/provider), not gRPC — so this
// package gives google.golang.org/grpc and google.golang.org/protobuf a
// real home on the standard health-checking service instead of
// fabricating a bespoke .proto.
package adminrpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/corvid-labs/orchestrator/pkg/queue"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// serviceName is the fully-qualified service name health checks report
// against, matching this module's own name rather than a generic empty
// string (which would only report overall server health).
const serviceName = "corvid.orchestrator.Orchestrator"

// Server runs a gRPC server exposing the standard health-checking
// protocol plus reflection, continuously re-derived from Store and the
// job engine's worker pool.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	store      *store.Store
	pool       *queue.WorkerPool
	log        *slog.Logger

	stopPoll chan struct{}
	wg       sync.WaitGroup
}

// New builds a Server. pool may be nil (e.g. before the job engine has
// started), in which case health reporting considers only Store.
func New(s *store.Store, pool *queue.WorkerPool, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	return &Server{
		grpcServer: grpcSrv, health: healthSrv, store: s, pool: pool, log: log,
		stopPoll: make(chan struct{}),
	}
}

// Start listens on addr and serves until ctx is canceled, polling
// component health every pollInterval to keep the reported status
// current.
func (s *Server) Start(ctx context.Context, addr string, pollInterval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("adminrpc: listen on %s: %w", addr, err)
	}

	s.wg.Add(1)
	go s.pollHealth(ctx, pollInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- s.grpcServer.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop gracefully drains in-flight RPCs and stops the health poller.
func (s *Server) Stop() {
	close(s.stopPoll)
	s.wg.Wait()
	s.grpcServer.GracefulStop()
}

func (s *Server) pollHealth(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopPoll:
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if _, err := s.store.DocCount(ctx); err != nil {
		s.log.Warn("adminrpc: store health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if s.pool != nil {
		if poolHealth := s.pool.Health(); poolHealth.TotalWorkers == 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus(serviceName, status)
	s.health.SetServingStatus("", status)
}
