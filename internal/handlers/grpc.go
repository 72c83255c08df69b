package handlers

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lijuuu/ContestLivescoreService/internal/logging"
)

// IngestServiceName is the health service name reported for the ingestion engine.
const IngestServiceName = "livescore.Ingest"

// GRPCServer serves the standard gRPC health protocol.
type GRPCServer struct {
	addr    string
	server  *grpc.Server
	health  *health.Server
	healthy func() bool
}

func NewGRPCServer(addr string, healthy func() bool) *GRPCServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCServer{
		addr:    addr,
		server:  srv,
		health:  hs,
		healthy: healthy,
	}
}

// Health exposes the health server, mostly for tests.
func (g *GRPCServer) Health() *health.Server {
	return g.health
}

// Refresh publishes the current ingestion status.
func (g *GRPCServer) Refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if g.healthy != nil && !g.healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(IngestServiceName, status)
}

func (g *GRPCServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}
	g.Refresh()

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", g.addr).Msg("starting grpc health server")
		errCh <- g.server.Serve(lis)
	}()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		case <-ticker.C:
			g.Refresh()
		case <-ctx.Done():
			g.health.Shutdown()
			g.server.GracefulStop()
			return ctx.Err()
		}
	}
}

func (g *GRPCServer) String() string {
	return "grpc-health"
}
