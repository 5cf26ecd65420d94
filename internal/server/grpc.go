package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/entgraph/internal/logger"
	"github.com/nainya/entgraph/internal/metrics"
)

// ServiceName is the health service name reported for the store
const ServiceName = "entgraph"

// GRPCServer serves the standard health service and reflection
type GRPCServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
	log    *logger.Logger
}

// NewGRPCServer creates a gRPC server with health checks and reflection
func NewGRPCServer(port int, m *metrics.Metrics, log *logger.Logger) *GRPCServer {
	s := grpc.NewServer(grpc.UnaryInterceptor(GrpcMetricsInterceptor(m, log)))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		addr:   fmt.Sprintf(":%d", port),
		server: s,
		health: hs,
		log:    log,
	}
}

// RegisterGraph exposes graph through GraphServiceName. Call before Serve.
func (g *GRPCServer) RegisterGraph(graph Graph) {
	RegisterGraphService(g.server, NewGraphService(graph))
}

// Start listens on the configured port and serves until Shutdown
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.addr, err)
	}
	return g.Serve(lis)
}

// Serve serves gRPC on lis
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.log.Info("gRPC server listening").Str("addr", lis.Addr().String()).Send()
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// SetServing flips the store health status
func (g *GRPCServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(ServiceName, status)
}

// WatchStore polls src and reports NOT_SERVING once the store is poisoned.
// It returns when ctx is done.
func (g *GRPCServer) WatchStore(ctx context.Context, src StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok := !src.Stats().Poisoned
			if ok != serving {
				serving = ok
				g.SetServing(ok)
				if !ok {
					g.log.Error("store poisoned, reporting not serving").Send()
				}
			}
		}
	}
}

// Shutdown stops accepting requests and waits for in-flight ones
func (g *GRPCServer) Shutdown() {
	g.log.Info("Shutting down gRPC server").Send()
	g.health.Shutdown()
	g.server.GracefulStop()
}
