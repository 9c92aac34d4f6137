package grpc

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"fyzo-chat/internal/observability"
)

// ChatServiceName is the health check service name reported for the chat store.
const ChatServiceName = "fyzo.chat.v1.Chat"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer builds the admin gRPC server with tracing and metrics.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	}, opts...)
	return grpc.NewServer(opts...)
}

// HealthReporter keeps the standard gRPC health service in sync with the store.
type HealthReporter struct {
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	logger   *slog.Logger
}

// RegisterHealth installs the health service on srv.
func RegisterHealth(srv *grpc.Server, pinger Pinger, interval time.Duration, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthReporter{health: hs, pinger: pinger, interval: interval, logger: logger}
}

// Run probes the store until ctx ends, then marks every service not serving.
func (r *HealthReporter) Run(ctx context.Context) {
	r.Check(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.health.Shutdown()
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Check probes the store once and publishes the result.
func (r *HealthReporter) Check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	pctx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()
	if err := r.pinger.Ping(pctx); err != nil {
		r.logger.Warn("store health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.health.SetServingStatus("", status)
	r.health.SetServingStatus(ChatServiceName, status)
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }
