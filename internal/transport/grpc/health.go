package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") status.
const ServiceName = "slotsync.Engine"

// HealthServer reports SERVING while the backing store answers pings.
type HealthServer struct {
	srv  *health.Server
	ping func(ctx context.Context) error
	log  *slog.Logger
}

func NewHealthServer(ping func(ctx context.Context) error, log *slog.Logger) *HealthServer {
	if log == nil {
		log = slog.Default()
	}
	h := &HealthServer{
		srv:  health.NewServer(),
		ping: ping,
		log:  log.With(slog.String("component", "grpc.health")),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh pings the store once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			h.log.WarnContext(ctx, "store ping failed", slog.Any("err", err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.set(status)
	return status
}

// Run refreshes the status every interval until ctx is done.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so clients drain before the listener closes.
func (h *HealthServer) Shutdown() {
	h.srv.Shutdown()
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}

// DefaultRequestTimeoutInterceptor bounds unary calls that arrive without a deadline.
func DefaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}
