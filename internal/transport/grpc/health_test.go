package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHealth(t *testing.T, h *HealthServer) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	h.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthServer_ReflectsPing(t *testing.T) {
	var pingErr error
	h := NewHealthServer(func(ctx context.Context) error { return pingErr }, discardLogger())
	client := dialHealth(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status before first refresh = %v, want NOT_SERVING", resp.Status)
	}

	if got := h.Refresh(ctx); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Refresh = %v, want SERVING", got)
	}
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.Status)
	}

	pingErr = errors.New("connection refused")
	h.Refresh(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING after failed ping", resp.Status)
	}
}

func TestDefaultRequestTimeoutInterceptor(t *testing.T) {
	icpt := DefaultRequestTimeoutInterceptor(time.Second)

	t.Run("adds deadline", func(t *testing.T) {
		_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Fatalf("expected deadline")
			}
			return nil, nil
		})
		if err != nil {
			t.Fatalf("interceptor: %v", err)
		}
	})

	t.Run("keeps caller deadline", func(t *testing.T) {
		want := time.Now().Add(time.Minute)
		ctx, cancel := context.WithDeadline(context.Background(), want)
		defer cancel()
		_, _ = icpt(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
			got, _ := ctx.Deadline()
			if !got.Equal(want) {
				t.Fatalf("deadline = %v, want %v", got, want)
			}
			return nil, nil
		})
	})
}
