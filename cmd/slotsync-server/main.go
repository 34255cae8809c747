package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"google.golang.org/grpc"

	"slotsync/backend/internal/calendar"
	"slotsync/backend/internal/calendar/gcal"
	"slotsync/backend/internal/config"
	"slotsync/backend/internal/domain"
	"slotsync/backend/internal/metrics"
	"slotsync/backend/internal/service/appointments"
	"slotsync/backend/internal/service/availability"
	"slotsync/backend/internal/service/calsync"
	"slotsync/backend/internal/service/channels"
	"slotsync/backend/internal/service/providerlock"
	"slotsync/backend/internal/service/slots"
	"slotsync/backend/internal/store/postgres"
	redisstore "slotsync/backend/internal/store/redis"
	grpcTransport "slotsync/backend/internal/transport/grpc"
	"slotsync/backend/internal/transport/rest"
)

const serviceName = "slotsync-server"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn(".env load failed", slog.Any("err", err))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:       cfg.DBMaxOpenConns,
		MaxIdleConns:       cfg.DBMaxIdleConns,
		ConnMaxLifetime:    cfg.DBConnMaxLifetime,
		ConnMaxIdleTime:    cfg.DBConnMaxIdleTime,
		SlowQueryThreshold: cfg.DBSlowQueryThreshold,
	}, log)
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()
	ping := func(ctx context.Context) error { return postgres.Ping(ctx, db) }

	var rec metrics.Recorder = metrics.Nop{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := metrics.NewPrometheus(cfg.MetricsNamespace, reg)
		if err != nil {
			log.Error("metrics registration failed", slog.Any("err", err))
			os.Exit(1)
		}
		rec = prom
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		log.Info("metrics enabled", slog.String("path", cfg.MetricsPath))
	}

	var dedup calsync.Deduper
	if cfg.RedisURL != "" {
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		dedup = redisstore.NewDeduper(client, cfg.RedisDedupTTL)
		log.Info("notification de-duplication enabled", slog.Duration("ttl", cfg.RedisDedupTTL))
	}

	if cfg.CalendarCallbackURL == "" {
		log.Warn("calendar.callback_url is empty; channel setup will fail until it is configured")
	}
	provider := calendar.WithTimeout(gcal.New(gcal.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	}, log), cfg.CalendarCallTimeout)

	svc := wire(db, provider, dedup, rec, log, cfg)

	router := rest.NewRouter(rest.Deps{
		Sync:           svc.sync,
		Channels:       svc.channels,
		Availability:   svc.availability,
		Slots:          svc.slots,
		Appointments:   svc.appointments,
		SyncTimeout:    cfg.CalendarSyncTimeout,
		Ping:           ping,
		Metrics:        rec,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.MetricsPath,
		Log:            log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.ProxyHeaders(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.CalendarSyncTimeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	health := grpcTransport.NewHealthServer(ping, log)
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcTransport.DefaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	health.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go health.Run(ctx, cfg.HealthInterval)
	if cfg.RenewalInterval > 0 {
		go runRenewals(ctx, log, svc.channels, cfg.RenewalInterval, cfg.CalendarRenewThreshold)
	}

	log.Info("servers started", slog.String("http_addr", cfg.HTTPAddr), slog.String("grpc_addr", cfg.GRPCAddr()))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			health.Shutdown()
			shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
			os.Exit(1)
		}
	}
	health.Shutdown()
	shutdown(log, httpServer, grpcServer, cfg.ShutdownTimeout)
}

type services struct {
	sync         *calsync.Processor
	channels     *channels.Manager
	availability *availability.Service
	slots        *slots.Service
	appointments *appointments.Service
}

func wire(db *bun.DB, provider calendar.Provider, dedup calsync.Deduper, rec metrics.Recorder, log *slog.Logger, cfg config.Config) services {
	providerStore := postgres.NewProviderStore(db)
	availabilityRepo := postgres.NewAvailabilityRepo(db)
	states := postgres.NewSyncStateRepo(db)
	creds := postgres.NewCredentialRepo(db)
	locks := providerlock.New()

	mgr := channels.NewManager(provider, states, creds, locks, rec, log, channels.Config{
		CallbackURL:  cfg.CalendarCallbackURL,
		ChannelToken: cfg.CalendarChannelToken,
		ChannelTTL:   cfg.CalendarChannelTTL,
	})
	reconciler := calsync.NewReconciler(providerStore, domain.PrefixClassifier{Prefix: cfg.AppointmentPrefix}, log)

	return services{
		sync: calsync.NewProcessor(provider, states, creds, reconciler, mgr, locks, dedup, rec, log, calsync.Config{
			ChannelToken:     cfg.CalendarChannelToken,
			RenewThreshold:   cfg.CalendarRenewThreshold,
			ResyncWindow:     cfg.CalendarResyncWindow,
			ResyncMaxResults: cfg.CalendarResyncMaxResults,
		}),
		channels:     mgr,
		availability: availability.NewService(availabilityRepo, creds, log),
		slots:        slots.NewService(providerStore, availabilityRepo, locks, rec, log),
		appointments: appointments.NewService(providerStore, locks, log),
	}
}

// runRenewals sweeps expiring channels every interval until ctx is done.
func runRenewals(ctx context.Context, log *slog.Logger, mgr *channels.Manager, interval, threshold time.Duration) {
	log = log.With(slog.String("component", "renewal"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := mgr.CheckAndRenewExpiring(ctx, threshold)
			if err != nil {
				log.Warn("renewal sweep failed", slog.Any("err", err))
				continue
			}
			if len(res.Failed) > 0 {
				log.Warn("renewal sweep had failures", slog.Int("failed", len(res.Failed)), slog.Int("checked", res.Checked))
			}
		}
	}
}

func shutdown(log *slog.Logger, httpServer *http.Server, grpcServer *grpc.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("http shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("servers stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		grpcServer.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
