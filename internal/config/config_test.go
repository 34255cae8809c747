package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr() != "0.0.0.0:50051" {
		t.Fatalf("addrs = %q %q", cfg.HTTPAddr, cfg.GRPCAddr())
	}
	if cfg.CalendarChannelTTL != 7*24*time.Hour || cfg.CalendarRenewThreshold != 48*time.Hour {
		t.Fatalf("channel ttl = %s renew = %s", cfg.CalendarChannelTTL, cfg.CalendarRenewThreshold)
	}
	if cfg.CalendarCallTimeout != 30*time.Second || cfg.CalendarSyncTimeout != 2*time.Minute {
		t.Fatalf("call timeout = %s sync timeout = %s", cfg.CalendarCallTimeout, cfg.CalendarSyncTimeout)
	}
	if cfg.CalendarResyncWindow != 90*24*time.Hour || cfg.CalendarResyncMaxResults != 2500 {
		t.Fatalf("resync = %s/%d", cfg.CalendarResyncWindow, cfg.CalendarResyncMaxResults)
	}
	if cfg.RenewalInterval != time.Hour || cfg.RedisURL != "" || cfg.RedisDedupTTL != 24*time.Hour {
		t.Fatalf("renewal = %s redis = %q/%s", cfg.RenewalInterval, cfg.RedisURL, cfg.RedisDedupTTL)
	}
	if cfg.AppointmentPrefix != "Appointment:" || !cfg.MetricsEnabled || cfg.MetricsPath != "/metrics" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SLOTSYNC_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("SLOTSYNC_CALENDAR_CALLBACK_URL", "https://hooks.example.test/webhooks/calendar")
	t.Setenv("SLOTSYNC_RENEWAL_INTERVAL", "0s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCHost != "127.0.0.1" || cfg.GRPCPort != 6000 {
		t.Fatalf("grpc = %s:%d", cfg.GRPCHost, cfg.GRPCPort)
	}
	if cfg.DatabaseURL != "postgres://example/db" {
		t.Fatalf("database url = %q", cfg.DatabaseURL)
	}
	if cfg.CalendarCallbackURL != "https://hooks.example.test/webhooks/calendar" {
		t.Fatalf("callback = %q", cfg.CalendarCallbackURL)
	}
	if cfg.RenewalInterval != 0 || cfg.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("renewal = %s redis = %q", cfg.RenewalInterval, cfg.RedisURL)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SLOTSYNC_CALENDAR_CHANNEL_TTL", "a week")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestLoad_InvalidMetricsPath(t *testing.T) {
	t.Setenv("SLOTSYNC_METRICS_PATH", "metrics")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for relative metrics path")
	}
}
