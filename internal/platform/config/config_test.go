package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load[CommandAPI]()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.Database.MaxConns != 20 || cfg.Database.MinConns != 2 {
		t.Fatalf("unexpected pool bounds: %+v", cfg.Database)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout: %s", cfg.ShutdownTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("NATS_URL", "nats://nats:4222")

	cfg, err := Load[OutboxRelay]()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BatchSize != 25 || cfg.PollInterval != 2*time.Second || cfg.NATS.URL != "nats://nats:4222" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "many")
	if _, err := Load[CommandAPI](); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReadDatabase_PrefersReadURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://primary/app")

	cfg, err := Load[QueryAPI]()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Database.Effective().URL; got != "postgres://primary/app" {
		t.Fatalf("expected fallback to DATABASE_URL, got %q", got)
	}

	t.Setenv("READ_DATABASE_URL", "postgres://replica/app")
	cfg, err = Load[QueryAPI]()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got := cfg.Database.Effective().URL; got != "postgres://replica/app" {
		t.Fatalf("expected READ_DATABASE_URL, got %q", got)
	}
}
