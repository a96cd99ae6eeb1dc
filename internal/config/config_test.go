package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsSectionsAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
  read_timeout: 10s
log:
  level: debug
postgres:
  url: postgres://file
session:
  strict_options: true
auth:
  jwt_secret: from-file
rabbitmq:
  queue: quiz.attempts
rate_limit:
  requests: 20
  window: 1m
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("POSTGRES_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Log.Level != "debug" || !cfg.Session.StrictOptions {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Postgres.URL != "postgres://file" {
		t.Fatalf("empty env must not clear file value, got %q", cfg.Postgres.URL)
	}
	if cfg.RateLimit.Requests != 20 || TTLDuration(cfg.RateLimit.Window, 0) != time.Minute {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Second); got != time.Second {
		t.Fatalf("expected fallback, got %s", got)
	}
	if got := TTLDuration("bogus", time.Second); got != time.Second {
		t.Fatalf("expected fallback for bad input, got %s", got)
	}
	if got := TTLDuration("90s", time.Second); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}
