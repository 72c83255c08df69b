package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"LIVESCORE_SERVER_HTTP_PORT", "server.http_port"},
		{"LIVESCORE_STREAM_TICK_INTERVAL", "stream.tick_interval"},
		{"LIVESCORE_NATS_URL", "nats.url"},
		{"HTTPPORT", "server.http_port"},
		{"PSQLURL", "storage.postgres_url"},
		{"LOG_LEVEL", "logging.level"},
		{"LIVESCORE_", ""},
		{"LIVESCORE_SERVER", ""},
		{"PATH", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.key); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPPort != "3333" || cfg.Server.GRPCPort != "50057" {
		t.Errorf("ports = %s/%s", cfg.Server.HTTPPort, cfg.Server.GRPCPort)
	}
	if cfg.Rates.LongWindow != time.Hour || cfg.Rates.ShortWindow != 15*time.Minute {
		t.Errorf("windows = %s/%s", cfg.Rates.LongWindow, cfg.Rates.ShortWindow)
	}
	if cfg.Stream.MinInterval != 2*time.Minute {
		t.Errorf("min interval = %s", cfg.Stream.MinInterval)
	}
	if cfg.Storage.PostgresURL != "" || cfg.NATS.URL != "" {
		t.Errorf("sinks enabled by default: %+v %+v", cfg.Storage, cfg.NATS)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `
server:
  http_port: "8080"
stream:
  tick_interval: 2s
ingest:
  max_batch: 16
`
	path := filepath.Join(dir, "livescore.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("LIVESCORE_SERVER_HTTP_PORT", "9090")
	t.Setenv("NATSURL", "nats://127.0.0.1:4222")
	t.Setenv("LIVESCORE_REDIS_TTL", "1h")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.HTTPPort != "9090" {
		t.Errorf("http port = %s, want env to win over file", cfg.Server.HTTPPort)
	}
	if cfg.Stream.TickInterval != 2*time.Second || cfg.Ingest.MaxBatch != 16 {
		t.Errorf("file values not applied: tick=%s batch=%d", cfg.Stream.TickInterval, cfg.Ingest.MaxBatch)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("legacy nats url = %q", cfg.NATS.URL)
	}
	if cfg.Redis.TTL != time.Hour {
		t.Errorf("redis ttl = %s", cfg.Redis.TTL)
	}
	if cfg.Ingest.QueueSize != 1024 {
		t.Errorf("unset value lost its default: queue=%d", cfg.Ingest.QueueSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	cfg.Rates.ShortWindow = 2 * time.Hour
	cfg.Stream.TickInterval = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"short_window", "tick_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
