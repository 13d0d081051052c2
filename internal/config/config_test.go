package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
target:
  url: https://arena.example/leaderboard
  fetch_url: https://arena.example/leaderboard?embed=1
  extract_mode: table
driver:
  kind: colly
  user_agent: sync-bot
  max_fetch_qps: 2.5
sync:
  hash_scope: payload
  success_delay_ms: 1000
  reload_every_cycles: 50
escalation:
  empty_ceiling: 5
  error_ceiling: 12
  duplicate_ceiling: 4
  container: vpn
db:
  dsn: postgres://u:p@db/arena
  ensure_schema: true
gcs:
  bucket: mirror
  history: true
server:
  port: 9090
  api_key: secret
logging:
  development: true
  level: debug
startup:
  temp_patterns: ["/tmp/chrome*"]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target.FetchTarget() != "https://arena.example/leaderboard?embed=1" {
		t.Fatalf("expected fetch url override, got %q", cfg.Target.FetchTarget())
	}
	if cfg.Driver.Kind != DriverColly || cfg.Driver.MaxFetchQPS != 2.5 {
		t.Fatalf("expected driver overrides to apply: %+v", cfg.Driver)
	}
	if cfg.Sync.HashScope != "payload" || cfg.Sync.SuccessDelay() != time.Second {
		t.Fatalf("expected sync overrides to apply: %+v", cfg.Sync)
	}
	if cfg.Sync.EmptyDelay() != 3500*time.Millisecond {
		t.Fatalf("expected default empty delay, got %v", cfg.Sync.EmptyDelay())
	}
	if cfg.Escalation.EmptyCeiling != 5 || cfg.Escalation.ErrorCeiling != 12 || cfg.Escalation.Container != "vpn" {
		t.Fatalf("expected escalation overrides to apply: %+v", cfg.Escalation)
	}
	if !cfg.DB.EnsureSchema || cfg.DB.Table != "leaderboard_entries" {
		t.Fatalf("expected db settings: %+v", cfg.DB)
	}
	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if len(cfg.Startup.TempPatterns) != 1 || cfg.Startup.TempPatterns[0] != "/tmp/chrome*" {
		t.Fatalf("expected temp pattern override: %+v", cfg.Startup.TempPatterns)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEADERBOARD_TARGET_URL", "https://arena.example/")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Target.FetchTarget() != "https://arena.example/" {
		t.Fatalf("fetch target should fall back to url, got %q", cfg.Target.FetchTarget())
	}
	if cfg.Driver.Kind != DriverHeadless || cfg.Driver.FetchTimeout() != 30*time.Second {
		t.Fatalf("unexpected driver defaults: %+v", cfg.Driver)
	}
	if cfg.Escalation.EmptyCeiling != 10 || cfg.Escalation.ErrorCeiling != 30 || cfg.Escalation.DuplicateCeiling != 3 {
		t.Fatalf("unexpected ceiling defaults: %+v", cfg.Escalation)
	}
	if cfg.Screenshot.Interval() != time.Second || cfg.Screenshot.Path != "stream/page.jpg" {
		t.Fatalf("unexpected screenshot defaults: %+v", cfg.Screenshot)
	}
	if len(cfg.Startup.TempPatterns) != 2 {
		t.Fatalf("expected default temp patterns, got %v", cfg.Startup.TempPatterns)
	}
	if cfg.DB.DSN != "" {
		t.Fatalf("db should be disabled by default")
	}
}

func TestLoadEnvOverridesAndDatabaseURL(t *testing.T) {
	t.Setenv("LEADERBOARD_TARGET_URL", "https://arena.example/")
	t.Setenv("LEADERBOARD_ESCALATION_CONTAINER", "gluetun")
	t.Setenv("LEADERBOARD_SYNC_ERROR_DELAY_MS", "250")
	t.Setenv("DATABASE_URL", "postgres://env/arena")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Escalation.Container != "gluetun" {
		t.Fatalf("expected container from env, got %q", cfg.Escalation.Container)
	}
	if cfg.Sync.ErrorDelay() != 250*time.Millisecond {
		t.Fatalf("expected error delay from env, got %v", cfg.Sync.ErrorDelay())
	}
	if cfg.DB.DSN != "postgres://env/arena" {
		t.Fatalf("expected DATABASE_URL alias, got %q", cfg.DB.DSN)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Target:     TargetConfig{URL: "https://arena.example/", ExtractMode: "auto"},
		Driver:     DriverConfig{Kind: DriverHeadless},
		Sync:       SyncConfig{HashScope: "raw"},
		Escalation: EscalationConfig{EmptyCeiling: 10, ErrorCeiling: 30, DuplicateCeiling: 3},
		Server:     ServerConfig{Enabled: true, Port: 8080},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing target", func(c *Config) { c.Target.URL = "" }, "target.url"},
		{"bad extract mode", func(c *Config) { c.Target.ExtractMode = "xpath" }, "target.extract_mode"},
		{"bad driver", func(c *Config) { c.Driver.Kind = "selenium" }, "driver.kind"},
		{"bad hash scope", func(c *Config) { c.Sync.HashScope = "dom" }, "sync.hash_scope"},
		{"zero empty ceiling", func(c *Config) { c.Escalation.EmptyCeiling = 0 }, "ceilings"},
		{"duplicate ceiling", func(c *Config) { c.Escalation.DuplicateCeiling = 1 }, "duplicate_ceiling"},
		{"negative reload", func(c *Config) { c.Sync.ReloadEveryCycles = -1 }, "reload_every_cycles"},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"screenshot interval", func(c *Config) { c.Screenshot.Enabled = true }, "screenshot.interval_ms"},
		{"pubsub topic", func(c *Config) { c.PubSub.ProjectID = "proj" }, "pubsub.topic_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
