package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poller.Workers != 5 || cfg.Poller.TaskTimeout != 15*time.Second || cfg.Poller.Interval != time.Minute || cfg.Poller.SeenRetention != 30*24*time.Hour {
		t.Fatalf("unexpected poller defaults: %+v", cfg.Poller)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	yt := cfg.Platforms["youtube"]
	if yt.DailyLimit != 10000 || yt.Costs["search"] != 100 || yt.Timezone != "America/Los_Angeles" {
		t.Fatalf("unexpected youtube defaults: %+v", yt)
	}
	if got := cfg.Cache.TTL["live"]; got != 2*time.Minute {
		t.Fatalf("expected live ttl 2m, got %v", got)
	}
	if cfg.Prefetch.Threshold != 0.6 || cfg.Prefetch.MaxItems != 20 || cfg.Prefetch.MaxQuotaShare != 0.1 || cfg.Prefetch.MaxTrackedKeys != 5000 {
		t.Fatalf("unexpected prefetch defaults: %+v", cfg.Prefetch)
	}
	if len(cfg.EnabledPlatforms()) != 0 {
		t.Fatalf("expected no platforms enabled by default")
	}
	if cfg.UsesPostgres() {
		t.Fatalf("expected memory storage by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
poller:
  workers: 8
  task_timeout: 20s
platforms:
  youtube:
    enabled: true
    api_key: yt-key
    safety_margin: 1000
    costs:
      search: 100
      videos: 1
  facebook:
    enabled: true
    api_key: fb-token
cache:
  ttl:
    live: 90s
storage:
  backend: postgres
db:
  dsn: postgres://localhost/streamwatch
schedules:
  source: postgres
blob:
  backend: gcs
  gcs_bucket: raw-payloads
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server and auth overrides: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Poller.Workers != 8 || cfg.Poller.TaskTimeout != 20*time.Second {
		t.Fatalf("expected poller overrides: %+v", cfg.Poller)
	}
	got := cfg.EnabledPlatforms()
	if len(got) != 2 || got[0] != poller.PlatformFacebook || got[1] != poller.PlatformYouTube {
		t.Fatalf("expected facebook and youtube enabled, got %v", got)
	}
	yt := cfg.Platforms["youtube"]
	if yt.SafetyMargin != 1000 || yt.DailyLimit != 10000 {
		t.Fatalf("expected youtube overrides merged with defaults: %+v", yt)
	}
	if cfg.Cache.TTL["live"] != 90*time.Second {
		t.Fatalf("expected live ttl override, got %v", cfg.Cache.TTL["live"])
	}
	if !cfg.UsesPostgres() {
		t.Fatalf("expected postgres to be in use")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STREAMWATCH_SERVER_PORT", "9191")
	t.Setenv("STREAMWATCH_PLATFORMS_TIKTOK_ENABLED", "true")
	t.Setenv("STREAMWATCH_PLATFORMS_TIKTOK_API_KEY", "tt-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Fatalf("expected env port, got %d", cfg.Server.Port)
	}
	tt := cfg.Platforms["tiktok"]
	if !tt.Enabled || tt.APIKey != "tt-token" {
		t.Fatalf("expected tiktok enabled from env: %+v", tt)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func validBase() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Poller:    PollerConfig{Workers: 5, TaskTimeout: time.Second, Interval: time.Minute},
		Retry:     RetryConfig{MaxAttempts: 3},
		Prefetch:  PrefetchConfig{Threshold: 0.6, Timezone: "UTC"},
		Schedules: SchedulesConfig{Source: "file", Path: "schedules.yaml"},
		Storage:   StorageConfig{Backend: "memory"},
		Blob:      BlobConfig{Backend: "none"},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validBase().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"no workers", func(c *Config) { c.Poller.Workers = 0 }, "poller.workers"},
		{"no retries", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"unknown platform", func(c *Config) {
			c.Platforms = map[string]PlatformConfig{"myspace": {}}
		}, "platforms.myspace"},
		{"platform missing key", func(c *Config) {
			c.Platforms = map[string]PlatformConfig{"youtube": {Enabled: true, DailyLimit: 100}}
		}, "platforms.youtube.api_key"},
		{"margin above limit", func(c *Config) {
			c.Platforms = map[string]PlatformConfig{"youtube": {Enabled: true, APIKey: "k", DailyLimit: 100, SafetyMargin: 100}}
		}, "safety_margin"},
		{"bad cost", func(c *Config) {
			c.Platforms = map[string]PlatformConfig{"youtube": {Enabled: true, APIKey: "k", DailyLimit: 100, Costs: map[string]int{"search": 0}}}
		}, "costs.search"},
		{"bad timezone", func(c *Config) {
			c.Platforms = map[string]PlatformConfig{"youtube": {Enabled: true, APIKey: "k", DailyLimit: 100, Timezone: "Mars/Olympus"}}
		}, "timezone"},
		{"threshold out of range", func(c *Config) { c.Prefetch.Threshold = 1.5 }, "prefetch.threshold"},
		{"quota share out of range", func(c *Config) { c.Prefetch.MaxQuotaShare = 1.2 }, "prefetch.max_quota_share"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "db.dsn"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"file source without path", func(c *Config) { c.Schedules.Path = "" }, "schedules.path"},
		{"unknown schedule source", func(c *Config) { c.Schedules.Source = "http" }, "schedules.source"},
		{"local blob without dir", func(c *Config) { c.Blob.Backend = "local" }, "blob.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Blob.Backend = "gcs" }, "blob.gcs_bucket"},
		{"pubsub without project", func(c *Config) { c.PubSub.Enabled = true }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validBase()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
