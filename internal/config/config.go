// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/streamwatch/internal/poller"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Auth      AuthConfig                `mapstructure:"auth"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Telemetry TelemetryConfig           `mapstructure:"telemetry"`
	Poller    PollerConfig              `mapstructure:"poller"`
	Retry     RetryConfig               `mapstructure:"retry"`
	HTTP      HTTPConfig                `mapstructure:"http"`
	Platforms map[string]PlatformConfig `mapstructure:"platforms"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Learner   LearnerConfig             `mapstructure:"learner"`
	Prefetch  PrefetchConfig            `mapstructure:"prefetch"`
	Schedules SchedulesConfig           `mapstructure:"schedules"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Blob      BlobConfig                `mapstructure:"blob"`
	DB        DBConfig                  `mapstructure:"db"`
	PubSub    PubSubConfig              `mapstructure:"pubsub"`
	Events    EventsConfig              `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// PollerConfig governs the tick loop and worker pool.
type PollerConfig struct {
	Workers             int           `mapstructure:"workers"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
	Interval            time.Duration `mapstructure:"interval"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
	SlotTolerance       time.Duration `mapstructure:"slot_tolerance"`
	SeenPerSchedule     int           `mapstructure:"seen_per_schedule"`
	SeenRetention       time.Duration `mapstructure:"seen_retention"`
	ArchiveRaw          bool          `mapstructure:"archive_raw"`
}

// RetryConfig shapes the fetch retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// PlatformConfig holds credentials, budget and pacing for one platform.
type PlatformConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	APIKey       string         `mapstructure:"api_key"`
	BaseURL      string         `mapstructure:"base_url"`
	DailyLimit   int            `mapstructure:"daily_limit"`
	SafetyMargin int            `mapstructure:"safety_margin"`
	Timezone     string         `mapstructure:"timezone"`
	DefaultCost  int            `mapstructure:"default_cost"`
	Costs        map[string]int `mapstructure:"costs"`
	RPS          float64        `mapstructure:"rps"`
	Burst        int            `mapstructure:"burst"`
}

// CacheConfig sets freshness windows per content type.
type CacheConfig struct {
	DefaultTTL time.Duration            `mapstructure:"default_ttl"`
	TTL        map[string]time.Duration `mapstructure:"ttl"`
	Persist    bool                     `mapstructure:"persist"`
}

// LearnerConfig bounds effectiveness history.
type LearnerConfig struct {
	ScoreWindow      int `mapstructure:"score_window"`
	RetentionDays    int `mapstructure:"retention_days"`
	MaxRecords       int `mapstructure:"max_records"`
	LowValueAttempts int `mapstructure:"low_value_attempts"`
}

// PrefetchConfig gates predictive prefetch. MaxItems caps predictions per
// cycle and prefetches per quota window; MaxQuotaShare is the fraction of each
// platform's usable daily budget prefetch may spend.
type PrefetchConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Threshold      float64 `mapstructure:"threshold"`
	MaxItems       int     `mapstructure:"max_items"`
	MaxQuotaShare  float64 `mapstructure:"max_quota_share"`
	MinDays        int     `mapstructure:"min_days"`
	WindowDays     int     `mapstructure:"window_days"`
	MaxTrackedKeys int     `mapstructure:"max_tracked_keys"`
	Timezone       string  `mapstructure:"timezone"`
}

// SchedulesConfig selects where schedule definitions come from.
type SchedulesConfig struct {
	// Source is "file" or "postgres".
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
}

// StorageConfig selects the state backend for quota, records and cache.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// BlobConfig selects where raw payloads are archived.
type BlobConfig struct {
	// Backend is "none", "memory", "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for content-discovered notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig sizes the event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	RingSize       int           `mapstructure:"ring_size"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STREAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "streamwatch")

	v.SetDefault("poller.workers", 5)
	v.SetDefault("poller.task_timeout", "15s")
	v.SetDefault("poller.interval", "1m")
	v.SetDefault("poller.maintenance_interval", "10m")
	v.SetDefault("poller.slot_tolerance", "2m")
	v.SetDefault("poller.seen_per_schedule", 500)
	v.SetDefault("poller.seen_retention", "720h")
	v.SetDefault("poller.archive_raw", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("http.timeout", "10s")
	v.SetDefault("http.user_agent", "streamwatch/1.0")

	for _, p := range poller.Platforms {
		v.SetDefault("platforms."+string(p)+".enabled", false)
		v.SetDefault("platforms."+string(p)+".api_key", "")
		v.SetDefault("platforms."+string(p)+".base_url", "")
	}
	v.SetDefault("platforms.youtube.daily_limit", 10000)
	v.SetDefault("platforms.youtube.safety_margin", 500)
	v.SetDefault("platforms.youtube.timezone", "America/Los_Angeles")
	v.SetDefault("platforms.youtube.default_cost", 1)
	v.SetDefault("platforms.youtube.costs", map[string]int{"search": 100, "playlist_items": 1, "videos": 1, "channels": 1})
	v.SetDefault("platforms.youtube.rps", 5)
	v.SetDefault("platforms.youtube.burst", 5)
	v.SetDefault("platforms.tiktok.daily_limit", 1000)
	v.SetDefault("platforms.tiktok.safety_margin", 50)
	v.SetDefault("platforms.tiktok.timezone", "UTC")
	v.SetDefault("platforms.tiktok.default_cost", 1)
	v.SetDefault("platforms.tiktok.rps", 1)
	v.SetDefault("platforms.tiktok.burst", 1)
	for _, p := range []string{"facebook", "instagram"} {
		v.SetDefault("platforms."+p+".daily_limit", 4800)
		v.SetDefault("platforms."+p+".safety_margin", 200)
		v.SetDefault("platforms."+p+".timezone", "UTC")
		v.SetDefault("platforms."+p+".default_cost", 1)
		v.SetDefault("platforms."+p+".rps", 2)
		v.SetDefault("platforms."+p+".burst", 2)
	}

	v.SetDefault("cache.default_ttl", "15m")
	v.SetDefault("cache.ttl", map[string]string{"live": "2m", "uploads": "15m", "video": "30m", "channel": "6h"})
	v.SetDefault("cache.persist", true)

	v.SetDefault("learner.score_window", 20)
	v.SetDefault("learner.retention_days", 30)
	v.SetDefault("learner.max_records", 200)
	v.SetDefault("learner.low_value_attempts", 10)

	v.SetDefault("prefetch.enabled", true)
	v.SetDefault("prefetch.threshold", 0.6)
	v.SetDefault("prefetch.max_items", 20)
	v.SetDefault("prefetch.max_quota_share", 0.1)
	v.SetDefault("prefetch.max_tracked_keys", 5000)
	v.SetDefault("prefetch.min_days", 3)
	v.SetDefault("prefetch.window_days", 14)
	v.SetDefault("prefetch.timezone", "UTC")

	v.SetDefault("schedules.source", "file")
	v.SetDefault("schedules.path", "schedules.yaml")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("blob.backend", "none")
	v.SetDefault("blob.prefix", "raw")
	v.SetDefault("blob.local_dir", "")
	v.SetDefault("blob.gcs_bucket", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate", true)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "content-discovered")

	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait", "500ms")
	v.SetDefault("events.ring_size", 500)
	v.SetDefault("events.log_events", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Poller.Workers <= 0 {
		return errors.New("poller.workers must be > 0")
	}
	if c.Poller.TaskTimeout <= 0 || c.Poller.Interval <= 0 {
		return errors.New("poller.task_timeout and poller.interval must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be > 0")
	}
	for name, p := range c.Platforms {
		if err := p.validate(name); err != nil {
			return err
		}
	}
	if c.Prefetch.Threshold <= 0 || c.Prefetch.Threshold > 1 {
		return errors.New("prefetch.threshold must be in (0, 1]")
	}
	if c.Prefetch.MaxQuotaShare < 0 || c.Prefetch.MaxQuotaShare > 1 {
		return errors.New("prefetch.max_quota_share must be in [0, 1]")
	}
	if _, err := time.LoadLocation(c.Prefetch.Timezone); err != nil {
		return fmt.Errorf("prefetch.timezone: %w", err)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be memory or postgres", c.Storage.Backend)
	}
	switch c.Schedules.Source {
	case "file":
		if c.Schedules.Path == "" {
			return errors.New("schedules.path is required for the file source")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres schedule source")
		}
	default:
		return fmt.Errorf("schedules.source %q must be file or postgres", c.Schedules.Source)
	}
	switch c.Blob.Backend {
	case "none", "memory":
	case "local":
		if c.Blob.LocalDir == "" {
			return errors.New("blob.local_dir is required for the local blob backend")
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return errors.New("blob.gcs_bucket is required for the gcs blob backend")
		}
	default:
		return fmt.Errorf("blob.backend %q must be none, memory, local or gcs", c.Blob.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

func (p PlatformConfig) validate(name string) error {
	if !poller.Platform(name).Valid() {
		return fmt.Errorf("platforms.%s: unknown platform", name)
	}
	if !p.Enabled {
		return nil
	}
	if p.APIKey == "" {
		return fmt.Errorf("platforms.%s.api_key is required when enabled", name)
	}
	if p.DailyLimit <= 0 {
		return fmt.Errorf("platforms.%s.daily_limit must be > 0", name)
	}
	if p.SafetyMargin < 0 || p.SafetyMargin >= p.DailyLimit {
		return fmt.Errorf("platforms.%s.safety_margin must be in [0, daily_limit)", name)
	}
	for op, cost := range p.Costs {
		if cost <= 0 {
			return fmt.Errorf("platforms.%s.costs.%s must be > 0", name, op)
		}
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("platforms.%s.timezone: %w", name, err)
	}
	return nil
}

// EnabledPlatforms lists enabled platforms in stable order.
func (c Config) EnabledPlatforms() []poller.Platform {
	var out []poller.Platform
	for name, p := range c.Platforms {
		if p.Enabled {
			out = append(out, poller.Platform(name))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UsesPostgres reports whether any component needs a database pool.
func (c Config) UsesPostgres() bool {
	return c.Storage.Backend == "postgres" || c.Schedules.Source == "postgres"
}
