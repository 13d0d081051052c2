// Package config loads and validates sync service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Driver kinds.
const (
	DriverHeadless = "headless"
	DriverColly    = "colly"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Target     TargetConfig     `mapstructure:"target"`
	Driver     DriverConfig     `mapstructure:"driver"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	GCS        GCSConfig        `mapstructure:"gcs"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Startup    StartupConfig    `mapstructure:"startup"`
}

// TargetConfig names the leaderboard page and how to read it.
type TargetConfig struct {
	// URL is the page the driver navigates to once.
	URL string `mapstructure:"url"`
	// FetchURL is requested every cycle; empty means URL.
	FetchURL        string `mapstructure:"fetch_url"`
	CacheBustParam  string `mapstructure:"cache_bust_param"`
	Sentinel        string `mapstructure:"sentinel"`
	LeaderboardType string `mapstructure:"leaderboard_type"`
	ExtractMode     string `mapstructure:"extract_mode"`
}

// DriverConfig selects and tunes the page driver.
type DriverConfig struct {
	Kind                 string  `mapstructure:"kind"`
	RemoteURL            string  `mapstructure:"remote_url"`
	Headless             bool    `mapstructure:"headless"`
	UserDataDir          string  `mapstructure:"user_data_dir"`
	UserAgent            string  `mapstructure:"user_agent"`
	NavTimeoutSeconds    int     `mapstructure:"nav_timeout_seconds"`
	FetchTimeoutSeconds  int     `mapstructure:"fetch_timeout_seconds"`
	ReloadTimeoutSeconds int     `mapstructure:"reload_timeout_seconds"`
	ScreenshotQuality    int     `mapstructure:"screenshot_quality"`
	MaxFetchQPS          float64 `mapstructure:"max_fetch_qps"`
	FetchBurst           int     `mapstructure:"fetch_burst"`
}

// SyncConfig tunes cycle pacing and staleness detection.
type SyncConfig struct {
	HashScope         string `mapstructure:"hash_scope"`
	SuccessDelayMs    int    `mapstructure:"success_delay_ms"`
	EmptyDelayMs      int    `mapstructure:"empty_delay_ms"`
	ErrorDelayMs      int    `mapstructure:"error_delay_ms"`
	DuplicateDelayMs  int    `mapstructure:"duplicate_delay_ms"`
	ReloadEveryCycles int    `mapstructure:"reload_every_cycles"`
}

// EscalationConfig holds failure ceilings and the identity reset target.
type EscalationConfig struct {
	EmptyCeiling     int `mapstructure:"empty_ceiling"`
	ErrorCeiling     int `mapstructure:"error_ceiling"`
	DuplicateCeiling int `mapstructure:"duplicate_ceiling"`
	// Container is restarted before shutdown; empty skips the restart.
	Container             string `mapstructure:"container"`
	RestartBinary         string `mapstructure:"restart_binary"`
	RestartTimeoutSeconds int    `mapstructure:"restart_timeout_seconds"`
}

// SnapshotConfig locates the local snapshot file.
type SnapshotConfig struct {
	Dir  string `mapstructure:"dir"`
	Path string `mapstructure:"path"`
}

// ScreenshotConfig controls the periodic page capture.
type ScreenshotConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir"`
	Path       string `mapstructure:"path"`
	IntervalMs int    `mapstructure:"interval_ms"`
}

// DBConfig controls access to the relational database. Empty DSN disables it.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for update notices. Empty ProjectID disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// GCSConfig controls the optional snapshot mirror. Empty Bucket disables it.
type GCSConfig struct {
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Object  string `mapstructure:"object"`
	History bool   `mapstructure:"history"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StartupConfig covers one-time work before the first cycle.
type StartupConfig struct {
	PurgeTemp    bool     `mapstructure:"purge_temp"`
	TempPatterns []string `mapstructure:"temp_patterns"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADERBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("db.dsn", "LEADERBOARD_DB_DSN", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

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
	v.SetDefault("target.url", "")
	v.SetDefault("target.fetch_url", "")
	v.SetDefault("target.cache_bust_param", "_")
	v.SetDefault("target.sentinel", "remove-style-control")
	v.SetDefault("target.leaderboard_type", "remove-style-control")
	v.SetDefault("target.extract_mode", "auto")
	v.SetDefault("driver.kind", DriverHeadless)
	v.SetDefault("driver.remote_url", "")
	v.SetDefault("driver.headless", true)
	v.SetDefault("driver.user_data_dir", "")
	v.SetDefault("driver.user_agent", "")
	v.SetDefault("driver.nav_timeout_seconds", 45)
	v.SetDefault("driver.fetch_timeout_seconds", 30)
	v.SetDefault("driver.reload_timeout_seconds", 60)
	v.SetDefault("driver.screenshot_quality", 70)
	v.SetDefault("driver.max_fetch_qps", 0)
	v.SetDefault("driver.fetch_burst", 1)
	v.SetDefault("sync.hash_scope", "raw")
	v.SetDefault("sync.success_delay_ms", 400)
	v.SetDefault("sync.empty_delay_ms", 3500)
	v.SetDefault("sync.error_delay_ms", 800)
	v.SetDefault("sync.duplicate_delay_ms", 400)
	v.SetDefault("sync.reload_every_cycles", 0)
	v.SetDefault("escalation.empty_ceiling", 10)
	v.SetDefault("escalation.error_ceiling", 30)
	v.SetDefault("escalation.duplicate_ceiling", 3)
	v.SetDefault("escalation.container", "")
	v.SetDefault("escalation.restart_binary", "docker")
	v.SetDefault("escalation.restart_timeout_seconds", 120)
	v.SetDefault("snapshot.dir", ".")
	v.SetDefault("snapshot.path", "leaderboard.json")
	v.SetDefault("screenshot.enabled", true)
	v.SetDefault("screenshot.dir", ".")
	v.SetDefault("screenshot.path", "stream/page.jpg")
	v.SetDefault("screenshot.interval_ms", 1000)
	v.SetDefault("db.table", "leaderboard_entries")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.ensure_schema", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "leaderboard-updates")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "")
	v.SetDefault("gcs.object", "latest.json")
	v.SetDefault("gcs.history", false)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("startup.purge_temp", true)
	v.SetDefault("startup.temp_patterns", []string{"/tmp/lighthouse.*", "/tmp/puppeteer*"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("target.url is required")
	}
	switch c.Target.ExtractMode {
	case "auto", "script", "table":
	default:
		return fmt.Errorf("target.extract_mode must be auto, script, or table")
	}
	switch c.Driver.Kind {
	case DriverHeadless, DriverColly:
	default:
		return fmt.Errorf("driver.kind must be %q or %q", DriverHeadless, DriverColly)
	}
	switch c.Sync.HashScope {
	case "raw", "payload":
	default:
		return fmt.Errorf("sync.hash_scope must be raw or payload")
	}
	if c.Escalation.EmptyCeiling <= 0 || c.Escalation.ErrorCeiling <= 0 {
		return fmt.Errorf("escalation ceilings must be > 0")
	}
	if c.Escalation.DuplicateCeiling < 2 {
		return fmt.Errorf("escalation.duplicate_ceiling must be >= 2")
	}
	if c.Sync.ReloadEveryCycles < 0 {
		return fmt.Errorf("sync.reload_every_cycles must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Screenshot.Enabled && c.Screenshot.IntervalMs <= 0 {
		return fmt.Errorf("screenshot.interval_ms must be > 0 when screenshots are enabled")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// FetchTarget returns the per-cycle URL, falling back to the navigation target.
func (c TargetConfig) FetchTarget() string {
	if c.FetchURL != "" {
		return c.FetchURL
	}
	return c.URL
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func seconds(s int) time.Duration { return time.Duration(s) * time.Second }

// SuccessDelay is the pause after a fresh cycle.
func (c SyncConfig) SuccessDelay() time.Duration { return millis(c.SuccessDelayMs) }

// EmptyDelay is the pause after an empty cycle.
func (c SyncConfig) EmptyDelay() time.Duration { return millis(c.EmptyDelayMs) }

// ErrorDelay is the pause after a failed cycle.
func (c SyncConfig) ErrorDelay() time.Duration { return millis(c.ErrorDelayMs) }

// DuplicateDelay is the pause after unchanged content.
func (c SyncConfig) DuplicateDelay() time.Duration { return millis(c.DuplicateDelayMs) }

// NavTimeout bounds the first navigation.
func (c DriverConfig) NavTimeout() time.Duration { return seconds(c.NavTimeoutSeconds) }

// FetchTimeout bounds a single fetch.
func (c DriverConfig) FetchTimeout() time.Duration { return seconds(c.FetchTimeoutSeconds) }

// ReloadTimeout bounds a forced reload.
func (c DriverConfig) ReloadTimeout() time.Duration { return seconds(c.ReloadTimeoutSeconds) }

// RestartTimeout bounds the container restart command.
func (c EscalationConfig) RestartTimeout() time.Duration { return seconds(c.RestartTimeoutSeconds) }

// Interval is the capture period.
func (c ScreenshotConfig) Interval() time.Duration { return millis(c.IntervalMs) }

// MaxConnLifetime is the pool's connection lifetime.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeMinutes) * time.Minute
}
