package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig selects the store driver and data source.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// SyncConfig controls scheduling and bounds of mailbox sync runs.
type SyncConfig struct {
	// IntervalSec is how often each account is synced.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// Window is how many of the most recent messages a run fetches.
	Window int `mapstructure:"window" yaml:"window"`

	// ConnectTimeoutSec bounds dial, greeting and login.
	ConnectTimeoutSec int `mapstructure:"connect_timeout_sec" yaml:"connect_timeout_sec"`

	// FetchTimeoutSec bounds a whole sync run once connected.
	FetchTimeoutSec int `mapstructure:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`

	// StaleAfterSec is how long a "syncing" mark survives before another
	// run may take over (crash recovery).
	StaleAfterSec int `mapstructure:"stale_after_sec" yaml:"stale_after_sec"`

	// FetchBody fetches and stores the plain-text body of new messages.
	FetchBody bool `mapstructure:"fetch_body" yaml:"fetch_body"`
}

// NotifyConfig controls notification delivery.
type NotifyConfig struct {
	SendTimeoutSec int `mapstructure:"send_timeout_sec" yaml:"send_timeout_sec"`
	MaxParallel    int `mapstructure:"max_parallel" yaml:"max_parallel"`

	// DigestSchedule is a cron spec for the daily digest job. Empty
	// disables the job.
	DigestSchedule string `mapstructure:"digest_schedule" yaml:"digest_schedule"`

	// Timezone is the IANA zone used for time-window filters and the
	// digest schedule.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// EnrichmentConfig holds settings for the semantic analysis collaborator.
type EnrichmentConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Provider is "openai" (any OpenAI-compatible API) or "http" (the
	// standalone analysis service).
	Provider   string `mapstructure:"provider" yaml:"provider"`
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Model      string `mapstructure:"model" yaml:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// CredentialsConfig selects the keyring backend for mailbox passwords.
type CredentialsConfig struct {
	// Backend is a keyring backend name ("file", "keychain",
	// "secret-service", "wincred", "pass") or empty for auto-detect.
	Backend  string `mapstructure:"backend" yaml:"backend"`
	FileDir  string `mapstructure:"file_dir" yaml:"file_dir"`
	Password string `mapstructure:"password" yaml:"password"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync"`
	Notify      NotifyConfig      `mapstructure:"notify" yaml:"notify"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment" yaml:"enrichment"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
}

// SyncInterval returns the per-account sync interval.
func (c SyncConfig) SyncInterval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// ConnectTimeout returns the bound on connection setup.
func (c SyncConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// FetchTimeout returns the bound on a connected sync run.
func (c SyncConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// StaleAfter returns how long a syncing mark is honored.
func (c SyncConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSec) * time.Second
}

// SendTimeout returns the bound on a single webhook send.
func (c NotifyConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSec) * time.Second
}

// Location resolves Timezone, falling back to the local zone.
func (c NotifyConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Timeout returns the bound on one analysis call.
func (c EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailwatch/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailwatch", "config.yaml")
}

// defaultDataDir returns ~/.local/share/mailwatch.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "mailwatch")
}

// setDefaults registers every default so missing keys resolve to
// sensible values and environment overrides are recognized.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", filepath.Join(defaultDataDir(), "mailwatch.db"))

	v.SetDefault("sync.interval_sec", 300)
	v.SetDefault("sync.window", 100)
	v.SetDefault("sync.connect_timeout_sec", 10)
	v.SetDefault("sync.fetch_timeout_sec", 60)
	v.SetDefault("sync.stale_after_sec", 900)
	v.SetDefault("sync.fetch_body", true)

	v.SetDefault("notify.send_timeout_sec", 5)
	v.SetDefault("notify.max_parallel", 8)
	v.SetDefault("notify.digest_schedule", "0 9 * * *")
	v.SetDefault("notify.timezone", "")

	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.provider", "openai")
	v.SetDefault("enrichment.base_url", "")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.model", "gpt-4o-mini")
	v.SetDefault("enrichment.timeout_sec", 30)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("credentials.backend", "")
	v.SetDefault("credentials.file_dir", filepath.Join(defaultDataDir(), "credentials"))
	v.SetDefault("credentials.password", "")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Every key can be overridden by a MAILWATCH_ prefixed environment
// variable (e.g. MAILWATCH_SYNC_WINDOW). A missing file is not an error.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges that would otherwise fail at runtime.
func (c *AppConfig) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Sync.IntervalSec <= 0 {
		return fmt.Errorf("sync.interval_sec must be positive")
	}
	if c.Sync.Window <= 0 {
		return fmt.Errorf("sync.window must be positive")
	}
	if c.Sync.ConnectTimeoutSec <= 0 || c.Sync.FetchTimeoutSec <= 0 {
		return fmt.Errorf("sync timeouts must be positive")
	}
	if c.Notify.SendTimeoutSec <= 0 {
		return fmt.Errorf("notify.send_timeout_sec must be positive")
	}
	if c.Enrichment.Enabled {
		switch c.Enrichment.Provider {
		case "openai", "http":
		default:
			return fmt.Errorf("enrichment.provider must be openai or http, got %q", c.Enrichment.Provider)
		}
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("sync", cfg.Sync)
	v.Set("notify", cfg.Notify)
	v.Set("enrichment", cfg.Enrichment)
	v.Set("http", cfg.HTTP)
	v.Set("log", cfg.Log)
	v.Set("credentials", cfg.Credentials)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
