// Package config provides configuration management for streamforge using Viper.
// It supports configuration from files, environment variables, and defaults.
//
// Process-level bootstrap configuration (data directory, database DSN, logging)
// lives here; runtime knobs such as the server port, the match threshold, and
// the EPG refresh schedule live in the settings table and are read through
// repository.SettingRepository.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 5004
	defaultReadTimeout     = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultProviderTimeout = 10 * time.Second
	defaultPrefillBytes    = 2 * 1024 * 1024
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Provider ProviderConfig `mapstructure:"provider"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

// ServerConfig holds HTTP server configuration.
// The listener always binds to loopback; only the port is configurable, and the
// effective port is re-read from the settings table at startup.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds the application data directory.
// The credential salt and the fallback database live under it.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProviderConfig holds upstream provider client configuration.
type ProviderConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StreamConfig holds stream proxy tuning.
type StreamConfig struct {
	// FFmpegPath is the remuxer binary path (empty = look up "ffmpeg" in PATH).
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	// PrefillBytes is how many bytes must accumulate before the client sees data.
	PrefillBytes int64 `mapstructure:"prefill_bytes"`
	// StallDetect is how long without upstream data before a stream counts as stalled.
	StallDetect time.Duration `mapstructure:"stall_detect"`
	// FailoverTrigger is how long without upstream data before failover fires.
	FailoverTrigger time.Duration `mapstructure:"failover_trigger"`
	// HealthPoll is the health monitor tick interval.
	HealthPoll time.Duration `mapstructure:"health_poll"`
	// ConnectTimeout bounds each backup connection attempt.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// ReadTimeout is the upstream dead-man read timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// UpgradeRetryAfter is the cool-down before retrying the primary from a backup.
	UpgradeRetryAfter time.Duration `mapstructure:"upgrade_retry_after"`
}

// SetDefaults sets default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.data_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("provider.timeout", defaultProviderTimeout)
	v.SetDefault("provider.user_agent", "")

	v.SetDefault("stream.ffmpeg_path", "")
	v.SetDefault("stream.prefill_bytes", defaultPrefillBytes)
	v.SetDefault("stream.stall_detect", 3*time.Second)
	v.SetDefault("stream.failover_trigger", 5*time.Second)
	v.SetDefault("stream.health_poll", time.Second)
	v.SetDefault("stream.connect_timeout", time.Second)
	v.SetDefault("stream.read_timeout", 5*time.Second)
	v.SetDefault("stream.upgrade_retry_after", time.Minute)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with STREAMFORGE_, using underscores for nesting.
// Example: STREAMFORGE_SERVER_PORT=5004.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/streamforge")
		v.AddConfigPath("$HOME/.streamforge")
	}

	v.SetEnvPrefix("STREAMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.ApplyDataDir(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDataDir resolves the data directory, creates it if needed, and derives
// the database DSN from it when no explicit DSN was configured.
func (c *Config) ApplyDataDir() error {
	if c.Storage.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("resolving user config dir: %w", err)
		}
		c.Storage.DataDir = filepath.Join(base, "streamforge")
	}

	if err := os.MkdirAll(c.Storage.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	if c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(c.Storage.DataDir, "streamforge.db")
	}

	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1024, 65535], got %d", c.Server.Port)
	}
	if c.Stream.PrefillBytes < 0 {
		return fmt.Errorf("stream.prefill_bytes must be >= 0")
	}
	if c.Stream.StallDetect <= 0 || c.Stream.FailoverTrigger <= 0 {
		return fmt.Errorf("stream stall_detect and failover_trigger must be positive")
	}
	if c.Stream.FailoverTrigger < c.Stream.StallDetect {
		return fmt.Errorf("stream.failover_trigger must be >= stream.stall_detect")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
