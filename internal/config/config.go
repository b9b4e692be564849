package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Usage    UsageConfig    `mapstructure:"usage"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Rollover RolloverConfig `mapstructure:"rollover"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	Debug       bool   `mapstructure:"debug"` // exposes /api/v1/debug
}

// ProviderConfig selects the usage-stats provider
type ProviderConfig struct {
	Type     string      `mapstructure:"type"` // "redis", "file" or "none"
	DeviceID string      `mapstructure:"device_id"`
	Redis    RedisConfig `mapstructure:"redis"`
	File     FileConfig  `mapstructure:"file"`
}

// RedisConfig defines the connection to the device agent's Redis
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// FileConfig defines the exported usage dump location
type FileConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"` // refresh when the dump changes
}

// UsageConfig defines usage engine behaviour
type UsageConfig struct {
	PollInterval string `mapstructure:"poll_interval"`
	RecheckDelay string `mapstructure:"recheck_delay"`
	QueryTimeout string `mapstructure:"query_timeout"` // empty means no timeout
	Timezone     string `mapstructure:"timezone"`      // IANA name, empty means local
}

// StorageConfig defines snapshot and goal persistence
type StorageConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
	CacheSize     int    `mapstructure:"cache_size"`
}

// RolloverConfig defines the daily goal reporting job
type RolloverConfig struct {
	Time string `mapstructure:"time"` // HH:MM local time
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DETOXMINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// isNotFound reports whether err means the config file does not exist.
// viper returns ConfigFileNotFoundError only when searching config paths; an
// explicit SetConfigFile yields a plain fs error instead.
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.debug", false)

	// Provider defaults
	v.SetDefault("provider.type", "redis")
	v.SetDefault("provider.device_id", "default")
	v.SetDefault("provider.redis.host", "127.0.0.1")
	v.SetDefault("provider.redis.port", 6379)
	v.SetDefault("provider.redis.password", "")
	v.SetDefault("provider.redis.db", 0)
	v.SetDefault("provider.redis.pool_size", 10)
	v.SetDefault("provider.redis.min_idle_conns", 2)
	v.SetDefault("provider.redis.dial_timeout", "5s")
	v.SetDefault("provider.redis.read_timeout", "3s")
	v.SetDefault("provider.redis.write_timeout", "3s")
	v.SetDefault("provider.file.path", "/var/lib/detoxmine/usage.json")
	v.SetDefault("provider.file.watch", true)

	// Usage defaults
	v.SetDefault("usage.poll_interval", "5m")
	v.SetDefault("usage.recheck_delay", "1s")
	v.SetDefault("usage.query_timeout", "")
	v.SetDefault("usage.timezone", "")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/detoxmine/detoxmine.bolt")
	v.SetDefault("storage.retention_days", 90)
	v.SetDefault("storage.cache_size", 32)

	// Rollover defaults
	v.SetDefault("rollover.time", "00:05")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Provider.Type {
	case "redis":
		if cfg.Provider.Redis.Host == "" {
			return fmt.Errorf("provider.redis.host is required")
		}
	case "file":
		if cfg.Provider.File.Path == "" {
			return fmt.Errorf("provider.file.path is required")
		}
	case "none":
	default:
		return fmt.Errorf("unsupported provider type: %s (must be redis, file or none)", cfg.Provider.Type)
	}

	if cfg.Provider.DeviceID == "" {
		return fmt.Errorf("provider.device_id is required")
	}

	for key, value := range map[string]string{
		"usage.poll_interval": cfg.Usage.PollInterval,
		"usage.recheck_delay": cfg.Usage.RecheckDelay,
		"usage.query_timeout": cfg.Usage.QueryTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if _, err := cfg.Usage.Location(); err != nil {
		return err
	}

	if _, err := time.Parse("15:04", cfg.Rollover.Time); err != nil {
		return fmt.Errorf("invalid rollover.time %q (want HH:MM): %w", cfg.Rollover.Time, err)
	}

	if cfg.Storage.RetentionDays <= 0 {
		return fmt.Errorf("storage.retention_days must be positive")
	}

	// Validate storage path
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	// Ensure storage directory exists
	storageDir := filepath.Dir(cfg.Storage.Path)
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	return nil
}

// Location returns the zone that defines a usage day.
func (u UsageConfig) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid usage.timezone %q: %w", u.Timezone, err)
	}
	return loc, nil
}

// Duration parses an optional duration setting. Empty values yield zero.
func Duration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
