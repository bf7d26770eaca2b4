package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// explicit path is given.
const DefaultFile = "hivemind.yml"

// EnvPrefix prefixes environment overrides: worker.type -> HIVEMIND_WORKER_TYPE.
const EnvPrefix = "HIVEMIND"

// Config represents the top-level hivemind.yml configuration
type Config struct {
	Version string        `mapstructure:"version" yaml:"version"`
	Worker  WorkerConfig  `mapstructure:"worker" yaml:"worker"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Ingest  IngestConfig  `mapstructure:"ingest" yaml:"ingest"`
}

// WorkerConfig identifies the worker using the knowledge client
type WorkerConfig struct {
	Type       string `mapstructure:"type" yaml:"type"`
	InstanceID string `mapstructure:"instance_id" yaml:"instance_id"`
}

// GatewayConfig points the client at a knowledge service
type GatewayConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// RetryConfig bounds the client's retry buffer
type RetryConfig struct {
	Capacity    int           `mapstructure:"capacity" yaml:"capacity"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"` // RunRetryLoop base interval
}

// EventsConfig bounds the event overflow list
type EventsConfig struct {
	OverflowCapacity int `mapstructure:"overflow_capacity" yaml:"overflow_capacity"`
}

// ServerConfig configures the reference knowledge server
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// RedisConfig configures the store behind the server
type RedisConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	MaxScan   int    `mapstructure:"max_scan" yaml:"max_scan"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// IngestConfig bounds bulk ingestion
type IngestConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

// defaults holds every key with its default value.
var defaults = map[string]any{
	"version":                  "1",
	"worker.type":              "",
	"worker.instance_id":       "",
	"gateway.url":              "http://localhost:8700",
	"gateway.timeout":          "10s",
	"retry.capacity":           100,
	"retry.max_attempts":       3,
	"retry.interval":           "30s",
	"events.overflow_capacity": 500,
	"server.addr":              ":8700",
	"server.read_timeout":      "10s",
	"server.write_timeout":     "10s",
	"redis.url":                "redis://localhost:6379/0",
	"redis.namespace":          "default",
	"redis.max_scan":           1000,
	"logging.level":            "info",
	"logging.format":           "text",
	"ingest.max_bytes":         10 << 20,
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads and validates the configuration.
//
// With an empty path, DefaultFile is looked up in the working directory and
// its absence is not an error. An explicit path must exist. Environment
// overrides apply in both cases. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yml"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("built-in defaults are invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Version != "1" {
		return fmt.Errorf("unsupported version: %s (expected: 1)", c.Version)
	}

	if err := validateURL("gateway.url", c.Gateway.URL, "http", "https"); err != nil {
		return err
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be > 0, got %s", c.Gateway.Timeout)
	}

	if c.Retry.Capacity < 1 {
		return fmt.Errorf("retry.capacity must be >= 1, got %d", c.Retry.Capacity)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Interval <= 0 {
		return fmt.Errorf("retry.interval must be > 0, got %s", c.Retry.Interval)
	}
	if c.Events.OverflowCapacity < 1 {
		return fmt.Errorf("events.overflow_capacity must be >= 1, got %d", c.Events.OverflowCapacity)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if err := validateURL("redis.url", c.Redis.URL, "redis", "rediss"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Redis.Namespace) == "" {
		return fmt.Errorf("redis.namespace is required")
	}
	if strings.ContainsAny(c.Redis.Namespace, ": ") {
		return fmt.Errorf("redis.namespace must not contain ':' or spaces: %q", c.Redis.Namespace)
	}
	if c.Redis.MaxScan < 1 {
		return fmt.Errorf("redis.max_scan must be >= 1, got %d", c.Redis.MaxScan)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be 'text' or 'json')", c.Logging.Format)
	}

	if c.Ingest.MaxBytes < 1 {
		return fmt.Errorf("ingest.max_bytes must be >= 1, got %d", c.Ingest.MaxBytes)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (scheme must be one of %s)", field, raw, strings.Join(schemes, ", "))
}

// WriteDefault writes a default configuration file to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
