// Package config handles the gateway configuration: the local application
// file (YAML) and the core-issued configuration document (JSON, fetched from
// a file or an HTTP endpoint).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the local application configuration. Trading parameters live in
// the core document (see Document); this file only points at it and tunes
// process-level concerns.
type Config struct {
	ConfigSource string        `yaml:"config_source"`
	LogLevel     string        `yaml:"log_level"`
	Cache        CacheConfig   `yaml:"cache"`
	Metrics      MetricsConfig `yaml:"metrics"`
	Alerts       AlertsConfig  `yaml:"alerts"`
}

// CacheConfig selects the backing store for the order registry.
type CacheConfig struct {
	Driver     string `yaml:"driver"`
	RedisAddr  string `yaml:"redis_addr"`
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig controls the operational HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// AlertsConfig holds optional notification channels for fatal conditions.
type AlertsConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// Registry store drivers.
const (
	CacheDriverRedis  = "redis"
	CacheDriverSQLite = "sqlite"
	CacheDriverMemory = "memory"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads the local configuration from a YAML file with environment
// variable expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheDriverRedis
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "127.0.0.1:6379"
	}
	if c.Cache.SQLitePath == "" {
		c.Cache.SQLitePath = "./flashgate.db"
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9100"
	}
}

// Validate checks the local configuration for structural problems.
func (c *Config) Validate() error {
	if c.ConfigSource == "" {
		return ValidationError{
			Field:   "config_source",
			Message: "a file path or http(s) URL for the core config document is required",
		}
	}

	switch c.Cache.Driver {
	case CacheDriverRedis:
		if c.Cache.RedisAddr == "" {
			return ValidationError{
				Field:   "cache.redis_addr",
				Message: "redis address is required for the redis cache driver",
			}
		}
	case CacheDriverSQLite:
		if c.Cache.SQLitePath == "" {
			return ValidationError{
				Field:   "cache.sqlite_path",
				Message: "database path is required for the sqlite cache driver",
			}
		}
	case CacheDriverMemory:
	default:
		return ValidationError{
			Field:   "cache.driver",
			Value:   c.Cache.Driver,
			Message: fmt.Sprintf("must be one of: %s, %s, %s", CacheDriverRedis, CacheDriverSQLite, CacheDriverMemory),
		}
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return ValidationError{
			Field:   "metrics.listen_addr",
			Message: "listen address is required when metrics are enabled",
		}
	}

	return nil
}

// String returns the configuration with sensitive values masked.
func (c *Config) String() string {
	configCopy := *c
	configCopy.Alerts.SlackWebhook = maskString(c.Alerts.SlackWebhook)
	configCopy.Alerts.TelegramToken = maskString(c.Alerts.TelegramToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
