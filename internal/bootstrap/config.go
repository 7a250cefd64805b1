package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flashgate/internal/config"
)

// Config is an alias for the gateway's local configuration struct.
type Config = config.Config

// LoadConfig delegates to the config loader and layers environment checks
// on top of schema validation.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight catches deployment mistakes that schema validation cannot
// see: missing files and half-configured channels.
func checkPreFlight(cfg *Config) error {
	// A file config_source must exist before we commit to starting. HTTP
	// sources are retried by the fetcher instead.
	if !strings.HasPrefix(cfg.ConfigSource, "http://") && !strings.HasPrefix(cfg.ConfigSource, "https://") {
		if _, err := os.Stat(cfg.ConfigSource); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("config_source file not found: %s", cfg.ConfigSource)
			}
			return err
		}
	}

	// The sqlite store creates its database file, but not its directory.
	if cfg.Cache.Driver == config.CacheDriverSQLite {
		dir := filepath.Dir(cfg.Cache.SQLitePath)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("cache.sqlite_path directory does not exist: %s", dir)
		}
	}

	// Telegram needs both halves of the address.
	if (cfg.Alerts.TelegramToken == "") != (cfg.Alerts.TelegramChatID == "") {
		return fmt.Errorf("alerts.telegram_token and alerts.telegram_chat_id must be set together")
	}

	return nil
}
