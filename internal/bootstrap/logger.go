package bootstrap

import (
	"flashgate/pkg/logging"
)

// InitLogger builds the process logger from the configured level and
// installs it as the package-level default. Telemetry must be set up first:
// the zap OTel bridge captures the global logger provider at construction.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
