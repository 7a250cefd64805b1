// Package bootstrap assembles the process-level pieces every gateway binary
// shares: local configuration, logging, telemetry and alerting, plus the
// signal-driven run loop that supervises the long-lived components.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flashgate/internal/alert"
	"flashgate/internal/core"
	"flashgate/pkg/logging"
	"flashgate/pkg/telemetry"
)

const closeTimeout = 5 * time.Second

// App holds the ambient dependencies of the gateway process.
type App struct {
	Cfg       *Config
	Logger    core.ILogger
	Telemetry *telemetry.Telemetry
	Alerts    *alert.AlertManager

	zap *logging.ZapLogger
}

// NewApp loads configuration and brings up telemetry, logging and alerting,
// in that order.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tel, err := telemetry.Setup("flashgate")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	alerts := alert.NewAlertManager(logger)
	if cfg.Alerts.SlackWebhook != "" {
		alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhook))
	}
	if cfg.Alerts.TelegramToken != "" && cfg.Alerts.TelegramChatID != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID))
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
		Alerts:    alerts,
		zap:       logger,
	}, nil
}

// Runner is a long-lived component driven by the app lifecycle.
type Runner interface {
	Run(ctx context.Context) error
}

// Run supervises the runners until one fails or a termination signal
// arrives. Context cancellation from a signal is a clean shutdown, not an
// error.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting gateway")
	for _, runner := range runners {
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Gateway stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Gateway shut down cleanly")
	return nil
}

// Close flushes alerting and telemetry. Call it last, after every component
// has stopped.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := a.Alerts.Flush(ctx); err != nil {
		a.Logger.Warn("Some alerts were still in flight at shutdown", "error", err)
	}
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
	_ = a.zap.Sync()
}
