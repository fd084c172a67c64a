package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvalvano/telegrab/internal/logger"
	"github.com/mvalvano/telegrab/internal/telemetry"
	"github.com/mvalvano/telegrab/pkg/admission"
	"github.com/mvalvano/telegrab/pkg/api"
	"github.com/mvalvano/telegrab/pkg/bot"
	"github.com/mvalvano/telegrab/pkg/config"
	"github.com/mvalvano/telegrab/pkg/login"
	"github.com/mvalvano/telegrab/pkg/metrics"
	"github.com/mvalvano/telegrab/pkg/pipeline"
	"github.com/mvalvano/telegrab/pkg/sessions"
	"github.com/mvalvano/telegrab/pkg/store"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the telegrab bot",
	Long: `Start the telegrab bot with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/telegrab/config.yaml.

Examples:
  # Start with default config location
  telegrab start

  # Start with custom config file
  telegrab start --config /etc/telegrab/config.yaml

  # Start with environment variable overrides
  TELEGRAB_LOGGING_LEVEL=DEBUG telegrab start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing and profiling (both no-ops when disabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "telegrab",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "telegrab",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Metrics must be initialized before any component builds its metric
	// set, or they end up as nil no-ops.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled")
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("Store initialized", "type", cfg.Database.Type)

	// Platform connections come from the registered driver.
	drv, err := telegram.OpenDriver(cfg.Telegram.Driver)
	if err != nil {
		return err
	}
	clientCfg := telegram.ClientConfig{
		APIID:    cfg.Telegram.APIID,
		APIHash:  cfg.Telegram.APIHash,
		BotToken: cfg.Telegram.BotToken,
	}
	botClient, updates, err := drv.OpenBot(ctx, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to connect bot account: %w", err)
	}
	connector, err := drv.OpenConnector(ctx, clientCfg)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	logger.Info("Bot account connected")

	adm := admission.NewController(admission.Config{
		MaxDownloads: cfg.Limits.MaxConcurrentDownloads,
		MaxUploads:   cfg.Limits.MaxConcurrentUploads,
	})

	reg := sessions.NewRegistry(connector, sessions.Config{
		IdleTTL:       cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
	})
	reg.SetMetrics(metrics.NewSessionMetrics())
	go reg.Run(ctx)

	loginMgr := login.NewManager(connector, st, botClient, login.Config{
		IdleTTL:       cfg.Login.IdleTTL,
		SweepInterval: cfg.Login.SweepInterval,
	})
	loginMgr.SetMetrics(metrics.NewLoginMetrics())
	go loginMgr.Run(ctx)

	pipe := pipeline.New(botClient, reg, adm, st, metrics.NewTransferMetrics(), pipeline.Config{
		DownloadDir:    cfg.Downloads.Dir,
		FreeDailyQuota: cfg.Limits.FreeDailyQuota,
		BatchMax:       cfg.Limits.BatchMax,
		BatchDelay:     cfg.Limits.BatchDelay,
	})

	router := bot.NewRouter(botClient, pipe, loginMgr, reg, adm, st, bot.Config{
		OwnerID: cfg.Telegram.OwnerID,
	})

	// Operational HTTP server (health probes, metrics)
	apiDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, api.Stats{
			Store:           st,
			Sessions:        reg.Size,
			Handshakes:      loginMgr.Size,
			ActiveTransfers: adm.ActiveCount,
		})
		go func() {
			apiDone <- apiServer.Start(ctx)
		}()
		logger.Info("API server enabled", "port", apiServer.Port())
	} else {
		logger.Info("API server disabled")
	}

	routerDone := make(chan struct{})
	go func() {
		router.Run(ctx, updates)
		close(routerDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bot is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
	case <-routerDone:
		signal.Stop(sigChan)
		logger.Info("Update stream closed, shutting down")
		cancel()
	}

	// Wait for in-flight handlers, bounded by the shutdown timeout.
	shutdownTimer := make(chan struct{})
	go func() {
		<-routerDone
		close(shutdownTimer)
	}()
	select {
	case <-shutdownTimer:
		logger.Info("All handlers drained")
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, exiting with handlers in flight")
	}

	if cfg.API.IsEnabled() {
		if err := <-apiDone; err != nil {
			logger.Error("API server error", "error", err)
		}
	}

	logger.Info("Bot stopped")
	return nil
}
