package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/detoxmine/internal/api"
	"github.com/goodtune/detoxmine/internal/clock"
	"github.com/goodtune/detoxmine/internal/config"
	"github.com/goodtune/detoxmine/internal/goal"
	"github.com/goodtune/detoxmine/internal/metrics"
	"github.com/goodtune/detoxmine/internal/storage/bolt"
	"github.com/goodtune/detoxmine/internal/systemd"
	"github.com/goodtune/detoxmine/internal/usage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// dumpSettleDelay is how long a usage dump must stay untouched before it is read.
const dumpSettleDelay = 500 * time.Millisecond

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start DetoxMine server",
	Long:  `Start the DetoxMine server with the usage engine, goal rollover, API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting DetoxMine")

	loc, err := cfg.Usage.Location()
	if err != nil {
		return err
	}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store, err := bolt.Open(cfg.Storage.Path, cfg.Storage.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("path", cfg.Storage.Path).Msg("Storage initialized")

	// Initialize usage provider. A provider that fails to load leaves the
	// engine without capabilities; it then reports empty usage.
	prov, err := openProvider(cfg, loc, logger)
	if err != nil {
		logger.Error().Err(err).Str("type", cfg.Provider.Type).Msg("Usage provider unavailable")
		prov = &usageProvider{}
	}
	defer func() {
		if err := prov.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close usage provider")
		}
	}()

	logger.Info().
		Str("type", cfg.Provider.Type).
		Interface("capabilities", prov.caps.Available()).
		Msg("Usage provider initialized")

	// Initialize goal service and usage engine
	goals := goal.NewService(store.Goals(), nil, logger)
	goals.SetLocation(loc)
	engine := usage.NewEngine(prov.caps, engineConfig(cfg, loc), logger,
		usage.WithRecorder(store.Snapshots()),
	)

	go engine.Run(ctx, config.Duration(cfg.Usage.PollInterval))

	if prov.file != nil && cfg.Provider.File.Watch {
		err := prov.file.Watch(ctx, dumpSettleDelay, func() {
			if engine.OnResume(ctx) == usage.PermissionGranted {
				engine.RefreshStats(ctx)
			}
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to watch usage dump, relying on polling")
		}
	}

	// Initialize rollover scheduler
	rollover, err := usage.NewRolloverScheduler(store.Snapshots(), goals, cfg.Rollover.Time, cfg.Storage.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rollover scheduler: %w", err)
	}
	rollover.SetClock(clock.RealClock{}, loc)
	rollover.Start()

	logger.Info().
		Str("time", cfg.Rollover.Time).
		Int("retention_days", cfg.Storage.RetentionDays).
		Msg("Rollover scheduler started")

	// Initialize API Server
	apiConfig := api.Config{
		ListenAddr: fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort),
		Debug:      cfg.Server.Debug,
	}
	apiServer := api.NewServer(apiConfig, api.NewHandler(engine, goals, store.Snapshots()), logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	logger.Info().
		Str("addr", apiConfig.ListenAddr).
		Bool("debug", apiConfig.Debug).
		Msg("API Server started")

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, func() error {
		_, err := store.Snapshots().List(ctx, "", "")
		return err
	}, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	logger.Info().Msg("DetoxMine startup complete")

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or refresh)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, refreshing usage")
			engine.OnResume(ctx)
			engine.RefreshStats(ctx)
			continue
		}
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	cancel()
	rollover.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("DetoxMine stopped")

	return nil
}
