package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Dozodouzo/gitnotify/internal/api"
	apiv1 "github.com/Dozodouzo/gitnotify/internal/api/v1"
	"github.com/Dozodouzo/gitnotify/internal/config"
	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/notify"
	"github.com/Dozodouzo/gitnotify/internal/registry"
	"github.com/Dozodouzo/gitnotify/internal/state"
	gitsync "github.com/Dozodouzo/gitnotify/internal/sync"
	"github.com/Dozodouzo/gitnotify/internal/sync/coordinator"
	"github.com/Dozodouzo/gitnotify/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the watcher daemon",
	Long: `Start the watcher daemon: poll the configured repositories, announce new
commits to their destinations, and serve the admin API.

The daemon requires a configuration file (--config) declaring the tracked
repositories, their branches, destinations, and format templates. See the
examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 60 * time.Second // an add request clones the repository inline
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 65 * time.Second // must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

// markerStateFile is the marker database, kept next to the mirrors.
const markerStateFile = "state.json"

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"repositories", len(cfg.Repositories),
		"poll_period", cfg.GetPollPeriod().String())

	repoDir := cfg.GetRepoDir()
	if err := os.MkdirAll(repoDir, 0750); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	client := git.NewDefaultClient()
	store := state.NewFileStore(filepath.Join(repoDir, markerStateFile))
	reg := registry.New(client, store)

	// Register the configured repositories up front. A repository whose
	// clone fails is skipped, not fatal; it can be re-added at runtime.
	for _, rc := range cfg.Repositories {
		if err := reg.Bootstrap(ctx, cfg.Repository(rc)); err != nil {
			slog.Error("Failed to register repository", "repository", rc.Name, "error", err)
		}
	}

	telemetryProvider, err := telemetry.NewProvider(cfg.MetricsEnabled())
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	syncMetrics, err := telemetry.NewSyncMetrics(telemetryProvider.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	transport := notify.NewConsoleTransport(os.Stdout)
	dispatcher := notify.NewDispatcher(transport, reg, client)
	engine := gitsync.NewEngine(reg, client, dispatcher)

	scheduler := coordinator.New(engine, reg, coordinator.Config{
		PollPeriod:         cfg.GetPollPeriod(),
		MaxConcurrentSyncs: cfg.GetMaxConcurrentSyncs(),
	}, coordinator.WithSyncMetrics(syncMetrics))

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	go func() {
		if err := scheduler.Start(schedulerCtx); err != nil {
			slog.Error("Poll scheduler failed", "error", err)
		}
	}()

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	}
	if h := telemetryProvider.Handler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}
	router := api.NewServer(apiv1.Router(reg, dispatcher, scheduler, cfg, configPath), serverOpts...)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the daemon
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down...")

	if err := scheduler.Stop(); err != nil {
		slog.Error("Failed to stop poll scheduler", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Shutdown complete")
	return nil
}
