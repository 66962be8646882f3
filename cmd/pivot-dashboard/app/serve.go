package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	dashboardapp "github.com/pivot-analyzer/pivot-dashboard/internal/app"
	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard server",
	Long: `Start the dashboard server.

The server writes a placeholder dashboard if none exists, runs one generation
synchronously, then serves the output directory while regenerating the
dashboard in the background. A failed generation never stops the server;
the previous dashboard keeps being served.

Settings come from the optional configuration file (--config), overridden by
flags and PIVOT_DASHBOARD_* environment variables. PORT is also honoured.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout   = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func init() {
	flags := serveCmd.Flags()
	flags.Int(config.KeyPort, config.DefaultPort, "Port the content server listens on")
	flags.String(config.KeyOutputDir, config.DefaultOutputDir, "Directory served over HTTP")
	flags.String(config.KeyCacheDir, config.DefaultCacheDir, "Directory for status and lock files")
	flags.String(config.KeyRegenerationInterval, config.DefaultRegenerationInterval.String(),
		"Wait between successful generations")
	flags.String(config.KeyRetryInterval, config.DefaultRetryInterval.String(), "Wait after a failed generation")
	flags.String(config.KeyAdminAddress, "", "Address of the admin listener (empty disables it)")
	flags.String(config.KeyAnalyzerCommand, "", "Analyzer executable invoked once per asset")

	for _, key := range []string{
		config.KeyPort,
		config.KeyOutputDir,
		config.KeyCacheDir,
		config.KeyRegenerationInterval,
		config.KeyRetryInterval,
		config.KeyAdminAddress,
		config.KeyAnalyzerCommand,
	} {
		if err := settings.BindPFlag(key, flags.Lookup(key)); err != nil {
			slog.Error("Error binding flag", "flag", key, "error", err)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfiguration(settings)
	if err != nil {
		return err
	}
	configureLogging(cfg)

	tel, err := telemetry.New(ctx,
		telemetry.WithTelemetryConfig(cfg.Telemetry),
		telemetry.WithDashboard(cfg.OutputDir, cfg.Assets, cfg.GetRegenerationInterval()),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	dashboard, err := dashboardapp.NewDashboardApp(ctx,
		dashboardapp.WithConfig(cfg),
		dashboardapp.WithTelemetry(tel),
		dashboardapp.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to create dashboard application: %w", err)
	}

	// Register before Start so a signal during the bootstrap generation is not lost
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	errCh := make(chan error, 1)
	go func() {
		errCh <- dashboard.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dashboard server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		slog.Warn("Received shutdown signal", "signal", sig.String())
	}

	if err := dashboard.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(defaultGracefulTimeout):
		return fmt.Errorf("dashboard server did not stop within %s", defaultGracefulTimeout)
	}
}
