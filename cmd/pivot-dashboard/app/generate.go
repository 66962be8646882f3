package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	dashboardapp "github.com/pivot-analyzer/pivot-dashboard/internal/app"
	"github.com/pivot-analyzer/pivot-dashboard/internal/artifact"
	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/logging"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the dashboard once and exit",
	Long: `Run the analyzer for every configured asset, render dashboard.html into the
output directory and exit. The command exits non-zero when the generation
fails, leaving any existing dashboard untouched.`,
	RunE: runGenerate,
}

func init() {
	flags := generateCmd.Flags()
	flags.String(config.KeyOutputDir, config.DefaultOutputDir, "Directory the dashboard is written to")
	flags.String(config.KeyAnalyzerCommand, "", "Analyzer executable invoked once per asset")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Both commands define these flags; bind the ones of the running command
	for _, key := range []string{config.KeyOutputDir, config.KeyAnalyzerCommand} {
		if err := settings.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", key, err)
		}
	}

	cfg, err := loadConfiguration(settings)
	if err != nil {
		return err
	}
	configureLogging(cfg)

	return generateOnce(ctx, cfg, slog.Default())
}

// generateOnce runs a single generation into the configured output directory
func generateOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store := artifact.NewStore(cfg.OutputDir, cfg.CacheDir)
	if err := store.EnsureLayout(); err != nil {
		return err
	}

	gen, err := dashboardapp.BuildGenerator(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to build generator: %w", err)
	}

	result, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	logging.Success(ctx, logger, "Dashboard generated",
		"path", store.Path(artifact.CanonicalName),
		"summary", result.Headline())
	for _, a := range result.Alerts() {
		logger.WarnContext(ctx, "Active context alert", "asset", a.AssetID, "alert", a.Alert.Type)
	}
	return nil
}
