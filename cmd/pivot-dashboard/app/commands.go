// Package app provides the command line interface of the pivot dashboard.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/logging"
	"github.com/pivot-analyzer/pivot-dashboard/internal/versions"
)

// keyConfig is the viper key of the configuration file path
const keyConfig = "config"

// settings carries flag and environment values; explicitly set keys
// override the configuration file
var settings = config.NewViper()

var rootCmd = &cobra.Command{
	Use:               "pivot-dashboard",
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Short:             "Crypto pivot analysis dashboard server",
	Long: `pivot-dashboard periodically runs the pivot analyzer for the configured assets,
renders the results into a static dashboard.html and serves it over HTTP with
caching disabled, so every request sees the latest generation.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String(keyConfig, "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().String(config.KeyLogLevel, "", "Log level (debug, info, success, warn, error)")
	rootCmd.PersistentFlags().String(config.KeyLogFormat, "", "Log format (json, text)")

	for _, key := range []string{keyConfig, config.KeyLogLevel, config.KeyLogFormat} {
		if err := settings.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			slog.Error("Error binding flag", "flag", key, "error", err)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("error retrieving format flag: %w", err)
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("error formatting version info as JSON: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return err
		}

		slog.Info("pivot-dashboard version",
			"version", info.Version,
			"commit", info.Commit,
			"built", info.BuildDate,
			"go", info.GoVersion,
			"platform", info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}

// loadConfiguration reads the optional config file named by v and overlays
// the flags and environment variables set in v
func loadConfiguration(v *viper.Viper) (*config.Config, error) {
	path := v.GetString(keyConfig)
	cfg, err := config.LoadConfig(config.WithConfigPath(path), config.WithViper(v))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if path != "" {
		slog.Info("Loaded configuration", "path", path)
	}
	return cfg, nil
}

// configureLogging replaces the default logger when the configuration
// carries log settings
func configureLogging(cfg *config.Config) {
	if cfg.Log == nil {
		return
	}
	level, ok := logging.ParseLevel(cfg.GetLogLevel())
	if !ok {
		slog.Warn("Invalid log level, using INFO", "value", cfg.GetLogLevel())
	}
	slog.SetDefault(slog.New(logging.NewHandler(
		logging.WithLevel(level),
		logging.WithFormat(cfg.GetLogFormat()),
	)))
}
