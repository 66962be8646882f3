// Package main is the entry point for the pivot dashboard server.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/pivot-analyzer/pivot-dashboard/cmd/pivot-dashboard/app"
	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/logging"
)

// getLogLevel parses PIVOT_DASHBOARD_LOG_LEVEL and returns the corresponding slog.Level.
// Falls back to LOG_LEVEL; defaults to info when neither is set or the value is invalid.
func getLogLevel(v *viper.Viper) slog.Level {
	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	level, ok := logging.ParseLevel(levelStr)
	if !ok {
		slog.Warn("Invalid LOG_LEVEL, using INFO", "value", levelStr)
	}
	return level
}

func getLogFormat(v *viper.Viper) string {
	if format := v.GetString("LOG_FORMAT"); format == logging.FormatText {
		return format
	}
	return logging.FormatJSON
}

func main() {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Logs go to stderr so stdout stays clean for `version --format json`
	handler := logging.NewHandler(
		logging.WithLevel(getLogLevel(v)),
		logging.WithFormat(getLogFormat(v)),
	)
	slog.SetDefault(slog.New(handler))

	if err := app.NewRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
