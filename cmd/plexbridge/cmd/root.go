// Package cmd implements the CLI commands for plexbridge.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/plexbridge/plexbridge/internal/config"
	"github.com/plexbridge/plexbridge/internal/observability"
	"github.com/plexbridge/plexbridge/internal/version"
)

// cfgFile holds the config file path from the --config flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "plexbridge",
	Short:   "IPTV to HDHomeRun bridge for Plex",
	Version: version.Short(),
	Long: `plexbridge makes arbitrary IPTV streams appear to Plex as an
HDHomeRun network tuner with an XMLTV program guide.

It emulates the HDHomeRun discovery and lineup API, relays or transcodes
upstream streams on demand, and serves guide data ingested from XMLTV
feeds on a refresh schedule.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// These flags are not bound to viper: Changed() gates the override so
	// the priority stays CLI flag > env var > config file > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/plexbridge)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initLogging builds the default slog logger before any command runs.
// Commands that load the full config replace it with the configured one.
func initLogging() error {
	level := os.Getenv("PLEXBRIDGE_LOGGING_LEVEL")
	format := os.Getenv("PLEXBRIDGE_LOGGING_FORMAT")

	if v, ok := stringFlag(rootCmd.PersistentFlags(), "log-level"); ok {
		level = v
	}
	if v, ok := stringFlag(rootCmd.PersistentFlags(), "log-format"); ok {
		format = v
	}

	logCfg := config.LoggingConfig{
		Level:  strings.ToLower(level),
		Format: strings.ToLower(format),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// logOverrides applies --log-level/--log-format on top of a loaded config.
func logOverrides(cfg *config.Config) {
	if v, ok := stringFlag(rootCmd.PersistentFlags(), "log-level"); ok {
		cfg.Logging.Level = v
	}
	if v, ok := stringFlag(rootCmd.PersistentFlags(), "log-format"); ok {
		cfg.Logging.Format = v
	}
}

// stringFlag returns a flag's value only when the user set it explicitly,
// so flag defaults never shadow env vars or config file values.
func stringFlag(fs *pflag.FlagSet, name string) (string, bool) {
	if !fs.Changed(name) {
		return "", false
	}
	v, _ := fs.GetString(name)
	return v, true
}
