// Package cmd implements the CLI commands for streamforge.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streamforge/streamforge/internal/config"
	"github.com/streamforge/streamforge/internal/observability"
	"github.com/streamforge/streamforge/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "streamforge",
	Short:   "IPTV to Plex tuner gateway",
	Version: version.Short(),
	Long: `streamforge exposes a fleet of Xtream-Codes IPTV accounts to Plex as a
single HDHomeRun-style network tuner.

It scans provider catalogs, matches streams onto XMLTV guide channels, and
serves the playlist, guide, and per-channel MPEG-TS streams on loopback with
transparent mid-stream failover between providers.

Runtime knobs (port, match threshold, refresh schedule) live in the settings
table; the config file and environment only cover process bootstrap.
Environment variables use the STREAMFORGE_ prefix, e.g. STREAMFORGE_SERVER_PORT.`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/streamforge, $HOME/.streamforge)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads bootstrap configuration and applies CLI flag overrides.
// Flags are not bound to viper so the priority stays flag > env > file >
// default even when a flag sits at its default value.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if rootCmd.PersistentFlags().Changed("log-level") {
		cfg.Logging.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		cfg.Logging.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging builds the redacting logger and installs it as the default.
func setupLogging(cfg *config.Config) {
	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
}
