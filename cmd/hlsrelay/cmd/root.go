// Package cmd implements the CLI commands for hlsrelay.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/hlsrelay/internal/config"
	"github.com/jmylchreest/hlsrelay/internal/observability"
	"github.com/jmylchreest/hlsrelay/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// cfg is the loaded configuration, resolved in PersistentPreRunE before
	// any subcommand runs.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hlsrelay",
	Short:   "On-demand HLS relay for a single remote or local source",
	Version: version.Short(),
	Long: `hlsrelay demuxes a remote or local source video, transcodes or remuxes it
to H.264+AAC MPEG-TS, and serves it as a live-growing HLS playlist that
tolerates in-progress transcoding.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if logFormat != "" {
			loaded.Logging.Format = logFormat
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
		cfg = loaded

		logger := observability.NewLogger(cfg.Logging)
		observability.SetDefault(logger)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/hlsrelay)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
}
