// Package commands implements the soundcheck CLI
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-soundcheck/internal/config"
	"github.com/teslashibe/go-soundcheck/internal/report"
)

// Version is set at build time
var Version = "0.3.0"

var (
	// Global flags
	configPath   string
	debug        bool
	outputFormat string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *slog.Logger
	format report.Format
)

var rootCmd = &cobra.Command{
	Use:   "soundcheck",
	Short: "Speech capture quality and DOA accuracy analysis",
	Long: `soundcheck - align, score and localize speech captures.

Quality analysis aligns each degraded capture to its reference (resampling,
offset trimming and level matching) and scores the aligned pair. DOA
analysis decodes the SSL channel of a capture into azimuth blocks and rates
how consistently it points at one talker.

Configuration is read from a YAML file and SOUNDCHECK_* environment
variables, e.g. SOUNDCHECK_BATCH_WORKERS=8.

Examples:
  # Score every capture in a directory against a reference
  soundcheck quality ref.wav --dir captures/

  # Decode the SSL channel of two recordings as YAML
  soundcheck doa -o yaml left.wav right.wav

  # Record 10 s from the array and evaluate it
  soundcheck live --duration 10s`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debug {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		format, err = report.ParseFormat(outputFormat)
		if err != nil {
			return err
		}

		// Reports own stdout for the one-shot commands
		out := io.Writer(os.Stderr)
		if cmd.Name() == "serve" {
			out = os.Stdout
		}
		logger = setupLogger(cfg.Logging, out)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/soundcheck/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")

	rootCmd.AddCommand(qualityCmd)
	rootCmd.AddCommand(doaCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportsCmd)
}

func setupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
