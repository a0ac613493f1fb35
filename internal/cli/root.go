// Package cli implements the skytext command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scalytics/skytext/internal/config"
	"github.com/scalytics/skytext/internal/telemetry"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/scalytics/skytext/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"      _          _            _\n" +
		"  ___| | ___   _| |_ _____  _| |_\n" +
		" / __| |/ / | | | __/ _ \\ \\/ / __|\n" +
		" \\__ \\   <| |_| | ||  __/>  <| |_\n" +
		" |___/_|\\_\\\\__, |\\__\\___/_/\\_\\\\__|\n" +
		"           |___/\n"
)

var (
	// loadConfig is swapped in tests.
	loadConfig = config.Load

	appConfig         *config.Config
	telemetryShutdown func(context.Context) error

	logLevelFlag  string
	logFormatFlag string
)

var rootCmd = &cobra.Command{
	Use:           "skytext",
	Short:         "skytext - SMS weather assistant",
	Long:          color.CyanString(logo) + "\nAnswers SMS weather questions and records a replayable trace of every run.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if logLevelFlag != "" {
			cfg.Log.Level = logLevelFlag
		}
		if logFormatFlag != "" {
			cfg.Log.Format = logFormatFlag
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		shutdown, err := telemetry.Setup(telemetry.Config{Exporter: cfg.Telemetry.Exporter, Writer: cmd.ErrOrStderr()})
		if err != nil {
			return err
		}
		appConfig = cfg
		telemetryShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown == nil {
			return nil
		}
		err := telemetryShutdown(context.Background())
		telemetryShutdown = nil
		return err
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Log format override (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(migrateCmd)
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine-readable.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version needs no config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ skytext Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}
