// Command mcpharvest discovers MCP servers on GitHub, catalogs their launch
// configuration and enriches the catalog with AI summaries and tags.
//
// Usage:
//
//	mcpharvest serve                 # HTTP API, MCP endpoint, optional scheduler
//	mcpharvest run [--facet N]       # one full pipeline run
//	mcpharvest discover <facet>      # discovery for one facet
//	mcpharvest intake                # drain the discovery queue
//	mcpharvest enrich [server-id]    # drain the enrichment queue
//	mcpharvest facets                # list the discovery query space
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mcpharvest/harvest"
)

var version = "0.1.0-dev"

type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "mcpharvest",
		Short:         "Discover, catalog and enrich MCP servers published on GitHub",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file (env vars override it)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error (default from LOG_LEVEL or config)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newDiscoverCmd(flags),
		newIntakeCmd(flags),
		newEnrichCmd(flags),
		newFacetsCmd(flags),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies
// --log-level.
func loadConfig(flags *globalFlags) (*harvest.Config, error) {
	cfg, err := harvest.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// jsonLogger is used by serve, where logs go to a collector.
func jsonLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

// terminalLogger is used by the one-shot subcommands.
func terminalLogger(level string) *slog.Logger {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           charmlog.Level(parseLevel(level)),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openService loads configuration and opens the catalog with a terminal
// logger, for the one-shot subcommands.
func openService(cmd *cobra.Command, flags *globalFlags) (*harvest.Service, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger := terminalLogger(cfg.LogLevel)
	return harvest.Open(cmd.Context(), cfg, logger)
}
