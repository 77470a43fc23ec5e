// Package cli wires the minder command tree: the long-running server plus the
// offline maintenance commands that share its storage layer.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/platform/config"
	"github.com/example/minder/internal/storage/sqlite"
)

var logLevel string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "minder",
		Short:         "Event-sourced personal task assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(newLogger(logLevel))
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.AddCommand(serveCmd(), noteCmd(), trackCmd(), rebuildCmd(), verifyCmd(), doctorCmd())
	return cmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		config.Exitf("minder: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openEvents opens the journal with the validating event registry attached.
func openEvents(path string) (*sqlite.Store, *event.Registry, error) {
	registry, err := event.NewRegistry()
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.OpenEvents(path, registry)
	if err != nil {
		return nil, nil, err
	}
	return store, registry, nil
}
