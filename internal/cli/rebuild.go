package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/example/minder/internal/platform/config"
	"github.com/example/minder/internal/projection"
)

func rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the full journal into a fresh projections database",
		Long: "Rebuild replays every journal event into a staging database and " +
			"atomically swaps it in. Run it while the server is stopped; a " +
			"concurrent rebuild is refused.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			events, _, err := openEvents(cfg.EventsDBPath)
			if err != nil {
				return fmt.Errorf("open events db: %w", err)
			}
			defer events.Close()
			return projection.Rebuild(cmd.Context(), events, cfg.ProjectionsDBPath, cfg.DedupFanout, slog.Default())
		},
	}
}
