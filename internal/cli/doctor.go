package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/minder/internal/platform/config"
	"github.com/example/minder/internal/storage/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report storage health: paths, schema, watermark lag",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return doctor(cmd, cfg)
		},
	}
}

func doctor(cmd *cobra.Command, cfg config.Config) error {
	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	healthy := true
	report := func(label string, err error, detail string) {
		if err != nil {
			healthy = false
			fmt.Fprintf(out, "%s %s: %v\n", bad("FAIL"), label, err)
			return
		}
		fmt.Fprintf(out, "%s %s: %s\n", ok(" OK "), label, detail)
	}

	var latest uint64
	events, _, err := openEvents(cfg.EventsDBPath)
	if err == nil {
		defer events.Close()
		latest, err = events.LatestEventSeq(cmd.Context())
	}
	report("events db", err, fmt.Sprintf("%s (latest seq %d)", cfg.EventsDBPath, latest))

	projections, err := sqlite.OpenProjections(cfg.ProjectionsDBPath)
	if err != nil {
		report("projections db", err, "")
	} else {
		defer projections.Close()
		meta, metaErr := projections.GetProjectionMetadata(cmd.Context())
		report("projections db", metaErr, fmt.Sprintf("%s (schema v%d)", cfg.ProjectionsDBPath, meta.SchemaVersion))
		if metaErr == nil {
			reportLag(out, warn, ok, latest, meta.LastEventSeq)
			if meta.LastRebuildAt != nil {
				fmt.Fprintf(out, "%s last rebuild: %s\n", ok(" OK "), meta.LastRebuildAt.UTC().Format(time.RFC3339))
			}
		}
	}

	if !healthy {
		os.Exit(1)
	}
	return nil
}

func reportLag(out io.Writer, warn, ok func(a ...interface{}) string, latest, watermark uint64) {
	if latest > watermark {
		fmt.Fprintf(out, "%s watermark lag: %d events behind (run serve or rebuild)\n", warn("WARN"), latest-watermark)
		return
	}
	fmt.Fprintf(out, "%s watermark lag: none (seq %d)\n", ok(" OK "), watermark)
}
