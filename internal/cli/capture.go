package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/minder/internal/platform/config"
	"github.com/example/minder/internal/storage/sqlite"
	"github.com/example/minder/internal/tasks"
)

func noteCmd() *cobra.Command {
	var content string
	var tags []string
	var actor string

	cmd := &cobra.Command{
		Use:   "note <title>",
		Short: "Capture a free-form note in the journal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaptureService(cmd.Context(), func(ctx context.Context, svc *tasks.Service) error {
				rec, err := svc.RecordNote(ctx, tasks.NoteInput{
					Title:   strings.Join(args, " "),
					Content: content,
					Tags:    tags,
					Actor:   actor,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded note %s: %s\n", rec.ID, rec.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "note body")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().StringVar(&actor, "actor", "user", "actor recorded on the event")
	return cmd
}

func trackCmd() *cobra.Command {
	var status string
	var tags []string
	var actor string

	cmd := &cobra.Command{
		Use:   "track <title>",
		Short: "Capture a tracked item (reading list, media, and the like)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaptureService(cmd.Context(), func(ctx context.Context, svc *tasks.Service) error {
				rec, err := svc.RecordTrack(ctx, tasks.TrackInput{
					Title:  strings.Join(args, " "),
					Status: status,
					Tags:   tags,
					Actor:  actor,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded track %s: %s\n", rec.ID, rec.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "tracked item status")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().StringVar(&actor, "actor", "user", "actor recorded on the event")
	return cmd
}

// withCaptureService opens the stores a one-shot capture needs, runs fn, and
// closes them again.
func withCaptureService(ctx context.Context, fn func(ctx context.Context, svc *tasks.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	events, _, err := openEvents(cfg.EventsDBPath)
	if err != nil {
		return fmt.Errorf("open events db: %w", err)
	}
	defer events.Close()

	projections, err := sqlite.OpenProjections(cfg.ProjectionsDBPath)
	if err != nil {
		return fmt.Errorf("open projections db: %w", err)
	}
	defer projections.Close()

	svc := tasks.New(tasks.Config{
		Events:      events,
		Projections: projections,
		Logger:      slog.Default(),
		DedupFanout: cfg.DedupFanout,
	})
	return fn(ctx, svc)
}
