package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/minder/internal/api"
	"github.com/example/minder/internal/explorer"
	"github.com/example/minder/internal/lab"
	"github.com/example/minder/internal/platform/config"
	"github.com/example/minder/internal/platform/otel"
	"github.com/example/minder/internal/projection"
	"github.com/example/minder/internal/scheduler"
	"github.com/example/minder/internal/storage/sqlite"
	"github.com/example/minder/internal/tasks"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the snooze-wake scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	if cfg.OTelEnabled {
		shutdown, err := otel.Setup(ctx, "minder")
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown tracing", "error", err)
			}
		}()
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

	// Catch the read model up before serving so a restart never answers
	// from a stale watermark.
	projector := &projection.Projector{
		Events:      events,
		Projections: projections,
		Logger:      logger,
		DedupFanout: cfg.DedupFanout,
	}
	if err := projector.CatchUp(ctx); err != nil {
		return fmt.Errorf("catch up projections: %w", err)
	}

	taskSvc := tasks.New(tasks.Config{
		Events:      events,
		Projections: projections,
		Logger:      logger,
		DedupFanout: cfg.DedupFanout,
	})
	labSvc := lab.New(lab.Config{
		Events:            events,
		Projections:       projections,
		Logger:            logger,
		ExperimentTimeout: cfg.ExperimentTimeout,
	})
	explorerSvc := &explorer.Service{
		Events:      events,
		Projections: projections,
		Logger:      logger,
		DedupFanout: cfg.DedupFanout,
	}

	sched, err := scheduler.New(scheduler.Config{
		Tasks:    taskSvc,
		Logger:   logger,
		Schedule: cfg.SnoozeWakeSchedule,
	})
	if err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: (&api.Server{
			Tasks:       taskSvc,
			Lab:         labSvc,
			Explorer:    explorerSvc,
			Events:      events,
			Projections: projections,
			Logger:      logger,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
