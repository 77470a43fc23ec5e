package projection

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/storage"
	"github.com/example/minder/internal/storage/sqlite"
)

// Rebuild replays the full event journal into a fresh projections database
// at projectionsPath+".rebuild" and atomically swaps it into place. The
// journal is never touched. A lock file guards against concurrent rebuilds.
func Rebuild(ctx context.Context, events storage.EventStore, projectionsPath string, dedupFanout bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	lockPath := projectionsPath + ".rebuild.lock"
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return apperrors.WithMetadata(apperrors.CodeRebuildInProgress,
				"a projection rebuild is already running", map[string]string{
					"lock": lockPath,
				})
		}
		return fmt.Errorf("create rebuild lock: %w", err)
	}
	lock.Close()
	defer os.Remove(lockPath)

	stagingPath := projectionsPath + ".rebuild"
	for _, stale := range []string{stagingPath, stagingPath + "-wal", stagingPath + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear rebuild staging: %w", err)
		}
	}

	staging, err := sqlite.OpenProjections(stagingPath)
	if err != nil {
		return fmt.Errorf("open rebuild staging: %w", err)
	}

	start := time.Now()
	projector := &Projector{
		Events:      events,
		Projections: staging,
		Logger:      logger,
		DedupFanout: dedupFanout,
	}
	if err := projector.CatchUp(ctx); err != nil {
		staging.Close()
		return fmt.Errorf("replay journal: %w", err)
	}

	if err := stampRebuild(ctx, staging); err != nil {
		staging.Close()
		return err
	}
	if err := staging.Close(); err != nil {
		return fmt.Errorf("close rebuild staging: %w", err)
	}

	if err := os.Rename(stagingPath, projectionsPath); err != nil {
		return fmt.Errorf("swap in rebuilt projections: %w", err)
	}
	for _, stale := range []string{projectionsPath + "-wal", projectionsPath + "-shm"} {
		os.Remove(stale)
	}
	// The staging database carries its own WAL sidecars under the old name.
	for _, stale := range []string{stagingPath + "-wal", stagingPath + "-shm"} {
		os.Remove(stale)
	}

	logger.Info("projection rebuild complete",
		"path", projectionsPath, "duration", time.Since(start))
	return nil
}

func stampRebuild(ctx context.Context, store storage.ProjectionStore) error {
	return store.InTx(ctx, func(tx storage.ProjectionStore) error {
		meta, err := tx.GetProjectionMetadata(ctx)
		if err != nil {
			return fmt.Errorf("read projection watermark: %w", err)
		}
		now := time.Now().UTC()
		meta.LastRebuildAt = &now
		meta.UpdatedAt = now
		if err := tx.SaveProjectionMetadata(ctx, meta); err != nil {
			return fmt.Errorf("stamp rebuild time: %w", err)
		}
		return nil
	})
}
