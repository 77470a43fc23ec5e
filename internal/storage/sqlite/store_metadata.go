package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/minder/internal/storage"
)

// GetProjectionMetadata returns the single watermark row.
func (s *Store) GetProjectionMetadata(ctx context.Context) (storage.ProjectionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectionMetadata{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ProjectionMetadata{}, fmt.Errorf("storage is not configured")
	}

	var meta storage.ProjectionMetadata
	var lastEventSeq, updatedAt int64
	var lastRebuildAt sql.NullInt64
	row := s.q.QueryRowContext(ctx,
		"SELECT schema_version, last_event_seq, last_rebuild_at, updated_at FROM projection_metadata WHERE id = 1",
	)
	if err := row.Scan(&meta.SchemaVersion, &lastEventSeq, &lastRebuildAt, &updatedAt); err != nil {
		return storage.ProjectionMetadata{}, fmt.Errorf("get projection metadata: %w", err)
	}
	meta.LastEventSeq = uint64(lastEventSeq)
	meta.LastRebuildAt = fromNullMillis(lastRebuildAt)
	meta.UpdatedAt = fromMillis(updatedAt)
	return meta, nil
}

// SaveProjectionMetadata upserts the single watermark row.
func (s *Store) SaveProjectionMetadata(ctx context.Context, meta storage.ProjectionMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO projection_metadata (id, schema_version, last_event_seq, last_rebuild_at, updated_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     schema_version = excluded.schema_version,
		     last_event_seq = excluded.last_event_seq,
		     last_rebuild_at = excluded.last_rebuild_at,
		     updated_at = excluded.updated_at`,
		meta.SchemaVersion,
		int64(meta.LastEventSeq),
		toNullMillis(meta.LastRebuildAt),
		toMillis(meta.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save projection metadata: %w", err)
	}
	return nil
}
