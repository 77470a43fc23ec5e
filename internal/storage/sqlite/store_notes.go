package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/minder/internal/storage"
)

// PutNote upserts a note row keyed by id.
func (s *Store) PutNote(ctx context.Context, n storage.NoteRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("note id is required")
	}

	tags, err := marshalStrings(n.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO notes (id, title, content, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     title = excluded.title,
		     content = excluded.content,
		     tags = excluded.tags,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at`,
		n.ID, n.Title, n.Content, tags, toMillis(n.CreatedAt), toMillis(n.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put note: %w", err)
	}
	return nil
}

// GetNote returns a note by id. Returns storage.ErrNotFound when missing.
func (s *Store) GetNote(ctx context.Context, noteID string) (storage.NoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.NoteRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.NoteRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(noteID) == "" {
		return storage.NoteRecord{}, fmt.Errorf("note id is required")
	}

	var n storage.NoteRecord
	var tags string
	var createdAt, updatedAt int64
	row := s.q.QueryRowContext(ctx,
		"SELECT id, title, content, tags, created_at, updated_at FROM notes WHERE id = ?", noteID,
	)
	err := row.Scan(&n.ID, &n.Title, &n.Content, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.NoteRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.NoteRecord{}, fmt.Errorf("get note: %w", err)
	}
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(tags), &n.Tags); err != nil {
		return storage.NoteRecord{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	return n, nil
}

// PutTrack upserts a track row keyed by id.
func (s *Store) PutTrack(ctx context.Context, tr storage.TrackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(tr.ID) == "" {
		return fmt.Errorf("track id is required")
	}

	tags, err := marshalStrings(tr.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO tracks (id, title, status, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     title = excluded.title,
		     status = excluded.status,
		     tags = excluded.tags,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at`,
		tr.ID, tr.Title, tr.Status, tags, toMillis(tr.CreatedAt), toMillis(tr.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put track: %w", err)
	}
	return nil
}

// GetTrack returns a track by id. Returns storage.ErrNotFound when missing.
func (s *Store) GetTrack(ctx context.Context, trackID string) (storage.TrackRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.TrackRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.TrackRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(trackID) == "" {
		return storage.TrackRecord{}, fmt.Errorf("track id is required")
	}

	var tr storage.TrackRecord
	var tags string
	var createdAt, updatedAt int64
	row := s.q.QueryRowContext(ctx,
		"SELECT id, title, status, tags, created_at, updated_at FROM tracks WHERE id = ?", trackID,
	)
	err := row.Scan(&tr.ID, &tr.Title, &tr.Status, &tags, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TrackRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TrackRecord{}, fmt.Errorf("get track: %w", err)
	}
	tr.CreatedAt = fromMillis(createdAt)
	tr.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(tags), &tr.Tags); err != nil {
		return storage.TrackRecord{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tr, nil
}
