package projection

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/storage"
)

func applyNoteRecorded(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.NoteRecordedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Notes.GetNote(ctx, evt.EntityID)
	switch {
	case err == nil:
	case stderrors.Is(err, storage.ErrNotFound):
		rec = storage.NoteRecord{ID: evt.EntityID, CreatedAt: ts}
	default:
		return fmt.Errorf("load note %s: %w", evt.EntityID, err)
	}

	rec.Title = payload.Title
	rec.Content = payload.Content
	rec.Tags = append([]string(nil), payload.Tags...)
	rec.UpdatedAt = ts
	return a.Notes.PutNote(ctx, rec)
}

func applyTrackRecorded(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TrackRecordedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tracks.GetTrack(ctx, evt.EntityID)
	switch {
	case err == nil:
	case stderrors.Is(err, storage.ErrNotFound):
		rec = storage.TrackRecord{ID: evt.EntityID, CreatedAt: ts}
	default:
		return fmt.Errorf("load track %s: %w", evt.EntityID, err)
	}

	rec.Title = payload.Title
	if payload.Status != "" {
		rec.Status = payload.Status
	}
	rec.Tags = append([]string(nil), payload.Tags...)
	rec.UpdatedAt = ts
	return a.Tracks.PutTrack(ctx, rec)
}
