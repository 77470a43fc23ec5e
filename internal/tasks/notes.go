package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/minder/internal/domain/event"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/platform/id"
	"github.com/example/minder/internal/storage"
)

// NoteInput is a free-form note capture.
type NoteInput struct {
	Title   string
	Content string
	Tags    []string
	Actor   string
}

// TrackInput is a tracked-item capture (reading list, media, and the like).
type TrackInput struct {
	Title  string
	Status string
	Tags   []string
	Actor  string
}

// RecordNote appends a note to the journal and returns its projection.
func (s *Service) RecordNote(ctx context.Context, in NoteInput) (storage.NoteRecord, error) {
	if strings.TrimSpace(in.Title) == "" {
		return storage.NoteRecord{}, apperrors.New(apperrors.CodeValidation, "title is required")
	}
	noteID, err := id.NewID()
	if err != nil {
		return storage.NoteRecord{}, fmt.Errorf("generate note id: %w", err)
	}
	if _, err := s.appendAndProject(ctx, event.Event{
		Timestamp:  s.now(),
		Type:       event.TypeNoteRecorded,
		ActorType:  actorTypeFor(in.Actor),
		ActorID:    in.Actor,
		EntityType: "note",
		EntityID:   noteID,
		PayloadJSON: mustPayload(event.NoteRecordedPayload{
			Title:   in.Title,
			Content: in.Content,
			Tags:    in.Tags,
		}),
	}); err != nil {
		return storage.NoteRecord{}, err
	}
	return s.projections.GetNote(ctx, noteID)
}

// RecordTrack appends a tracked item to the journal and returns its projection.
func (s *Service) RecordTrack(ctx context.Context, in TrackInput) (storage.TrackRecord, error) {
	if strings.TrimSpace(in.Title) == "" {
		return storage.TrackRecord{}, apperrors.New(apperrors.CodeValidation, "title is required")
	}
	trackID, err := id.NewID()
	if err != nil {
		return storage.TrackRecord{}, fmt.Errorf("generate track id: %w", err)
	}
	if _, err := s.appendAndProject(ctx, event.Event{
		Timestamp:  s.now(),
		Type:       event.TypeTrackRecorded,
		ActorType:  actorTypeFor(in.Actor),
		ActorID:    in.Actor,
		EntityType: "track",
		EntityID:   trackID,
		PayloadJSON: mustPayload(event.TrackRecordedPayload{
			Title:  in.Title,
			Status: in.Status,
			Tags:   in.Tags,
		}),
	}); err != nil {
		return storage.TrackRecord{}, err
	}
	return s.projections.GetTrack(ctx, trackID)
}
