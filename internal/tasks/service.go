// Package tasks is the write-side service for the task, note, and track
// lifecycles. Every mutation appends a journal event and then projects it,
// so the read model a caller sees afterwards always includes their write.
package tasks

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/minder/internal/domain/event"
	taskdomain "github.com/example/minder/internal/domain/task"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/platform/id"
	"github.com/example/minder/internal/projection"
	"github.com/example/minder/internal/storage"
)

// Config carries the service dependencies.
type Config struct {
	Events      storage.EventStore
	Projections storage.ProjectionStore
	Logger      *slog.Logger
	DedupFanout bool
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service coordinates task mutations through the event journal.
type Service struct {
	events      storage.EventStore
	projections storage.ProjectionStore
	projector   *projection.Projector
	logger      *slog.Logger
	now         func() time.Time
}

// New builds the task service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		events:      cfg.Events,
		projections: cfg.Projections,
		projector: &projection.Projector{
			Events:      cfg.Events,
			Projections: cfg.Projections,
			Logger:      logger,
			DedupFanout: cfg.DedupFanout,
		},
		logger: logger,
		now:    now,
	}
}

// IngestInput is a task capture request from an external source.
type IngestInput struct {
	Title            string
	Body             string
	Source           string
	SourceRef        string
	Priority         string
	DueAt            *time.Time
	DoNotStartBefore *time.Time
	Labels           []string
	Project          string
	Actor            string
}

// IngestResult reports the resolved task and how the ingest was decided.
type IngestResult struct {
	Task              storage.TaskRecord
	Created           bool
	DecisionRationale string
}

// Ingest captures a task idempotently. A matching (source, source_ref) pair
// resolves to the existing task with a non-destructive field refresh; a new
// task lands in a content-derived dedup group and is flagged when the group
// already has live members.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (IngestResult, error) {
	if err := validateIngest(in); err != nil {
		return IngestResult{}, err
	}

	existing, err := s.projections.GetTaskBySourceRef(ctx, in.Source, in.SourceRef)
	if err == nil {
		rationale := fmt.Sprintf("matched existing task by source reference %s/%s; refreshed fields", in.Source, in.SourceRef)
		if err := s.appendIngestEvent(ctx, existing.ID, in, "", rationale); err != nil {
			return IngestResult{}, err
		}
		task, err := s.projections.GetTask(ctx, existing.ID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("reload task %s: %w", existing.ID, err)
		}
		return IngestResult{Task: task, Created: false, DecisionRationale: rationale}, nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return IngestResult{}, fmt.Errorf("resolve source reference: %w", err)
	}

	taskID, err := id.NewID()
	if err != nil {
		return IngestResult{}, fmt.Errorf("generate task id: %w", err)
	}
	group := taskdomain.DedupGroupID(in.Title, in.Body, in.Project)

	rationale := "no source or duplicate match; created new task"
	liveMembers, err := s.liveDedupMembers(ctx, group)
	if err != nil {
		return IngestResult{}, err
	}
	if len(liveMembers) > 0 {
		rationale = fmt.Sprintf("suspected duplicate of task %s; created and flagged needs_review", liveMembers[0])
	}

	if err := s.appendIngestEvent(ctx, taskID, in, group, rationale); err != nil {
		return IngestResult{}, err
	}
	if len(liveMembers) > 0 {
		payload := event.TaskDedupLinkedPayload{
			DedupGroupID: group,
			MemberIDs:    append(liveMembers, taskID),
			Rationale:    rationale,
		}
		if _, err := s.appendAndProject(ctx, event.Event{
			Timestamp:   s.now(),
			Type:        event.TypeTaskDedupLinked,
			ActorType:   event.ActorTypeAssistant,
			ActorID:     "dedup",
			EntityType:  "task",
			EntityID:    taskID,
			PayloadJSON: mustPayload(payload),
		}); err != nil {
			return IngestResult{}, err
		}
	}

	task, err := s.projections.GetTask(ctx, taskID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("reload task %s: %w", taskID, err)
	}
	return IngestResult{Task: task, Created: true, DecisionRationale: rationale}, nil
}

func (s *Service) appendIngestEvent(ctx context.Context, taskID string, in IngestInput, group, rationale string) error {
	payload := event.TaskIngestedPayload{
		Title:        in.Title,
		Body:         in.Body,
		Source:       in.Source,
		SourceRef:    in.SourceRef,
		Priority:     in.Priority,
		Labels:       in.Labels,
		Project:      in.Project,
		DedupGroupID: group,
		Rationale:    rationale,
	}
	if in.DueAt != nil {
		payload.DueAt = in.DueAt.UnixMilli()
	}
	if in.DoNotStartBefore != nil {
		payload.DoNotStartBefore = in.DoNotStartBefore.UnixMilli()
	}
	_, err := s.appendAndProject(ctx, event.Event{
		Timestamp:   s.now(),
		Type:        event.TypeTaskIngested,
		ActorType:   actorTypeFor(in.Actor),
		ActorID:     in.Actor,
		EntityType:  "task",
		EntityID:    taskID,
		PayloadJSON: mustPayload(payload),
	})
	return err
}

// liveDedupMembers returns the ids of dedup group members that are not in a
// terminal state, oldest first.
func (s *Service) liveDedupMembers(ctx context.Context, group string) ([]string, error) {
	members, err := s.projections.ListTasksByDedupGroup(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("list dedup group %s: %w", group, err)
	}
	var live []string
	for _, member := range members {
		if member.Status == taskdomain.StatusCancelled || member.Status == taskdomain.StatusDone {
			continue
		}
		live = append(live, member.ID)
	}
	return live, nil
}

// Get returns the projected task.
func (s *Service) Get(ctx context.Context, taskID string) (storage.TaskRecord, error) {
	return s.projections.GetTask(ctx, taskID)
}

// List returns projected tasks matching the filter.
func (s *Service) List(ctx context.Context, filter storage.TaskFilter) ([]storage.TaskRecord, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperrors.WithMetadata(apperrors.CodeValidation, "unrecognized status filter", map[string]string{
			"status": string(filter.Status),
		})
	}
	switch filter.SortBy {
	case "", "created_at", "updated_at", "due_at", "priority", "title":
	default:
		return nil, apperrors.WithMetadata(apperrors.CodeValidation, "unrecognized sort field", map[string]string{
			"sort_by": filter.SortBy,
		})
	}
	switch strings.ToLower(filter.SortDir) {
	case "", "asc", "desc":
	default:
		return nil, apperrors.New(apperrors.CodeValidation, "sort_dir must be asc or desc")
	}
	return s.projections.ListTasks(ctx, filter)
}

func (s *Service) appendAndProject(ctx context.Context, evt event.Event) (event.Event, error) {
	appended, err := s.events.AppendEvent(ctx, evt)
	if err != nil {
		return event.Event{}, err
	}
	if err := s.projector.CatchUp(ctx); err != nil {
		return event.Event{}, fmt.Errorf("project appended event: %w", err)
	}
	return appended, nil
}

func validateIngest(in IngestInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperrors.New(apperrors.CodeValidation, "title is required")
	}
	if strings.TrimSpace(in.Source) == "" || strings.TrimSpace(in.SourceRef) == "" {
		return apperrors.New(apperrors.CodeValidation, "source and source_ref are required")
	}
	if in.Priority != "" && !taskdomain.Priority(in.Priority).IsValid() {
		return apperrors.WithMetadata(apperrors.CodeValidation, "priority must be one of p0..p3", map[string]string{
			"priority": in.Priority,
		})
	}
	return nil
}

func actorTypeFor(actor string) event.ActorType {
	switch actor {
	case "system", "scheduler":
		return event.ActorTypeSystem
	case "assistant", "dedup":
		return event.ActorTypeAssistant
	}
	return event.ActorTypeUser
}

// mustPayload marshals a payload struct. The payload types marshal without
// error; a failure here is a programming bug.
func mustPayload(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal event payload: %v", err))
	}
	return data
}
