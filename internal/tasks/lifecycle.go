package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/example/minder/internal/domain/event"
	taskdomain "github.com/example/minder/internal/domain/task"
	apperrors "github.com/example/minder/internal/platform/errors"
	"github.com/example/minder/internal/storage"
)

// patchableFields whitelists the task fields a patch may touch. Status moves
// through the lifecycle operations, never through a patch.
var patchableFields = map[string]bool{
	"title":               true,
	"body":                true,
	"priority":            true,
	"project":             true,
	"labels":              true,
	"due_at":              true,
	"do_not_start_before": true,
}

// Patch applies a field patch to a task.
func (s *Service) Patch(ctx context.Context, taskID string, fields map[string]any, actor, rationale string) (storage.TaskRecord, error) {
	if len(fields) == 0 {
		return storage.TaskRecord{}, apperrors.New(apperrors.CodeValidation, "no fields to patch")
	}
	for name := range fields {
		if !patchableFields[name] {
			return storage.TaskRecord{}, apperrors.WithMetadata(apperrors.CodeValidation, "field is not patchable", map[string]string{
				"field": name,
			})
		}
	}
	if value, ok := fields["priority"]; ok {
		p, isString := value.(string)
		if !isString || !taskdomain.Priority(p).IsValid() {
			return storage.TaskRecord{}, apperrors.New(apperrors.CodeValidation, "priority must be one of p0..p3")
		}
	}

	rec, err := s.projections.GetTask(ctx, taskID)
	if err != nil {
		return storage.TaskRecord{}, err
	}
	if rationale == "" {
		rationale = "field patch requested"
	}
	if _, err := s.appendAndProject(ctx, event.Event{
		Timestamp:  s.now(),
		Type:       event.TypeTaskUpdated,
		ActorType:  actorTypeFor(actor),
		ActorID:    actor,
		EntityType: "task",
		EntityID:   rec.ID,
		PayloadJSON: mustPayload(event.TaskUpdatedPayload{
			Fields:    fields,
			Rationale: rationale,
		}),
	}); err != nil {
		return storage.TaskRecord{}, err
	}
	return s.projections.GetTask(ctx, taskID)
}

// Complete moves a task to done.
func (s *Service) Complete(ctx context.Context, taskID, actor, rationale string) (storage.TaskRecord, error) {
	if rationale == "" {
		rationale = "marked done"
	}
	return s.transition(ctx, taskID, taskdomain.StatusDone, actor, rationale)
}

// Cancel moves a task to its terminal cancelled state.
func (s *Service) Cancel(ctx context.Context, taskID, actor, rationale string) (storage.TaskRecord, error) {
	if rationale == "" {
		rationale = "cancelled"
	}
	return s.transition(ctx, taskID, taskdomain.StatusCancelled, actor, rationale)
}

// ChangeStatus moves a task to an arbitrary lifecycle status. Snoozing goes
// through Snooze so the wake gate is always set.
func (s *Service) ChangeStatus(ctx context.Context, taskID string, to taskdomain.Status, actor, rationale string) (storage.TaskRecord, error) {
	if !to.IsValid() {
		return storage.TaskRecord{}, apperrors.WithMetadata(apperrors.CodeValidation, "unrecognized status", map[string]string{
			"status": string(to),
		})
	}
	if to == taskdomain.StatusSnoozed {
		return storage.TaskRecord{}, apperrors.New(apperrors.CodeValidation, "snoozing requires a wake time; use snooze")
	}
	if rationale == "" {
		rationale = fmt.Sprintf("status changed to %s", to)
	}
	return s.transition(ctx, taskID, to, actor, rationale)
}

// Snooze defers a task until the given wake time.
func (s *Service) Snooze(ctx context.Context, taskID string, until time.Time, actor, rationale string) (storage.TaskRecord, error) {
	if !until.After(s.now()) {
		return storage.TaskRecord{}, apperrors.New(apperrors.CodeValidation, "snooze until must be in the future")
	}
	rec, err := s.projections.GetTask(ctx, taskID)
	if err != nil {
		return storage.TaskRecord{}, err
	}
	if !taskdomain.CanTransition(rec.Status, taskdomain.StatusSnoozed) {
		return storage.TaskRecord{}, s.recordRejectedTransition(ctx, rec, taskdomain.StatusSnoozed, actor)
	}
	if rationale == "" {
		rationale = fmt.Sprintf("snoozed until %s", until.UTC().Format(time.RFC3339))
	}
	if _, err := s.appendAndProject(ctx, event.Event{
		Timestamp:  s.now(),
		Type:       event.TypeTaskSnoozed,
		ActorType:  actorTypeFor(actor),
		ActorID:    actor,
		EntityType: "task",
		EntityID:   rec.ID,
		PayloadJSON: mustPayload(event.TaskSnoozedPayload{
			Until:     until.UnixMilli(),
			Rationale: rationale,
		}),
	}); err != nil {
		return storage.TaskRecord{}, err
	}
	return s.projections.GetTask(ctx, taskID)
}

// Link records blocked_by dependencies on a task.
func (s *Service) Link(ctx context.Context, taskID string, blockedBy []string, actor, rationale string) (storage.TaskRecord, error) {
	if len(blockedBy) == 0 {
		return storage.TaskRecord{}, apperrors.New(apperrors.CodeValidation, "blocked_by is required")
	}
	rec, err := s.projections.GetTask(ctx, taskID)
	if err != nil {
		return storage.TaskRecord{}, err
	}
	for _, blockerID := range blockedBy {
		if blockerID == taskID {
			return storage.TaskRecord{}, apperrors.New(apperrors.CodeValidation, "a task cannot block itself")
		}
		if _, err := s.projections.GetTask(ctx, blockerID); err != nil {
			return storage.TaskRecord{}, apperrors.WrapWithMetadata(apperrors.CodeNotFound, "blocking task not found", map[string]string{
				"task_id": blockerID,
			}, err)
		}
	}
	if rationale == "" {
		rationale = "blocked_by links added"
	}
	if _, err := s.appendAndProject(ctx, event.Event{
		Timestamp:  s.now(),
		Type:       event.TypeTaskLinked,
		ActorType:  actorTypeFor(actor),
		ActorID:    actor,
		EntityType: "task",
		EntityID:   rec.ID,
		PayloadJSON: mustPayload(event.TaskLinkedPayload{
			BlockedBy: blockedBy,
			Rationale: rationale,
		}),
	}); err != nil {
		return storage.TaskRecord{}, err
	}
	return s.projections.GetTask(ctx, taskID)
}

// WakeDue transitions snoozed tasks whose wake gate has passed back to open.
// Returns the number of tasks woken.
func (s *Service) WakeDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.projections.ListSnoozedDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list snoozed due: %w", err)
	}
	woken := 0
	for _, rec := range due {
		if _, err := s.appendAndProject(ctx, event.Event{
			Timestamp:  s.now(),
			Type:       event.TypeTaskStatusChanged,
			ActorType:  event.ActorTypeSystem,
			ActorID:    "scheduler",
			EntityType: "task",
			EntityID:   rec.ID,
			PayloadJSON: mustPayload(event.TaskStatusChangedPayload{
				FromStatus: string(rec.Status),
				ToStatus:   string(taskdomain.StatusOpen),
				Rationale:  "snooze window elapsed",
			}),
		}); err != nil {
			return woken, fmt.Errorf("wake task %s: %w", rec.ID, err)
		}
		woken++
	}
	return woken, nil
}

func (s *Service) transition(ctx context.Context, taskID string, to taskdomain.Status, actor, rationale string) (storage.TaskRecord, error) {
	rec, err := s.projections.GetTask(ctx, taskID)
	if err != nil {
		return storage.TaskRecord{}, err
	}
	if !taskdomain.CanTransition(rec.Status, to) {
		return storage.TaskRecord{}, s.recordRejectedTransition(ctx, rec, to, actor)
	}

	evt := event.Event{
		Timestamp:  s.now(),
		ActorType:  actorTypeFor(actor),
		ActorID:    actor,
		EntityType: "task",
		EntityID:   rec.ID,
	}
	switch to {
	case taskdomain.StatusDone:
		evt.Type = event.TypeTaskCompleted
		evt.PayloadJSON = mustPayload(event.TaskCompletedPayload{Rationale: rationale})
	case taskdomain.StatusCancelled:
		evt.Type = event.TypeTaskCancelled
		evt.PayloadJSON = mustPayload(event.TaskCancelledPayload{Rationale: rationale})
	default:
		evt.Type = event.TypeTaskStatusChanged
		evt.PayloadJSON = mustPayload(event.TaskStatusChangedPayload{
			FromStatus: string(rec.Status),
			ToStatus:   string(to),
			Rationale:  rationale,
		})
	}
	if _, err := s.appendAndProject(ctx, evt); err != nil {
		return storage.TaskRecord{}, err
	}
	return s.projections.GetTask(ctx, taskID)
}

// recordRejectedTransition appends a no-op audit event for an illegal
// transition and returns the invalid-state error. Rejections are recorded,
// never silent.
func (s *Service) recordRejectedTransition(ctx context.Context, rec storage.TaskRecord, to taskdomain.Status, actor string) error {
	rationale := fmt.Sprintf("rejected transition %s -> %s", rec.Status, to)
	if _, err := s.appendAndProject(ctx, event.Event{
		Timestamp:  s.now(),
		Type:       event.TypeTaskUpdated,
		ActorType:  actorTypeFor(actor),
		ActorID:    actor,
		EntityType: "task",
		EntityID:   rec.ID,
		PayloadJSON: mustPayload(event.TaskUpdatedPayload{
			Fields:    map[string]any{},
			NoOp:      true,
			Action:    "no_op",
			Rationale: rationale,
		}),
	}); err != nil {
		return fmt.Errorf("record rejected transition: %w", err)
	}
	return apperrors.WithMetadata(apperrors.CodeInvalidState, "illegal status transition", map[string]string{
		"task_id": rec.ID,
		"from":    string(rec.Status),
		"to":      string(to),
	})
}
