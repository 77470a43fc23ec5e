package projection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/domain/task"
	"github.com/example/minder/internal/storage"
)

func applyTaskIngested(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskIngestedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	switch {
	case err == nil:
		// Re-ingest of a known task refreshes content fields without
		// touching lifecycle state.
		rec.Title = payload.Title
		if payload.Body != "" {
			rec.Body = payload.Body
		}
	case stderrors.Is(err, storage.ErrNotFound):
		rec = storage.TaskRecord{
			ID:        evt.EntityID,
			Title:     payload.Title,
			Body:      payload.Body,
			Status:    task.StatusOpen,
			Priority:  task.PriorityP2,
			Source:    payload.Source,
			SourceRef: payload.SourceRef,
			CreatedAt: ts,
		}
	default:
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	if payload.Priority != "" {
		rec.Priority = task.Priority(payload.Priority)
	}
	if payload.Project != "" {
		rec.Project = payload.Project
	}
	if len(payload.Labels) > 0 {
		rec.Labels = unionStrings(rec.Labels, payload.Labels)
	}
	if payload.DueAt != 0 {
		rec.DueAt = millisPtr(payload.DueAt)
	}
	if payload.DoNotStartBefore != 0 {
		rec.DoNotStartBefore = millisPtr(payload.DoNotStartBefore)
	}
	if payload.DedupGroupID != "" {
		rec.DedupGroupID = payload.DedupGroupID
		flagged, err := dedupCollision(ctx, a, rec)
		if err != nil {
			return err
		}
		if flagged {
			rec.Labels = unionStrings(rec.Labels, []string{"needs_review"})
		}
	}

	rec.UpdatedAt = ts
	rec.Explanations = appendExplanation(rec.Explanations, storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "ingest",
		Rationale: payload.Rationale,
	})
	return a.Tasks.PutTask(ctx, rec)
}

// dedupCollision reports whether another live task already occupies the
// record's dedup group.
func dedupCollision(ctx context.Context, a Applier, rec storage.TaskRecord) (bool, error) {
	members, err := a.Tasks.ListTasksByDedupGroup(ctx, rec.DedupGroupID)
	if err != nil {
		return false, fmt.Errorf("list dedup group %s: %w", rec.DedupGroupID, err)
	}
	for _, member := range members {
		if member.ID == rec.ID {
			continue
		}
		if member.Status != task.StatusCancelled && member.Status != task.StatusDone {
			return true, nil
		}
	}
	return false, nil
}

func applyTaskUpdated(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskUpdatedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	action := "update"
	if payload.NoOp {
		// Rejected mutations still leave an audit trail on the task.
		if payload.Action != "" {
			action = payload.Action
		}
	} else {
		if err := patchTaskFields(&rec, payload.Fields); err != nil {
			return fmt.Errorf("patch task %s: %w", evt.EntityID, err)
		}
	}

	rec.UpdatedAt = ts
	rec.Explanations = appendExplanation(rec.Explanations, storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    action,
		Rationale: payload.Rationale,
	})
	return a.Tasks.PutTask(ctx, rec)
}

func patchTaskFields(rec *storage.TaskRecord, fields map[string]any) error {
	for name, value := range fields {
		switch name {
		case "title":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field title must be a string")
			}
			rec.Title = s
		case "body":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field body must be a string")
			}
			rec.Body = s
		case "priority":
			s, ok := value.(string)
			if !ok || !task.Priority(s).IsValid() {
				return fmt.Errorf("field priority must be one of p0..p3")
			}
			rec.Priority = task.Priority(s)
		case "project":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("field project must be a string")
			}
			rec.Project = s
		case "labels":
			labels, err := stringSlice(value)
			if err != nil {
				return fmt.Errorf("field labels: %w", err)
			}
			rec.Labels = labels
		case "due_at":
			millis, err := int64Value(value)
			if err != nil {
				return fmt.Errorf("field due_at: %w", err)
			}
			rec.DueAt = millisPtr(millis)
		case "do_not_start_before":
			millis, err := int64Value(value)
			if err != nil {
				return fmt.Errorf("field do_not_start_before: %w", err)
			}
			rec.DoNotStartBefore = millisPtr(millis)
		default:
			return fmt.Errorf("unknown field %q", name)
		}
	}
	return nil
}

func applyTaskStatusChanged(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskStatusChangedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	rec.Status = task.Status(payload.ToStatus)
	rec.UpdatedAt = ts
	rec.Explanations = appendExplanation(rec.Explanations, storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "status_changed",
		Rationale: payload.Rationale,
	})
	return a.Tasks.PutTask(ctx, rec)
}

func applyTaskCompleted(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskCompletedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	rec.Status = task.StatusDone
	rec.CompletedAt = &ts
	rec.UpdatedAt = ts
	rec.Explanations = appendExplanation(rec.Explanations, storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "complete",
		Rationale: payload.Rationale,
	})
	return a.Tasks.PutTask(ctx, rec)
}

func applyTaskCancelled(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskCancelledPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	rec.Status = task.StatusCancelled
	rec.UpdatedAt = ts
	rec.Explanations = appendExplanation(rec.Explanations, storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "cancel",
		Rationale: payload.Rationale,
	})
	return a.Tasks.PutTask(ctx, rec)
}

func applyTaskSnoozed(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskSnoozedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	rec.Status = task.StatusSnoozed
	rec.DoNotStartBefore = millisPtr(payload.Until)
	rec.UpdatedAt = ts
	rec.Explanations = appendExplanation(rec.Explanations, storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "snooze",
		Rationale: payload.Rationale,
	})
	return a.Tasks.PutTask(ctx, rec)
}

func applyTaskLinked(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskLinkedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	rec, err := a.Tasks.GetTask(ctx, evt.EntityID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", evt.EntityID, err)
	}

	rec.BlockedBy = unionStrings(rec.BlockedBy, payload.BlockedBy)
	rec.UpdatedAt = ts
	entry := storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "link",
		Rationale: payload.Rationale,
	}
	rec.Explanations = appendExplanation(rec.Explanations, entry)
	if err := a.Tasks.PutTask(ctx, rec); err != nil {
		return err
	}

	if !a.DedupFanout || rec.DedupGroupID == "" {
		return nil
	}
	// Fan the link out to the rest of the dedup group so duplicates stay
	// blocked on the same dependencies.
	members, err := a.Tasks.ListTasksByDedupGroup(ctx, rec.DedupGroupID)
	if err != nil {
		return fmt.Errorf("list dedup group %s: %w", rec.DedupGroupID, err)
	}
	for _, member := range members {
		if member.ID == rec.ID {
			continue
		}
		member.BlockedBy = unionStrings(member.BlockedBy, payload.BlockedBy)
		member.UpdatedAt = ts
		member.Explanations = appendExplanation(member.Explanations, entry)
		if err := a.Tasks.PutTask(ctx, member); err != nil {
			return fmt.Errorf("fan out link to %s: %w", member.ID, err)
		}
	}
	return nil
}

func applyTaskDedupLinked(a Applier, ctx context.Context, evt event.Event) error {
	var payload event.TaskDedupLinkedPayload
	if err := decodePayload(evt, &payload); err != nil {
		return err
	}
	ts := ensureTimestamp(evt.Timestamp)

	entry := storage.Explanation{
		Timestamp: ts,
		Actor:     actorFor(evt),
		Action:    "dedup_link",
		Rationale: payload.Rationale,
	}
	for _, memberID := range payload.MemberIDs {
		member, err := a.Tasks.GetTask(ctx, memberID)
		if stderrors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load task %s: %w", memberID, err)
		}
		member.DedupGroupID = payload.DedupGroupID
		member.Labels = unionStrings(member.Labels, []string{"needs_review"})
		member.UpdatedAt = ts
		member.Explanations = appendExplanation(member.Explanations, entry)
		if err := a.Tasks.PutTask(ctx, member); err != nil {
			return fmt.Errorf("put task %s: %w", memberID, err)
		}
	}
	return nil
}

// unionStrings merges two string sets into a sorted slice so replays
// produce identical records regardless of insertion order.
func unionStrings(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing)+len(extra))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range extra {
		seen[s] = true
	}
	merged := make([]string, 0, len(seen))
	for s := range seen {
		merged = append(merged, s)
	}
	sort.Strings(merged)
	return merged
}

func stringSlice(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("must be a string array")
		}
		out = append(out, s)
	}
	return out, nil
}

func int64Value(value any) (int64, error) {
	switch v := value.(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("must be a millisecond timestamp")
}
