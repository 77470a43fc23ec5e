package projection

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/example/minder/internal/domain/event"
	"github.com/example/minder/internal/domain/task"
	"github.com/example/minder/internal/storage"
	"github.com/example/minder/internal/storage/memory"
)

func testRegistry(t *testing.T) *event.Registry {
	t.Helper()
	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return registry
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func appendEvent(t *testing.T, journal storage.EventStore, eventType event.Type, entityID string, ts time.Time, payload any) event.Event {
	t.Helper()
	evt, err := journal.AppendEvent(context.Background(), event.Event{
		Timestamp:   ts,
		Type:        eventType,
		ActorType:   event.ActorTypeUser,
		ActorID:     "u1",
		EntityType:  entityTypeFor(eventType),
		EntityID:    entityID,
		PayloadJSON: mustMarshal(t, payload),
	})
	if err != nil {
		t.Fatalf("append %s: %v", eventType, err)
	}
	return evt
}

func entityTypeFor(eventType event.Type) string {
	switch eventType.Domain() {
	case "task":
		return "task"
	case "note":
		return "note"
	case "track":
		return "track"
	default:
		return "control"
	}
}

func ingestPayload(title, sourceRef string) event.TaskIngestedPayload {
	return event.TaskIngestedPayload{
		Title:     title,
		Source:    "api",
		SourceRef: sourceRef,
		Priority:  "p1",
		Project:   "legal",
		Rationale: "created from api",
	}
}

func TestCatchUpProjectsTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewEventStore(testRegistry(t))
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appendEvent(t, journal, event.TypeTaskIngested, "t1", base, ingestPayload("Review contract", "abc-1"))
	appendEvent(t, journal, event.TypeTaskSnoozed, "t1", base.Add(time.Hour), event.TaskSnoozedPayload{
		Until:     base.Add(48 * time.Hour).UnixMilli(),
		Rationale: "waiting on counterparty",
	})
	appendEvent(t, journal, event.TypeTaskStatusChanged, "t1", base.Add(2*time.Hour), event.TaskStatusChangedPayload{
		FromStatus: "snoozed",
		ToStatus:   "open",
		Rationale:  "woke early",
	})
	last := appendEvent(t, journal, event.TypeTaskCompleted, "t1", base.Add(3*time.Hour), event.TaskCompletedPayload{
		Rationale: "contract signed",
	})

	projector := &Projector{Events: journal, Projections: projections}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	rec, err := projections.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.Status != task.StatusDone {
		t.Fatalf("expected done, got %s", rec.Status)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(base.Add(3*time.Hour)) {
		t.Fatalf("unexpected completed at: %v", rec.CompletedAt)
	}
	if rec.Priority != task.PriorityP1 || rec.Project != "legal" {
		t.Fatalf("unexpected projected fields: %+v", rec)
	}
	if len(rec.Explanations) != 4 {
		t.Fatalf("expected 4 explanations, got %d", len(rec.Explanations))
	}
	if rec.Explanations[3].Action != "complete" || rec.Explanations[3].Rationale != "contract signed" {
		t.Fatalf("unexpected last explanation: %+v", rec.Explanations[3])
	}

	meta, err := projections.GetProjectionMetadata(ctx)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.LastEventSeq != last.Seq {
		t.Fatalf("expected watermark %d, got %d", last.Seq, meta.LastEventSeq)
	}
}

func TestCatchUpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewEventStore(testRegistry(t))
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appendEvent(t, journal, event.TypeTaskIngested, "t1", base, ingestPayload("Review contract", "abc-1"))

	projector := &Projector{Events: journal, Projections: projections}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("first catch up: %v", err)
	}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("second catch up: %v", err)
	}

	rec, err := projections.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(rec.Explanations) != 1 {
		t.Fatalf("expected a single explanation, got %d", len(rec.Explanations))
	}
}

func TestApplyTwiceDoesNotDuplicateAudit(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewEventStore(testRegistry(t))
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	evt := appendEvent(t, journal, event.TypeTaskIngested, "t1", base, ingestPayload("Review contract", "abc-1"))

	applier := ApplierFor(projections, false)
	if err := applier.Apply(ctx, evt); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := applier.Apply(ctx, evt); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	rec, err := projections.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if len(rec.Explanations) != 1 {
		t.Fatalf("expected a single explanation, got %d", len(rec.Explanations))
	}
}

func TestIngestFlagsDedupCollision(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewEventStore(testRegistry(t))
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	group := task.DedupGroupID("Review contract", "", "legal")
	first := ingestPayload("Review contract", "abc-1")
	first.DedupGroupID = group
	second := ingestPayload("Review contract", "mail-9")
	second.Source = "email"
	second.DedupGroupID = group

	appendEvent(t, journal, event.TypeTaskIngested, "t1", base, first)
	appendEvent(t, journal, event.TypeTaskIngested, "t2", base.Add(time.Minute), second)

	projector := &Projector{Events: journal, Projections: projections}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	t1, err := projections.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get t1: %v", err)
	}
	if hasLabel(t1.Labels, "needs_review") {
		t.Fatalf("first member should not be flagged: %v", t1.Labels)
	}
	t2, err := projections.GetTask(ctx, "t2")
	if err != nil {
		t.Fatalf("get t2: %v", err)
	}
	if !hasLabel(t2.Labels, "needs_review") {
		t.Fatalf("second member should be flagged: %v", t2.Labels)
	}
}

func hasLabel(labels []string, want string) bool {
	for _, label := range labels {
		if label == want {
			return true
		}
	}
	return false
}

func TestLinkFanoutAcrossDedupGroup(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewEventStore(testRegistry(t))
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	group := task.DedupGroupID("Review contract", "", "legal")
	first := ingestPayload("Review contract", "abc-1")
	first.DedupGroupID = group
	second := ingestPayload("Review contract", "mail-9")
	second.DedupGroupID = group

	appendEvent(t, journal, event.TypeTaskIngested, "t1", base, first)
	appendEvent(t, journal, event.TypeTaskIngested, "t2", base.Add(time.Minute), second)
	appendEvent(t, journal, event.TypeTaskLinked, "t1", base.Add(2*time.Minute), event.TaskLinkedPayload{
		BlockedBy: []string{"t9"},
		Rationale: "waiting on signature",
	})

	projector := &Projector{Events: journal, Projections: projections, DedupFanout: true}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	t2, err := projections.GetTask(ctx, "t2")
	if err != nil {
		t.Fatalf("get t2: %v", err)
	}
	if len(t2.BlockedBy) != 1 || t2.BlockedBy[0] != "t9" {
		t.Fatalf("expected link fan-out, got %v", t2.BlockedBy)
	}
}

func TestCatchUpProjectsControlEvents(t *testing.T) {
	ctx := context.Background()
	journal := memory.NewEventStore(testRegistry(t))
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	appendEvent(t, journal, event.TypeControlChanged, "config", base, event.ControlChangedPayload{
		Version:   1,
		Mode:      "deterministic",
		Threshold: 0.6,
		Actor:     "system",
		Rationale: "baseline",
	})
	appendEvent(t, journal, event.TypeExperimentRun, "run-1", base.Add(time.Minute), event.ExperimentRunPayload{
		RunID:              "run-1",
		CandidateMode:      "shadow",
		CandidateThreshold: 0.8,
		Actor:              "u1",
		Rationale:          "try shadow",
		Status:             "proposed",
	})
	appendEvent(t, journal, event.TypeExperimentRun, "run-1", base.Add(2*time.Minute), event.ExperimentRunPayload{
		RunID:              "run-1",
		CandidateMode:      "shadow",
		CandidateThreshold: 0.8,
		Actor:              "u1",
		Rationale:          "try shadow",
		Status:             "completed",
		Metrics:            map[string]float64{"quality_delta": 0.1, "apply_allowed": 1},
	})
	appendEvent(t, journal, event.TypeExperimentDecided, "run-1", base.Add(3*time.Minute), event.ExperimentDecidedPayload{
		RunID:     "run-1",
		Action:    "apply",
		Actor:     "u1",
		Rationale: "metrics look good",
	})

	projector := &Projector{Events: journal, Projections: projections}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	state, err := projections.GetActiveControlState(ctx)
	if err != nil {
		t.Fatalf("get active state: %v", err)
	}
	if state.Version != 1 || state.Threshold != 0.6 {
		t.Fatalf("unexpected control state: %+v", state)
	}

	run, err := projections.GetExperimentRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != "applied" {
		t.Fatalf("expected applied, got %s", run.Status)
	}
	if run.Metrics["quality_delta"] != 0.1 {
		t.Fatalf("unexpected metrics: %v", run.Metrics)
	}
	if run.DecidedAt.IsZero() {
		t.Fatal("expected decided at to be set")
	}
	if !run.ProposedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("proposed at should keep the first event time, got %v", run.ProposedAt)
	}
}

// stubJournal serves fabricated events so tests can exercise types the
// append-time validator would reject.
type stubJournal struct {
	events []event.Event
}

func (s *stubJournal) AppendEvent(context.Context, event.Event) (event.Event, error) {
	return event.Event{}, stderrors.New("not implemented")
}

func (s *stubJournal) GetEventByID(context.Context, string) (event.Event, error) {
	return event.Event{}, storage.ErrNotFound
}

func (s *stubJournal) GetEventBySeq(context.Context, uint64) (event.Event, error) {
	return event.Event{}, storage.ErrNotFound
}

func (s *stubJournal) ListEvents(_ context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if afterSeq >= uint64(len(s.events)) {
		return nil, nil
	}
	end := afterSeq + uint64(limit)
	if end > uint64(len(s.events)) {
		end = uint64(len(s.events))
	}
	return s.events[afterSeq:end], nil
}

func (s *stubJournal) LatestEventSeq(context.Context) (uint64, error) {
	return uint64(len(s.events)), nil
}

func (s *stubJournal) VerifyEventIntegrity(context.Context) error { return nil }

func (s *stubJournal) Close() error { return nil }

func TestCatchUpSkipsUnhandledTypes(t *testing.T) {
	ctx := context.Background()
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	journal := &stubJournal{events: []event.Event{
		{
			Seq:         1,
			ID:          "e1",
			Timestamp:   base,
			Type:        event.Type("task.archived"),
			ActorType:   event.ActorTypeUser,
			EntityType:  "task",
			EntityID:    "t1",
			PayloadJSON: []byte(`{}`),
		},
		{
			Seq:         2,
			ID:          "e2",
			Timestamp:   base.Add(time.Minute),
			Type:        event.TypeTaskIngested,
			ActorType:   event.ActorTypeUser,
			EntityType:  "task",
			EntityID:    "t1",
			PayloadJSON: mustMarshal(t, ingestPayload("Review contract", "abc-1")),
		},
	}}

	projector := &Projector{Events: journal, Projections: projections}
	if err := projector.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}

	if _, err := projections.GetTask(ctx, "t1"); err != nil {
		t.Fatalf("later event should still apply: %v", err)
	}
	meta, err := projections.GetProjectionMetadata(ctx)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.LastEventSeq != 2 {
		t.Fatalf("watermark should pass the skipped event, got %d", meta.LastEventSeq)
	}
}

func TestCatchUpStopsOnHandlerError(t *testing.T) {
	ctx := context.Background()
	projections := memory.New()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// A status change for a task that was never ingested fails its handler.
	journal := &stubJournal{events: []event.Event{
		{
			Seq:         1,
			ID:          "e1",
			Timestamp:   base,
			Type:        event.TypeTaskCompleted,
			ActorType:   event.ActorTypeUser,
			EntityType:  "task",
			EntityID:    "ghost",
			PayloadJSON: []byte(`{"rationale":"done"}`),
		},
	}}

	projector := &Projector{Events: journal, Projections: projections}
	if err := projector.CatchUp(ctx); err == nil {
		t.Fatal("expected catch up to fail")
	}

	meta, err := projections.GetProjectionMetadata(ctx)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.LastEventSeq != 0 {
		t.Fatalf("watermark must not advance past a failed event, got %d", meta.LastEventSeq)
	}
}
