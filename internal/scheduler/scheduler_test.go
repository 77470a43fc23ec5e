package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/example/minder/internal/domain/event"
	taskdomain "github.com/example/minder/internal/domain/task"
	"github.com/example/minder/internal/storage/memory"
	"github.com/example/minder/internal/tasks"
)

func TestNewRejectsBadSchedule(t *testing.T) {
	if _, err := New(Config{Schedule: "not a cron spec"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTickWakesDueTasks(t *testing.T) {
	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := tasks.New(tasks.Config{
		Events:      memory.NewEventStore(registry),
		Projections: memory.New(),
		Now:         func() time.Time { return now },
	})
	ctx := context.Background()

	res, err := svc.Ingest(ctx, tasks.IngestInput{
		Title:     "Review contract",
		Source:    "api",
		SourceRef: "abc-1",
		Actor:     "u1",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.Snooze(ctx, res.Task.ID, now.Add(time.Hour), "u1", ""); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	now = now.Add(2 * time.Hour)
	sched, err := New(Config{
		Tasks:    svc,
		Schedule: "*/5 * * * *",
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.tick(ctx)

	rec, err := svc.Get(ctx, res.Task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.Status != taskdomain.StatusOpen {
		t.Fatalf("expected open after tick, got %s", rec.Status)
	}
}

func TestStartStop(t *testing.T) {
	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	svc := tasks.New(tasks.Config{
		Events:      memory.NewEventStore(registry),
		Projections: memory.New(),
	})
	sched, err := New(Config{Tasks: svc, Schedule: "*/5 * * * *"})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	sched.Start(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
