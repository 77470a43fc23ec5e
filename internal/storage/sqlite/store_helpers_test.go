package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/minder/internal/domain/event"
)

func openTestEventStore(t *testing.T) *Store {
	t.Helper()
	registry, err := event.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	store, err := OpenEvents(filepath.Join(t.TempDir(), "events.db"), registry)
	if err != nil {
		t.Fatalf("open events store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openTestProjectionStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenProjections(filepath.Join(t.TempDir(), "projections.db"))
	if err != nil {
		t.Fatalf("open projections store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func appendTestIngest(t *testing.T, store *Store, entityID, sourceRef string) event.Event {
	t.Helper()
	evt, err := store.AppendEvent(context.Background(), event.Event{
		Type:       event.TypeTaskIngested,
		ActorType:  event.ActorTypeUser,
		EntityType: "task",
		EntityID:   entityID,
		PayloadJSON: mustMarshal(t, event.TaskIngestedPayload{
			Title:     "Review contract",
			Source:    "api",
			SourceRef: sourceRef,
			Rationale: "ingested from api",
		}),
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	return evt
}

func testTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts.UTC()
}
